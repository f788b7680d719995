package sync

import "context"

// Resolution choices for a surfaced conflict.
const (
	ResolveLocal  = "local"
	ResolveRemote = "remote"
)

// Resolve settles a previously surfaced conflict. 'local' uploads the local
// snapshot over the server copy; 'remote' applies the server snapshot to
// local storage. Either way the winning timestamp and hash become the new
// baseline and the engine returns to StatusSuccess, or StatusError with the
// usual metadata on failure.
func (o *Orchestrator) Resolve(ctx context.Context, choice string, c *Conflict) error {
	if c == nil {
		return ErrNoConflict
	}
	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		return ErrSyncInProgress
	}
	o.syncing = true
	o.mu.Unlock()

	err := o.resolve(ctx, choice, c)

	o.mu.Lock()
	o.syncing = false
	if err != nil {
		o.status = StatusError
		o.lastError = o.errorState(err)
	} else {
		o.status = StatusSuccess
		o.lastError = nil
		o.conflict = nil
	}
	status := o.status
	o.mu.Unlock()

	o.notifyStatus(status)
	return err
}

func (o *Orchestrator) resolve(ctx context.Context, choice string, c *Conflict) error {
	switch choice {
	case ResolveLocal:
		return o.upload(ctx, c.Local, c.LocalHash)
	case ResolveRemote:
		rec := &Record{
			DeviceID:  c.RemoteDeviceID,
			Timestamp: c.RemoteTimestamp,
			Version:   c.Remote.Version,
		}
		return o.applyRemote(rec, c.Remote, c.RemoteHash)
	default:
		return ErrInvalidResolution
	}
}
