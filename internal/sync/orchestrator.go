package sync

import (
	"context"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lovincyrus/goalsync/internal/crypto"
	"github.com/lovincyrus/goalsync/internal/store"
)

// Orchestrator drives the upload/download/conflict protocol. At most one
// PerformSync runs at a time; a concurrent call fails immediately with
// ErrSyncInProgress rather than queuing.
type Orchestrator struct {
	db     *store.DB
	creds  *CredentialManager
	tokens *TokenStore
	client *Client
	logger *log.Logger
	now    func() time.Time

	mu        sync.Mutex
	syncing   bool
	status    Status
	lastError *ErrorState
	conflict  *Conflict

	// OnStatus is invoked on every status transition. OnConflict is invoked
	// when a sync surfaces a conflict requiring user resolution. Both are
	// called outside the orchestrator's lock and may be nil.
	OnStatus   func(Status)
	OnConflict func(*Conflict)
}

// NewOrchestrator creates an orchestrator. If logger is nil a default
// logger writing to stderr is used.
func NewOrchestrator(db *store.DB, creds *CredentialManager, tokens *TokenStore, client *Client, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Orchestrator{
		db:     db,
		creds:  creds,
		tokens: tokens,
		client: client,
		logger: logger,
		now:    func() time.Time { return time.Now() },
		status: StatusIdle,
	}
}

// Status returns the current engine status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// LastError returns the structured metadata of the most recent failure, or
// nil if the last sync succeeded.
func (o *Orchestrator) LastError() *ErrorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastError == nil {
		return nil
	}
	cp := *o.lastError
	return &cp
}

// PendingConflict returns the unresolved conflict surfaced by the last
// sync, if any.
func (o *Orchestrator) PendingConflict() *Conflict {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conflict
}

// DeviceID returns this client's persistent device id, generating and
// storing one on first use.
func (o *Orchestrator) DeviceID() (string, error) {
	id, err := o.db.GetSetting(store.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := o.db.SetSetting(store.KeyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// PerformSync runs one synchronization pass. Conflicts are not errors: a
// surfaced conflict leaves the engine in StatusConflict with a nil return,
// and the caller resolves it via Resolve.
func (o *Orchestrator) PerformSync(ctx context.Context, opts Options) error {
	if opts.Direction == "" {
		opts.Direction = DirectionBoth
	}

	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		return ErrSyncInProgress
	}
	o.syncing = true
	o.status = StatusSyncing
	o.mu.Unlock()
	o.notifyStatus(StatusSyncing)

	conflict, err := o.sync(ctx, opts)

	o.mu.Lock()
	o.syncing = false
	switch {
	case err != nil:
		o.status = StatusError
		o.lastError = o.errorState(err)
		o.conflict = nil
	case conflict != nil:
		o.status = StatusConflict
		o.lastError = nil
		o.conflict = conflict
	default:
		o.status = StatusSuccess
		o.lastError = nil
		o.conflict = nil
	}
	status := o.status
	o.mu.Unlock()

	o.notifyStatus(status)
	if conflict != nil && err == nil && o.OnConflict != nil {
		o.OnConflict(conflict)
	}
	return err
}

func (o *Orchestrator) sync(ctx context.Context, opts Options) (*Conflict, error) {
	if err := o.checkPreconditions(); err != nil {
		return nil, err
	}

	local, err := CollectSnapshot(o.db, o.now())
	if err != nil {
		return nil, err
	}
	localHash := local.ContentHash()

	// If nothing changed since the last successful sync, reuse its
	// timestamp. A fresh timestamp for identical content would make this
	// device look newer than it is and manufacture conflicts later.
	lastHash, lastTime, err := o.baseline()
	if err != nil {
		return nil, err
	}
	if localHash == lastHash && lastTime != 0 {
		local.Timestamp = lastTime
	}

	switch opts.Direction {
	case DirectionUpload:
		return nil, o.upload(ctx, local, localHash)
	case DirectionDownload:
		return nil, o.downloadAndApply(ctx)
	default:
		return o.syncBoth(ctx, local, localHash, opts.Force)
	}
}

// syncBoth implements the default bidirectional flow: download first, then
// decide between no-op, upload, apply, or conflict.
func (o *Orchestrator) syncBoth(ctx context.Context, local Snapshot, localHash string, force bool) (*Conflict, error) {
	rec, err := o.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// Nothing on the server yet: bootstrap with the local snapshot.
		return nil, o.upload(ctx, local, localHash)
	}

	remote, err := o.decryptRecord(rec)
	if err != nil {
		return nil, err
	}
	remoteHash := remote.ContentHash()

	if remoteHash == localHash {
		// Content-identical regardless of which device wrote last. Record
		// the later of the two timestamps as the shared baseline.
		ts := local.Timestamp
		if rec.Timestamp > ts {
			ts = rec.Timestamp
		}
		return nil, o.recordBaseline(ts, localHash)
	}

	deviceID, err := o.DeviceID()
	if err != nil {
		return nil, err
	}

	if !force {
		if c := detectConflict(local, localHash, rec, remote, remoteHash, deviceID); c != nil {
			return c, nil
		}
	}

	// Last-writer-wins by timestamp.
	switch {
	case local.Timestamp > rec.Timestamp:
		return nil, o.upload(ctx, local, localHash)
	case local.Timestamp < rec.Timestamp:
		return nil, o.applyRemote(rec, remote, remoteHash)
	default:
		// Equal timestamps: already in sync.
		return nil, o.recordBaseline(local.Timestamp, localHash)
	}
}

// detectConflict decides whether uploading the local snapshot would clobber
// a newer foreign write. The heuristic is deliberately asymmetric: a local
// state that looks newer than the remote is treated as authoritative and
// never blocks, favoring availability over strict consistency.
func detectConflict(local Snapshot, localHash string, rec *Record, remote Snapshot, remoteHash, deviceID string) *Conflict {
	if rec == nil {
		return nil
	}
	// Content equality wins over device/timestamp heuristics.
	if localHash == remoteHash {
		return nil
	}
	// The last remote write was this device's own prior upload.
	if rec.DeviceID == deviceID {
		return nil
	}
	// Local view is stale relative to a foreign write.
	if local.Timestamp < rec.Timestamp {
		return &Conflict{
			Local:           local,
			Remote:          remote,
			LocalTimestamp:  local.Timestamp,
			RemoteTimestamp: rec.Timestamp,
			RemoteDeviceID:  rec.DeviceID,
			LocalHash:       localHash,
			RemoteHash:      remoteHash,
		}
	}
	return nil
}

func (o *Orchestrator) upload(ctx context.Context, snap Snapshot, hash string) error {
	key := o.creds.MasterKey()
	if key == nil {
		return ErrEncryptionKeyRequired
	}

	plaintext, err := snap.Encode()
	if err != nil {
		return err
	}
	blob, err := crypto.Encrypt(plaintext, key)
	if err != nil {
		return &Error{Kind: KindCrypto, Code: "ENCRYPTION_FAILED",
			Message: "could not encrypt settings", Err: err}
	}

	deviceID, err := o.DeviceID()
	if err != nil {
		return err
	}
	serverURL, userID, err := o.endpoint()
	if err != nil {
		return err
	}
	access, err := o.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	rec := Record{
		EncryptedData: blob,
		DeviceID:      deviceID,
		Timestamp:     snap.Timestamp,
		Version:       snap.Version,
	}
	if err := o.client.Upload(ctx, serverURL, access, userID, rec); err != nil {
		return err
	}
	o.logger.Printf("uploaded snapshot (ts=%d)", snap.Timestamp)
	return o.recordBaseline(snap.Timestamp, hash)
}

func (o *Orchestrator) downloadAndApply(ctx context.Context) error {
	rec, err := o.fetch(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		// Nothing to download is a success, not an error.
		return nil
	}
	remote, err := o.decryptRecord(rec)
	if err != nil {
		return err
	}
	return o.applyRemote(rec, remote, remote.ContentHash())
}

func (o *Orchestrator) applyRemote(rec *Record, remote Snapshot, remoteHash string) error {
	if err := ApplySnapshot(o.db, remote); err != nil {
		return err
	}
	o.logger.Printf("applied remote snapshot from %s (ts=%d)", rec.DeviceID, rec.Timestamp)
	return o.recordBaseline(rec.Timestamp, remoteHash)
}

func (o *Orchestrator) fetch(ctx context.Context) (*Record, error) {
	serverURL, userID, err := o.endpoint()
	if err != nil {
		return nil, err
	}
	access, err := o.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return o.client.Download(ctx, serverURL, access, userID)
}

func (o *Orchestrator) decryptRecord(rec *Record) (Snapshot, error) {
	key := o.creds.MasterKey()
	if key == nil {
		return Snapshot{}, ErrEncryptionKeyRequired
	}
	plaintext, err := crypto.Decrypt(rec.EncryptedData, key)
	if err != nil {
		return Snapshot{}, &Error{Kind: KindCrypto, Code: "DECRYPTION_FAILED",
			Message: "could not decrypt server data, wrong password?", Err: err}
	}
	return DecodeSnapshot(plaintext)
}

func (o *Orchestrator) checkPreconditions() error {
	enabled, err := o.db.GetSetting(store.KeySyncEnabled)
	if err != nil {
		return err
	}
	serverURL, _ := o.db.GetSetting(store.KeyServerURL)
	userID, _ := o.db.GetSetting(store.KeyUserID)
	if enabled != "true" || serverURL == "" || userID == "" {
		return ErrNotConfigured
	}
	if !o.tokens.HasValidRefreshToken() {
		return ErrSessionExpired
	}
	if !o.creds.HasSessionKey() {
		return ErrEncryptionKeyRequired
	}
	return nil
}

func (o *Orchestrator) endpoint() (serverURL, userID string, err error) {
	serverURL, err = o.db.GetSetting(store.KeyServerURL)
	if err != nil {
		return "", "", err
	}
	userID, err = o.db.GetSetting(store.KeyUserID)
	if err != nil {
		return "", "", err
	}
	if serverURL == "" || userID == "" {
		return "", "", ErrNotConfigured
	}
	return serverURL, userID, nil
}

func (o *Orchestrator) baseline() (hash string, timestamp int64, err error) {
	hash, err = o.db.GetSetting(store.KeyLastSyncHash)
	if err != nil {
		return "", 0, err
	}
	raw, err := o.db.GetSetting(store.KeyLastSyncTime)
	if err != nil {
		return "", 0, err
	}
	timestamp, _ = strconv.ParseInt(raw, 10, 64)
	return hash, timestamp, nil
}

func (o *Orchestrator) recordBaseline(timestamp int64, hash string) error {
	if err := o.db.SetSetting(store.KeyLastSyncTime, strconv.FormatInt(timestamp, 10)); err != nil {
		return err
	}
	return o.db.SetSetting(store.KeyLastSyncHash, hash)
}

func (o *Orchestrator) errorState(err error) *ErrorState {
	c := Classify(err)
	return &ErrorState{
		Category:          c.Category,
		UserMessage:       c.UserMessage,
		PrimaryAction:     c.PrimaryAction,
		RetryAfterSeconds: c.RetryAfterSeconds,
		LastAttemptAt:     o.now(),
	}
}

func (o *Orchestrator) notifyStatus(s Status) {
	if o.OnStatus != nil {
		o.OnStatus(s)
	}
}
