package sync

// Status is the orchestrator's externally visible state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusSyncing  Status = "syncing"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusConflict Status = "conflict"
)

// Direction selects which half of the protocol to run.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
	DirectionBoth     Direction = "both"
)

// Options controls a single PerformSync run.
type Options struct {
	Direction Direction
	// Force skips conflict surfacing and falls back to last-writer-wins
	// timestamp comparison.
	Force bool
}

// Snapshot is the serializable local configuration subject to sync.
// A goal appears in exactly one of GoalTargets or GoalFixed: fixed goals
// derive their percentage from current balance, not a stored target.
type Snapshot struct {
	Version     int                `json:"version"`
	GoalTargets map[string]float64 `json:"goalTargets"`
	GoalFixed   map[string]bool    `json:"goalFixed"`
	Timestamp   int64              `json:"timestamp"` // unix milliseconds
}

// Record is the server-held sync record. EncryptedData is opaque to the
// server; the metadata drives conflict detection.
type Record struct {
	EncryptedData string `json:"encryptedData"`
	DeviceID      string `json:"deviceId"`
	Timestamp     int64  `json:"timestamp"` // unix milliseconds
	Version       int    `json:"version"`
}

// Conflict describes a detected local/remote divergence requiring an
// explicit user decision.
type Conflict struct {
	Local           Snapshot
	Remote          Snapshot
	LocalTimestamp  int64
	RemoteTimestamp int64
	RemoteDeviceID  string
	LocalHash       string
	RemoteHash      string
}
