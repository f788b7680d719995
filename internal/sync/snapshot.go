package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lovincyrus/goalsync/internal/crypto"
	"github.com/lovincyrus/goalsync/internal/store"
)

const snapshotVersion = 1

// CollectSnapshot builds a fresh snapshot from the locally stored goals.
// Snapshots are never cached between syncs.
func CollectSnapshot(db *store.DB, now time.Time) (Snapshot, error) {
	goals, err := db.ListGoals()
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing goals: %w", err)
	}

	snap := Snapshot{
		Version:     snapshotVersion,
		GoalTargets: map[string]float64{},
		GoalFixed:   map[string]bool{},
		Timestamp:   now.UnixMilli(),
	}
	for _, g := range goals {
		if g.Fixed {
			snap.GoalFixed[g.ID] = true
		} else {
			snap.GoalTargets[g.ID] = g.TargetPercent
		}
	}
	return snap, nil
}

// ApplySnapshot replaces the locally stored goals with the snapshot's
// contents.
func ApplySnapshot(db *store.DB, snap Snapshot) error {
	goals := make([]store.Goal, 0, len(snap.GoalTargets)+len(snap.GoalFixed))
	for id, target := range snap.GoalTargets {
		goals = append(goals, store.Goal{ID: id, TargetPercent: target})
	}
	for id, fixed := range snap.GoalFixed {
		if fixed {
			goals = append(goals, store.Goal{ID: id, Fixed: true})
		}
	}
	if err := db.ReplaceGoals(goals); err != nil {
		return fmt.Errorf("applying snapshot: %w", err)
	}
	return nil
}

// ContentHash returns the hash of the snapshot's content, excluding the
// timestamp. Two snapshots with the same goals hash identically no matter
// when they were collected; encoding/json emits map keys sorted, so the
// encoding is canonical.
func (s Snapshot) ContentHash() string {
	content := struct {
		Version     int                `json:"version"`
		GoalTargets map[string]float64 `json:"goalTargets"`
		GoalFixed   map[string]bool    `json:"goalFixed"`
	}{s.Version, s.GoalTargets, s.GoalFixed}

	data, _ := json.Marshal(content)
	return crypto.Hash(string(data))
}

// Encode serializes the snapshot for encryption.
func (s Snapshot) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	return string(data), nil
}

// DecodeSnapshot parses a decrypted snapshot payload.
func DecodeSnapshot(data string) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return Snapshot{}, &Error{Kind: KindParse, Code: "INVALID_SNAPSHOT",
			Message: "malformed snapshot payload", Err: err}
	}
	if snap.GoalTargets == nil {
		snap.GoalTargets = map[string]float64{}
	}
	if snap.GoalFixed == nil {
		snap.GoalFixed = map[string]bool{}
	}
	return snap, nil
}
