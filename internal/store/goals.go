package store

import (
	"fmt"
	"time"
)

// Goal is a per-goal allocation row. A fixed goal derives its percentage
// from current balance rather than a stored target, so TargetPercent is
// meaningful only when Fixed is false.
type Goal struct {
	ID            string
	TargetPercent float64
	Fixed         bool
	UpdatedAt     time.Time
}

// UpsertGoal inserts or updates a goal row.
func (d *DB) UpsertGoal(g Goal) error {
	fixed := 0
	if g.Fixed {
		fixed = 1
	}
	updatedAt := g.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := d.conn.Exec(
		`INSERT INTO goals (id, target_percent, fixed, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			target_percent = excluded.target_percent,
			fixed = excluded.fixed,
			updated_at = excluded.updated_at`,
		g.ID, g.TargetPercent, fixed, updatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListGoals returns all goal rows ordered by id.
func (d *DB) ListGoals() ([]Goal, error) {
	rows, err := d.conn.Query("SELECT id, target_percent, fixed, updated_at FROM goals ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		var g Goal
		var fixed int
		var updatedAt string
		if err := rows.Scan(&g.ID, &g.TargetPercent, &fixed, &updatedAt); err != nil {
			return nil, err
		}
		g.Fixed = fixed != 0
		g.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// DeleteGoal removes a goal row. Returns the number of rows deleted.
func (d *DB) DeleteGoal(id string) (int64, error) {
	result, err := d.conn.Exec("DELETE FROM goals WHERE id = ?", id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ReplaceGoals replaces the entire goals table with the given rows in a
// single transaction. Used when applying a downloaded snapshot.
func (d *DB) ReplaceGoals(goals []Goal) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM goals"); err != nil {
		return fmt.Errorf("clearing goals: %w", err)
	}
	for _, g := range goals {
		fixed := 0
		if g.Fixed {
			fixed = 1
		}
		updatedAt := g.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}
		if _, err := tx.Exec(
			"INSERT INTO goals (id, target_percent, fixed, updated_at) VALUES (?, ?, ?, ?)",
			g.ID, g.TargetPercent, fixed, updatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("inserting goal %s: %w", g.ID, err)
		}
	}
	return tx.Commit()
}
