package store

import "database/sql"

// Keys in the sync_settings table. The sync engine treats the table as a
// plain get/set/delete contract; these constants are the full inventory.
const (
	KeySyncEnabled      = "sync_enabled"
	KeyServerURL        = "server_url"
	KeyUserID           = "user_id"
	KeyDeviceID         = "device_id"
	KeyLastSyncTime     = "last_sync_time"
	KeyLastSyncHash     = "last_sync_hash"
	KeyAutoSyncEnabled  = "auto_sync_enabled"
	KeyAutoSyncInterval = "auto_sync_interval_minutes"
	KeyAccessToken      = "access_token"
	KeyAccessExpiry     = "access_token_expires_at"
	KeyRefreshToken     = "refresh_token"
	KeyRefreshExpiry    = "refresh_token_expires_at"
	KeyRememberKey      = "remember_key"
	KeyRememberedKey    = "remembered_master_key"
)

// SetSetting upserts a key-value pair in sync_settings.
func (d *DB) SetSetting(key, value string) error {
	_, err := d.conn.Exec(
		`INSERT INTO sync_settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetSetting retrieves a value by key. Returns empty string if not found.
func (d *DB) GetSetting(key string) (string, error) {
	var value string
	err := d.conn.QueryRow("SELECT value FROM sync_settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// DeleteSetting removes a key. Deleting an absent key is not an error.
func (d *DB) DeleteSetting(key string) error {
	_, err := d.conn.Exec("DELETE FROM sync_settings WHERE key = ?", key)
	return err
}
