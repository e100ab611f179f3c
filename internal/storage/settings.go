package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/dgnsrekt/auracap/internal/types"
)

const (
	settingCaptureEnabled = "capture_enabled"
	settingMaxRetained    = "max_retained_calls"
)

// LoadSettings reads persisted settings on top of defaults. found reports
// whether any key was present.
func (s *Store) LoadSettings(ctx context.Context, defaults types.Settings) (types.Settings, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return defaults, false, types.NewError(types.CodeStorage, "load settings", err)
	}
	defer rows.Close()

	out := defaults
	found := false
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return defaults, false, types.NewError(types.CodeStorage, "scan setting", err)
		}
		switch key {
		case settingCaptureEnabled:
			if b, err := strconv.ParseBool(value); err == nil {
				out.CaptureEnabled = b
				found = true
			}
		case settingMaxRetained:
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				out.MaxRetainedCalls = n
				found = true
			}
		}
	}
	if err := rows.Err(); err != nil {
		return defaults, false, types.NewError(types.CodeStorage, "load settings", err)
	}
	return out, found, nil
}

// SaveSettings writes all settings keys in one transaction.
func (s *Store) SaveSettings(ctx context.Context, settings types.Settings) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.NewError(types.CodeStorage, "begin settings tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UnixMilli()
	values := map[string]string{
		settingCaptureEnabled: strconv.FormatBool(settings.CaptureEnabled),
		settingMaxRetained:    strconv.Itoa(settings.MaxRetainedCalls),
	}
	for key, value := range values {
		if err = upsertSetting(ctx, tx, key, value, now); err != nil {
			return types.NewError(types.CodeStorage, "save setting "+key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return types.NewError(types.CodeStorage, "commit settings", err)
	}
	return nil
}

func upsertSetting(ctx context.Context, tx *sql.Tx, key, value string, now int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}
