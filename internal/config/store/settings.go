package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Well-known settings keys.
const (
	KeyRealtimeURL = "realtime_url"
	KeyModel       = "model"
	KeyVoice       = "voice"
	KeyTurnMode    = "turn_mode"
	KeyGreeting    = "greeting"
)

// SecretAPIKey is the secrets-table key holding the service API key.
const SecretAPIKey = "api_key"

// LoadSettings returns key/value settings for the active instance.
// Optional keys limit the selection to specific entries.
func (s *Store) LoadSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	query := `SELECT key, value FROM settings WHERE instance_name = ?`
	args := []any{s.instanceName}

	if len(keys) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(keys)), ",")
		query += fmt.Sprintf(" AND key IN (%s)", placeholders)
		for _, key := range keys {
			args = append(args, key)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("config: scan settings row: %w", err)
		}
		result[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate settings rows: %w", err)
	}

	return result, nil
}

// SaveSettings upserts the provided key/value pairs.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if s.readOnly {
		return fmt.Errorf("config: save settings: store opened read-only")
	}
	if len(values) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO settings (instance_name, key, value, updated_at)
            VALUES (?, ?, ?, CURRENT_TIMESTAMP)
            ON CONFLICT(instance_name, key) DO UPDATE SET
                value = excluded.value,
                updated_at = CURRENT_TIMESTAMP
        `)
		if err != nil {
			return fmt.Errorf("config: prepare save settings: %w", err)
		}
		defer stmt.Close()

		for key, value := range values {
			if _, err := stmt.ExecContext(ctx, s.instanceName, key, value); err != nil {
				return fmt.Errorf("config: exec save setting %q: %w", key, err)
			}
		}
		return nil
	})
}

// SaveSecret stores one secret encrypted at rest.
func (s *Store) SaveSecret(ctx context.Context, key, value string) error {
	if s.readOnly {
		return fmt.Errorf("config: save secret: store opened read-only")
	}
	if s.encryptionKey == nil {
		return fmt.Errorf("config: save secret %q: no encryption key available", key)
	}

	encrypted, err := encryptValue(s.encryptionKey, value)
	if err != nil {
		return fmt.Errorf("config: encrypt secret %q: %w", key, err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO secrets (instance_name, key, value, updated_at)
            VALUES (?, ?, ?, CURRENT_TIMESTAMP)
            ON CONFLICT(instance_name, key) DO UPDATE SET
                value = excluded.value,
                updated_at = CURRENT_TIMESTAMP
        `, s.instanceName, key, encrypted)
		if err != nil {
			return fmt.Errorf("config: exec save secret %q: %w", key, err)
		}
		return nil
	})
}

// LoadSecret returns one decrypted secret. A missing secret yields an empty
// string and no error.
func (s *Store) LoadSecret(ctx context.Context, key string) (string, error) {
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM secrets WHERE instance_name = ? AND key = ?`,
		s.instanceName, key,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("config: load secret %q: %w", key, err)
	}

	if s.encryptionKey == nil {
		return "", fmt.Errorf("config: secret %q is encrypted but no decryption key is available", key)
	}
	return decryptValue(s.encryptionKey, stored)
}
