package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bellabot/bella/internal/plugin"
)

// KVStore holds per-plugin key-value data.
type KVStore struct {
	db *DB
}

// NewKVStore creates a key-value store using the given database.
func NewKVStore(db *DB) *KVStore {
	return &KVStore{db: db}
}

// For returns the storage view of one plugin.
func (s *KVStore) For(pluginID string) plugin.Storage {
	return &pluginStorage{db: s.db, plugin: pluginID}
}

// Keys lists a plugin's keys in order.
func (s *KVStore) Keys(ctx context.Context, pluginID string) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT key FROM plugin_kv WHERE plugin_id = ? ORDER BY key`, pluginID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeletePlugin removes all data of a plugin.
func (s *KVStore) DeletePlugin(ctx context.Context, pluginID string) (int64, error) {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM plugin_kv WHERE plugin_id = ?`, pluginID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type pluginStorage struct {
	db     *DB
	plugin string
}

func (p *pluginStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := p.db.sql.QueryRowContext(ctx,
		`SELECT value FROM plugin_kv WHERE plugin_id = ? AND key = ?`, p.plugin, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s/%s: %w", p.plugin, key, err)
	}
	return v, true, nil
}

func (p *pluginStorage) Set(ctx context.Context, key, value string) error {
	_, err := p.db.sql.ExecContext(ctx,
		`INSERT INTO plugin_kv (plugin_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(plugin_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		p.plugin, key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", p.plugin, key, err)
	}
	return nil
}

func (p *pluginStorage) Delete(ctx context.Context, key string) error {
	_, err := p.db.sql.ExecContext(ctx,
		`DELETE FROM plugin_kv WHERE plugin_id = ? AND key = ?`, p.plugin, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", p.plugin, key, err)
	}
	return nil
}
