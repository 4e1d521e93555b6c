package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LoadOffset returns the saved update offset of channel, or 0 when none
// has been saved yet.
func (d *DB) LoadOffset(ctx context.Context, channel string) (int64, error) {
	var offset int64
	err := d.db.QueryRowContext(ctx,
		`SELECT last_offset FROM channel_offsets WHERE channel = ?`, channel,
	).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load offset for %s: %w", channel, err)
	}
	return offset, nil
}

// SaveOffset stores the update offset of channel.
func (d *DB) SaveOffset(ctx context.Context, channel string, offset int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO channel_offsets (channel, last_offset, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET last_offset = excluded.last_offset, updated_at = excluded.updated_at`,
		channel, offset, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save offset for %s: %w", channel, err)
	}
	return nil
}
