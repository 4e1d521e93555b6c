package store

import (
	"context"
	"fmt"
	"time"
)

// DispatchEntry is one row of the dispatch audit log.
type DispatchEntry struct {
	ID          int64     `json:"id"`
	DispatchID  string    `json:"dispatch_id"`
	Channel     string    `json:"channel"`
	ChatID      string    `json:"chat_id"`
	MsgID       string    `json:"msg_id"`
	StateBefore string    `json:"state_before"`
	StateAfter  string    `json:"state_after"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecordDispatch appends an entry and trims the log to the configured
// number of rows.
func (d *DB) RecordDispatch(ctx context.Context, e DispatchEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO dispatch_log
			(dispatch_id, channel, chat_id, msg_id, state_before, state_after, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DispatchID, e.Channel, e.ChatID, e.MsgID,
		e.StateBefore, e.StateAfter, e.Outcome, e.Error,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		DELETE FROM dispatch_log WHERE id <= (
			SELECT id FROM dispatch_log ORDER BY id DESC LIMIT 1 OFFSET ?
		)`, d.maxLogRows)
	if err != nil {
		return fmt.Errorf("trim dispatch log: %w", err)
	}
	return nil
}

// RecentDispatches returns up to limit entries, newest first. A non-empty
// channel restricts the result to that channel.
func (d *DB) RecentDispatches(ctx context.Context, channel string, limit int) ([]DispatchEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, dispatch_id, channel, chat_id, msg_id, state_before, state_after, outcome, error, created_at
		FROM dispatch_log
		WHERE ? = '' OR channel = ?
		ORDER BY id DESC
		LIMIT ?`, channel, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatch log: %w", err)
	}
	defer rows.Close()

	var out []DispatchEntry
	for rows.Next() {
		var e DispatchEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DispatchID, &e.Channel, &e.ChatID, &e.MsgID,
			&e.StateBefore, &e.StateAfter, &e.Outcome, &e.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dispatch row: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
