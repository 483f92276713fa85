package sourcedb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Notification is one decoded NOTIFY payload from the trigger function
// (§4.1.1): {xmin, new, old, indices, tg_op, table, schema}.
type Notification struct {
	Xmin    int64            `json:"xmin"`
	New     map[string]any   `json:"new"`
	Old     map[string]any   `json:"old"`
	Indices []string         `json:"indices"`
	TgOp    string           `json:"tg_op"`
	Table   string           `json:"table"`
	Schema  string           `json:"schema"`
}

// Listener holds a dedicated, AUTOCOMMIT connection LISTENing on the
// database-name channel (§4.5.1 producer).
type Listener struct {
	conn    *pgx.Conn
	channel string
}

// Listen opens a dedicated connection (outside the pool, since LISTEN
// requires a session-scoped connection) and issues LISTEN <channel>
// (§4.1 "listen"). channel is conventionally the database name.
func (a *Adapter) Listen(ctx context.Context, dsn, channel string) (*Listener, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(`LISTEN %s`, pgx.Identifier{channel}.Sanitize())); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	return &Listener{conn: conn, channel: channel}, nil
}

// Close releases the listener's connection.
func (l *Listener) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}

// WaitForNotification blocks until a notification arrives, ctx is
// canceled, or the poll timeout elapses (whichever comes first) — the
// listener's suspension point (§5 "Listener blocks on select-style wait for
// NOTIFY with timeout").
func (l *Listener) WaitForNotification(ctx context.Context) (*Notification, error) {
	n, err := l.conn.WaitForNotification(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("wait for notification: %w", err)
	}
	var decoded Notification
	if err := json.Unmarshal([]byte(n.Payload), &decoded); err != nil {
		return nil, fmt.Errorf("decode notification payload: %w", err)
	}
	return &decoded, nil
}
