package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hray3182/habitline/internal/database"
	"github.com/hray3182/habitline/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChangeChannel is the NOTIFY channel fed by the reminders trigger.
const ChangeChannel = "reminder_changes"

// OpReconnect is emitted after the feed re-establishes its listener. Changes
// may have been missed while it was down.
const OpReconnect = "RECONNECT"

// ChangeFeed streams row changes on the reminders table for every user.
type ChangeFeed struct {
	db         *database.DB
	log        *zap.SugaredLogger
	retryDelay time.Duration
	connect    func(ctx context.Context) (notificationConn, error)
}

// notificationConn is a connection listening on ChangeChannel.
type notificationConn interface {
	Wait(ctx context.Context) (string, error)
	Close()
}

func NewChangeFeed(db *database.DB, logger *zap.SugaredLogger) *ChangeFeed {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f := &ChangeFeed{db: db, log: logger, retryDelay: 5 * time.Second}
	f.connect = f.listenConn
	return f
}

// Listen streams change events until ctx is cancelled. The listener is
// re-established after connection errors, followed by an OpReconnect event.
func (f *ChangeFeed) Listen(ctx context.Context) <-chan models.ChangeEvent {
	out := make(chan models.ChangeEvent, 16)

	go func() {
		defer close(out)
		listened := false
		for {
			conn, err := f.connect(ctx)
			if err == nil {
				if listened && !send(ctx, out, models.ChangeEvent{Op: OpReconnect}) {
					conn.Close()
					return
				}
				listened = true
				err = f.pump(ctx, conn, out)
				conn.Close()
			}
			if ctx.Err() != nil {
				return
			}
			f.log.Warnw("Reminder change feed interrupted", "error", err, "retry_in", f.retryDelay)

			select {
			case <-ctx.Done():
				return
			case <-time.After(f.retryDelay):
			}
		}
	}()
	return out
}

// pump forwards notifications from conn until it fails or ctx ends.
func (f *ChangeFeed) pump(ctx context.Context, conn notificationConn, out chan<- models.ChangeEvent) error {
	for {
		payload, err := conn.Wait(ctx)
		if err != nil {
			return err
		}
		event, err := decodeChange(payload)
		if err != nil {
			f.log.Warnw("Ignoring malformed reminder change", "payload", payload, "error", err)
			continue
		}
		if !send(ctx, out, event) {
			return ctx.Err()
		}
	}
}

type pgNotificationConn struct {
	conn *pgxpool.Conn
}

func (f *ChangeFeed) listenConn(ctx context.Context) (notificationConn, error) {
	conn, err := f.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", ChangeChannel, err)
	}
	f.log.Infow("Listening for reminder changes", "channel", ChangeChannel)
	return &pgNotificationConn{conn: conn}, nil
}

func (c *pgNotificationConn) Wait(ctx context.Context) (string, error) {
	n, err := c.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", fmt.Errorf("wait for notification: %w", err)
	}
	return n.Payload, nil
}

// Close unlistens and returns the connection to the pool. A connection that
// cannot unlisten is closed instead.
func (c *pgNotificationConn) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.conn.Exec(ctx, "UNLISTEN *"); err != nil {
		c.conn.Conn().Close(ctx)
	}
	c.conn.Release()
}

func send(ctx context.Context, out chan<- models.ChangeEvent, event models.ChangeEvent) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func decodeChange(payload string) (models.ChangeEvent, error) {
	var event models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return event, fmt.Errorf("decode change: %w", err)
	}
	if event.Op == "" {
		return event, fmt.Errorf("decode change: missing op")
	}
	return event, nil
}
