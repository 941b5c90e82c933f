package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// pg_notify 负载上限为 8000 字节
const maxNotifyPayload = 7900

type postgresBus struct {
	pool    *pgxpool.Pool
	channel string
}

// NewPostgresBus publishes with pg_notify and subscribes with LISTEN on a dedicated connection.
func NewPostgresBus(ctx context.Context, dsn, channel string) (Bus, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("missing PG_NOTIFY_DSN")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "generation_events"
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &postgresBus{pool: pool, channel: channel}, nil
}

func (b *postgresBus) Publish(ctx context.Context, event TerminalEvent) error {
	if b == nil || b.pool == nil {
		return errors.New("postgres bus not initialized")
	}
	event.Normalize()
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if len(raw) > maxNotifyPayload {
		// 负载过大时丢弃原始 payload，只保留已解析的图片
		event.Payload = nil
		if raw, err = json.Marshal(event); err != nil {
			return err
		}
		if len(raw) > maxNotifyPayload {
			return fmt.Errorf("event %s exceeds notify payload limit", event.EventID)
		}
	}
	_, err = b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, string(raw))
	return err
}

func (b *postgresBus) Subscribe(ctx context.Context) (<-chan TerminalEvent, error) {
	if b == nil || b.pool == nil {
		return nil, errors.New("postgres bus not initialized")
	}
	pooled, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	// LISTEN 状态不能回到连接池，取出连接单独管理
	conn := pooled.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", b.channel, err)
	}

	out := make(chan TerminalEvent, defaultSubscriberBuffer)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())
		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logrus.WithError(err).Warn("notify: postgres listener stopped")
				}
				return
			}
			var event TerminalEvent
			if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
				logrus.WithError(err).Warn("notify: bad postgres event payload")
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *postgresBus) Close() error {
	if b == nil || b.pool == nil {
		return nil
	}
	b.pool.Close()
	return nil
}
