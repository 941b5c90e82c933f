package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"promoshot/internal/config"
	"promoshot/internal/entity"

	"github.com/google/uuid"
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// TerminalEvent announces that the executor finished a request.
type TerminalEvent struct {
	EventID      string                  `json:"event_id"`
	RequestID    uint                    `json:"request_id"`
	OwnerID      uint                    `json:"owner_id"`
	ExecutionRef string                  `json:"execution_ref,omitempty"`
	Status       entity.GenerationStatus `json:"status"`
	Images       []string                `json:"images,omitempty"`
	Payload      any                     `json:"payload,omitempty"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	OccurredAt   time.Time               `json:"occurred_at"`
}

// Normalize fills EventID and OccurredAt when missing.
func (e *TerminalEvent) Normalize() {
	if strings.TrimSpace(e.EventID) == "" {
		e.EventID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
}

// Publisher sends terminal events to every subscriber, possibly on other instances.
type Publisher interface {
	Publish(ctx context.Context, event TerminalEvent) error
}

// Subscriber delivers terminal events until ctx is done; the channel is closed afterwards.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan TerminalEvent, error)
}

// Bus is a publisher and subscriber backed by one transport.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// NewBus creates the bus selected by NOTIFY_DRIVER.
func NewBus(ctx context.Context, cfg config.Config) (Bus, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.NotifyDriver)) {
	case "", DriverMemory:
		return NewMemoryBus(0), nil
	case DriverRedis:
		return NewRedisBus(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Channel:  cfg.RedisChannel,
		})
	case DriverPostgres:
		dsn := strings.TrimSpace(cfg.PGNotifyDSN)
		if dsn == "" {
			dsn = strings.TrimSpace(cfg.DSNURL)
		}
		return NewPostgresBus(ctx, dsn, cfg.PGChannel)
	default:
		return nil, fmt.Errorf("unsupported notify driver: %s", cfg.NotifyDriver)
	}
}
