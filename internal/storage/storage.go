package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smartdevs17/pool-listener/internal/models"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when a write violates a uniqueness guarantee.
	ErrDuplicateKey = errors.New("duplicate key")
)

const cursorKey = "last_processed_block"

// Storage defines the persistent store for pools, notifications and the
// discovery cursor. Implementations are safe for concurrent use.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Pool operations
	UpsertPoolIfAbsent(ctx context.Context, pool *models.Pool) (bool, error)
	UpdateLiquidity(ctx context.Context, address string, liquidity decimal.Decimal, checkedAt time.Time) error
	// TransitionToTradeable atomically moves a discovered pool to tradeable.
	// It returns false with no error when the pool was already tradeable.
	TransitionToTradeable(ctx context.Context, address string) (bool, error)
	GetPool(ctx context.Context, address string) (*models.Pool, error)
	ListPools(ctx context.Context, filter models.PoolFilter) ([]*models.Pool, error)
	// ListNonTradeablePools returns discovered pools never checked or last
	// checked before olderThan, least recently checked first.
	ListNonTradeablePools(ctx context.Context, olderThan time.Time) ([]*models.Pool, error)
	CountNonTradeablePools(ctx context.Context) (int64, error)

	// Notification operations
	RecordNotification(ctx context.Context, notification *models.Notification) error
	ListNotifications(ctx context.Context, filter models.NotificationFilter) ([]*models.Notification, error)

	// Cursor operations
	GetCursor(ctx context.Context) (uint64, bool, error)
	SetCursor(ctx context.Context, block uint64) error

	// Statistics and monitoring
	GetStats(ctx context.Context) (*models.PoolStats, error)
	GetHealth() *StorageHealth
}

// StorageHealth reports storage connectivity
type StorageHealth struct {
	Healthy   bool      `json:"healthy"`
	Type      string    `json:"type"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleConns     int           `json:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `json:"conn_max_lifetime"`
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func prepareNewPool(pool *models.Pool, now time.Time) {
	if pool.State == "" {
		pool.State = models.PoolStateDiscovered
	}
	if pool.CreatedAt.IsZero() {
		pool.CreatedAt = now
	}
	pool.UpdatedAt = now
}
