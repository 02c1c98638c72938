package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

const pqUniqueViolation = "23505"

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
	}
	if p.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(p.config.ConnMaxLifetime)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	p.logger.Info("Starting PostgreSQL database migrations")
	if err := applyMigrations(p.db, postgresMigrationDialect, p.migrations, p.logger); err != nil {
		return err
	}
	p.logger.Info("PostgreSQL database migrations completed")
	return nil
}

// UpsertPoolIfAbsent inserts pool unless a pool with the same address exists
func (p *PostgreSQLStorage) UpsertPoolIfAbsent(ctx context.Context, pool *models.Pool) (bool, error) {
	if pool == nil || pool.Address == "" {
		return false, utils.NewAppError(utils.ErrCodeValidation, "Pool address is required", "")
	}
	now := time.Now().UTC()
	prepareNewPool(pool, now)

	query := `
		INSERT INTO pools
		(address, token_a, token_b, fee_tier, tick_spacing, discovered_at_block, creation_tx_hash,
		 current_liquidity, state, last_checked_at, tradeable_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (address) DO NOTHING
	`

	res, err := p.db.ExecContext(ctx, query,
		pool.Address, pool.TokenA, pool.TokenB, int64(pool.FeeTier), pool.TickSpacing,
		int64(pool.DiscoveredAtBlock), pool.CreationTxHash, pool.CurrentLiquidity.String(), string(pool.State),
		pool.LastCheckedAt, pool.TradeableAt, pool.CreatedAt, pool.UpdatedAt)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert pool", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read upsert result", err.Error())
	}
	return n == 1, nil
}

// UpdateLiquidity records a liquidity sample for a pool
func (p *PostgreSQLStorage) UpdateLiquidity(ctx context.Context, address string, liquidity decimal.Decimal, checkedAt time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE pools SET current_liquidity = $1, last_checked_at = $2, updated_at = NOW() WHERE address = $3`,
		liquidity.String(), checkedAt, address)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update liquidity", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read update result", err.Error())
	}
	if n == 0 {
		return utils.WrapError(utils.ErrCodeNotFound, "Pool not found", ErrNotFound)
	}
	return nil
}

// TransitionToTradeable moves a discovered pool to tradeable exactly once.
// The row lock taken by UPDATE serialises concurrent callers; the loser
// re-evaluates the predicate and affects zero rows.
func (p *PostgreSQLStorage) TransitionToTradeable(ctx context.Context, address string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE pools SET state = 'tradeable', tradeable_at = NOW(), updated_at = NOW()
		 WHERE address = $1 AND state = 'discovered'`, address)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to transition pool", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read transition result", err.Error())
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	err = p.db.QueryRowContext(ctx, `SELECT 1 FROM pools WHERE address = $1`, address).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, utils.WrapError(utils.ErrCodeNotFound, "Pool not found", ErrNotFound)
	}
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to check pool", err.Error())
	}
	return false, nil
}

// GetPool retrieves a pool by address
func (p *PostgreSQLStorage) GetPool(ctx context.Context, address string) (*models.Pool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+postgresPoolColumns+` FROM pools WHERE address = $1`, address)
	pool, err := scanPostgresPool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.WrapError(utils.ErrCodeNotFound, "Pool not found", ErrNotFound)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get pool", err.Error())
	}
	return pool, nil
}

// ListPools returns pools matching filter, most recently discovered first
func (p *PostgreSQLStorage) ListPools(ctx context.Context, filter models.PoolFilter) ([]*models.Pool, error) {
	query := `SELECT ` + postgresPoolColumns + ` FROM pools`
	var args []any
	if filter.State != nil {
		args = append(args, string(*filter.State))
		query += fmt.Sprintf(` WHERE state = $%d`, len(args))
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)
	query += fmt.Sprintf(` ORDER BY discovered_at_block DESC, address LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list pools", err.Error())
	}
	return collectPostgresPools(rows)
}

// ListNonTradeablePools returns the monitoring working set due for a check
func (p *PostgreSQLStorage) ListNonTradeablePools(ctx context.Context, olderThan time.Time) ([]*models.Pool, error) {
	query := `SELECT ` + postgresPoolColumns + ` FROM pools
		WHERE state = 'discovered' AND (last_checked_at IS NULL OR last_checked_at < $1)
		ORDER BY last_checked_at ASC NULLS FIRST, discovered_at_block`

	rows, err := p.db.QueryContext(ctx, query, olderThan)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list non-tradeable pools", err.Error())
	}
	return collectPostgresPools(rows)
}

// CountNonTradeablePools returns the size of the monitoring working set
func (p *PostgreSQLStorage) CountNonTradeablePools(ctx context.Context) (int64, error) {
	var count int64
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pools WHERE state = 'discovered'`).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count pools", err.Error())
	}
	return count, nil
}

// RecordNotification appends a notification attempt
func (p *PostgreSQLStorage) RecordNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO notifications (id, pool_address, kind, channel, success, error, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.PoolAddress, string(n.Kind), n.Channel, n.Success, n.Error, n.SentAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return utils.WrapError(utils.ErrCodeValidation, "Notification already recorded", ErrDuplicateKey)
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record notification", err.Error())
	}
	return nil
}

// ListNotifications returns notification records, newest first
func (p *PostgreSQLStorage) ListNotifications(ctx context.Context, filter models.NotificationFilter) ([]*models.Notification, error) {
	var (
		where []string
		args  []any
	)
	if filter.PoolAddress != nil {
		args = append(args, *filter.PoolAddress)
		where = append(where, fmt.Sprintf("pool_address = $%d", len(args)))
	}
	if filter.Kind != nil {
		args = append(args, string(*filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Success != nil {
		args = append(args, *filter.Success)
		where = append(where, fmt.Sprintf("success = $%d", len(args)))
	}

	query := `SELECT id, pool_address, kind, channel, success, error, sent_at FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(filter.Limit))
	query += fmt.Sprintf(` ORDER BY sent_at DESC, id LIMIT $%d`, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list notifications", err.Error())
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var (
			n    models.Notification
			kind string
		)
		if err := rows.Scan(&n.ID, &n.PoolAddress, &kind, &n.Channel, &n.Success, &n.Error, &n.SentAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan notification", err.Error())
		}
		n.Kind = models.NotificationKind(kind)
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate notifications", err.Error())
	}
	return notifications, nil
}

// GetCursor returns the last fully ingested block; ok is false before the first SetCursor
func (p *PostgreSQLStorage) GetCursor(ctx context.Context) (uint64, bool, error) {
	var block int64
	err := p.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = $1`, cursorKey).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get cursor", err.Error())
	}
	return uint64(block), true, nil
}

// SetCursor persists the last fully ingested block
func (p *PostgreSQLStorage) SetCursor(ctx context.Context, block uint64) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		cursorKey, int64(block))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set cursor", err.Error())
	}
	return nil
}

// GetStats summarises pools, notifications and the cursor
func (p *PostgreSQLStorage) GetStats(ctx context.Context) (*models.PoolStats, error) {
	stats := &models.PoolStats{}

	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE state = 'tradeable') FROM pools`,
	).Scan(&stats.TotalPools, &stats.TradeablePools)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count pools", err.Error())
	}
	stats.NonTradeablePools = stats.TotalPools - stats.TradeablePools

	err = p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE success), COUNT(*) FILTER (WHERE NOT success) FROM notifications`,
	).Scan(&stats.SuccessfulNotifications, &stats.FailedNotifications)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count notifications", err.Error())
	}

	cursor, _, err := p.GetCursor(ctx)
	if err != nil {
		return nil, err
	}
	stats.LastProcessedBlock = cursor

	return stats, nil
}

// GetHealth reports whether the database answers
func (p *PostgreSQLStorage) GetHealth() *StorageHealth {
	health := &StorageHealth{Type: "postgres", CheckedAt: time.Now()}
	if err := p.Ping(); err != nil {
		health.Error = err.Error()
		return health
	}
	health.Healthy = true
	return health
}

const postgresPoolColumns = `address, token_a, token_b, fee_tier, tick_spacing, discovered_at_block,
	creation_tx_hash, current_liquidity, state, last_checked_at, tradeable_at, created_at, updated_at`

func scanPostgresPool(row rowScanner) (*models.Pool, error) {
	var (
		pool                 models.Pool
		state                string
		feeTier              int64
		block                int64
		lastChecked, tradeAt sql.NullTime
	)
	err := row.Scan(&pool.Address, &pool.TokenA, &pool.TokenB, &feeTier, &pool.TickSpacing,
		&block, &pool.CreationTxHash, &pool.CurrentLiquidity, &state,
		&lastChecked, &tradeAt, &pool.CreatedAt, &pool.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pool.FeeTier = uint32(feeTier)
	pool.DiscoveredAtBlock = uint64(block)
	pool.State = models.PoolState(state)
	if lastChecked.Valid {
		t := lastChecked.Time.UTC()
		pool.LastCheckedAt = &t
	}
	if tradeAt.Valid {
		t := tradeAt.Time.UTC()
		pool.TradeableAt = &t
	}
	pool.CreatedAt = pool.CreatedAt.UTC()
	pool.UpdatedAt = pool.UpdatedAt.UTC()
	return &pool, nil
}

func collectPostgresPools(rows *sql.Rows) ([]*models.Pool, error) {
	defer rows.Close()

	var pools []*models.Pool
	for rows.Next() {
		pool, err := scanPostgresPool(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan pool", err.Error())
		}
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate pools", err.Error())
	}
	return pools, nil
}
