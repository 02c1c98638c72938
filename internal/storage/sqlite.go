package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/pkg/utils"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStorage implements Storage interface using SQLite.
// Timestamps are stored as unix milliseconds.
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// sqliteDSN appends the pragmas every connection needs.
func sqliteDSN(path string) string {
	pragmas := "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return path + "?" + pragmas
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	path := strings.TrimPrefix(s.config.ConnectionString, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(s.config.ConnectionString))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// SQLite has a single writer; one connection serialises writes without
	// SQLITE_BUSY churn and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping SQLite database", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")
	if err := applyMigrations(s.db, sqliteMigrationDialect, s.migrations, s.logger); err != nil {
		return err
	}
	s.logger.Info("Database migrations completed")
	return nil
}

// UpsertPoolIfAbsent inserts pool unless a pool with the same address exists.
// Existing rows are never modified.
func (s *SQLiteStorage) UpsertPoolIfAbsent(ctx context.Context, pool *models.Pool) (bool, error) {
	if pool == nil || pool.Address == "" {
		return false, utils.NewAppError(utils.ErrCodeValidation, "Pool address is required", "")
	}
	now := time.Now().UTC()
	prepareNewPool(pool, now)

	query := `
		INSERT INTO pools
		(address, token_a, token_b, fee_tier, tick_spacing, discovered_at_block, creation_tx_hash,
		 current_liquidity, state, last_checked_at, tradeable_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query,
		pool.Address, pool.TokenA, pool.TokenB, pool.FeeTier, pool.TickSpacing,
		pool.DiscoveredAtBlock, pool.CreationTxHash, pool.CurrentLiquidity.String(), string(pool.State),
		toMillis(pool.LastCheckedAt), toMillis(pool.TradeableAt),
		pool.CreatedAt.UnixMilli(), pool.UpdatedAt.UnixMilli())
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
func (s *SQLiteStorage) UpdateLiquidity(ctx context.Context, address string, liquidity decimal.Decimal, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pools SET current_liquidity = ?, last_checked_at = ?, updated_at = ? WHERE address = ?`,
		liquidity.String(), checkedAt.UnixMilli(), time.Now().UnixMilli(), address)
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

// TransitionToTradeable moves a discovered pool to tradeable exactly once
func (s *SQLiteStorage) TransitionToTradeable(ctx context.Context, address string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pools SET state = 'tradeable', tradeable_at = ?, updated_at = ?
		 WHERE address = ? AND state = 'discovered'`,
		now, now, address)
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
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM pools WHERE address = ?`, address).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, utils.WrapError(utils.ErrCodeNotFound, "Pool not found", ErrNotFound)
	}
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to check pool", err.Error())
	}
	return false, nil
}

// GetPool retrieves a pool by address
func (s *SQLiteStorage) GetPool(ctx context.Context, address string) (*models.Pool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqlitePoolColumns+` FROM pools WHERE address = ?`, address)
	pool, err := scanSQLitePool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.WrapError(utils.ErrCodeNotFound, "Pool not found", ErrNotFound)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get pool", err.Error())
	}
	return pool, nil
}

// ListNonTradeablePools returns the monitoring working set due for a check
func (s *SQLiteStorage) ListNonTradeablePools(ctx context.Context, olderThan time.Time) ([]*models.Pool, error) {
	query := `SELECT ` + sqlitePoolColumns + ` FROM pools
		WHERE state = 'discovered' AND (last_checked_at IS NULL OR last_checked_at < ?)
		ORDER BY COALESCE(last_checked_at, 0), discovered_at_block`

	rows, err := s.db.QueryContext(ctx, query, olderThan.UnixMilli())
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list non-tradeable pools", err.Error())
	}
	return collectSQLitePools(rows)
}

// CountNonTradeablePools returns the size of the monitoring working set
func (s *SQLiteStorage) CountNonTradeablePools(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pools WHERE state = 'discovered'`).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count pools", err.Error())
	}
	return count, nil
}

// RecordNotification appends a notification attempt
func (s *SQLiteStorage) RecordNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, pool_address, kind, channel, success, error, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.PoolAddress, string(n.Kind), n.Channel, n.Success, n.Error, n.SentAt.UnixMilli())
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return utils.WrapError(utils.ErrCodeValidation, "Notification already recorded", ErrDuplicateKey)
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record notification", err.Error())
	}
	return nil
}

// GetCursor returns the last fully ingested block; ok is false before the first SetCursor
func (s *SQLiteStorage) GetCursor(ctx context.Context) (uint64, bool, error) {
	var block int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, cursorKey).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get cursor", err.Error())
	}
	return uint64(block), true, nil
}

// SetCursor persists the last fully ingested block
func (s *SQLiteStorage) SetCursor(ctx context.Context, block uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		cursorKey, int64(block), time.Now().UnixMilli())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set cursor", err.Error())
	}
	return nil
}

const sqlitePoolColumns = `address, token_a, token_b, fee_tier, tick_spacing, discovered_at_block,
	creation_tx_hash, current_liquidity, state, last_checked_at, tradeable_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePool(row rowScanner) (*models.Pool, error) {
	var (
		pool                 models.Pool
		state                string
		lastChecked, tradeAt sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&pool.Address, &pool.TokenA, &pool.TokenB, &pool.FeeTier, &pool.TickSpacing,
		&pool.DiscoveredAtBlock, &pool.CreationTxHash, &pool.CurrentLiquidity, &state,
		&lastChecked, &tradeAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	pool.State = models.PoolState(state)
	pool.LastCheckedAt = fromMillis(lastChecked)
	pool.TradeableAt = fromMillis(tradeAt)
	pool.CreatedAt = time.UnixMilli(createdAt).UTC()
	pool.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &pool, nil
}

func collectSQLitePools(rows *sql.Rows) ([]*models.Pool, error) {
	defer rows.Close()

	var pools []*models.Pool
	for rows.Next() {
		pool, err := scanSQLitePool(rows)
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

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
