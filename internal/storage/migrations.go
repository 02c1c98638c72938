package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// Checksum identifies the migration body so edits to applied migrations are caught.
func (m *Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.SQL))
	return hex.EncodeToString(sum[:])
}

// migrationDialect holds the statements that differ between backends.
type migrationDialect struct {
	createTable string
	selectSQL   string
	insertSQL   string
}

var sqliteMigrationDialect = migrationDialect{
	createTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`,
	selectSQL: `SELECT checksum FROM schema_migrations WHERE version = ?`,
	insertSQL: `INSERT INTO schema_migrations (version, description, checksum, applied_at) VALUES (?, ?, ?, ?)`,
}

var postgresMigrationDialect = migrationDialect{
	createTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at BIGINT NOT NULL
	)`,
	selectSQL: `SELECT checksum FROM schema_migrations WHERE version = $1`,
	insertSQL: `INSERT INTO schema_migrations (version, description, checksum, applied_at) VALUES ($1, $2, $3, $4)`,
}

// applyMigrations runs every migration not yet recorded, each in its own transaction.
func applyMigrations(db *sql.DB, dialect migrationDialect, migrations []*Migration, logger *logrus.Logger) error {
	if _, err := db.Exec(dialect.createTable); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err.Error())
	}

	for _, migration := range migrations {
		var checksum string
		err := db.QueryRow(dialect.selectSQL, migration.Version).Scan(&checksum)
		switch {
		case err == nil:
			if checksum != migration.Checksum() {
				logger.WithField("version", migration.Version).Warn("Applied migration differs from current definition")
			}
			continue
		case err != sql.ErrNoRows:
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read migration state", err.Error())
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		tx, err := db.Begin()
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin migration", err.Error())
		}
		if _, err := tx.Exec(migration.SQL); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
		if _, err := tx.Exec(dialect.insertSQL, migration.Version, migration.Description,
			migration.Checksum(), time.Now().UnixMilli()); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record migration", err.Error())
		}
		if err := tx.Commit(); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit migration", err.Error())
		}
	}
	return nil
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create pools table",
			SQL: `
				CREATE TABLE IF NOT EXISTS pools (
					address TEXT PRIMARY KEY,
					token_a TEXT NOT NULL,
					token_b TEXT NOT NULL,
					fee_tier INTEGER NOT NULL,
					tick_spacing INTEGER NOT NULL DEFAULT 0,
					discovered_at_block INTEGER NOT NULL,
					creation_tx_hash TEXT NOT NULL DEFAULT '',
					current_liquidity TEXT NOT NULL DEFAULT '0',
					state TEXT NOT NULL DEFAULT 'discovered' CHECK (state IN ('discovered', 'tradeable')),
					last_checked_at INTEGER,
					tradeable_at INTEGER,
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_pools_state_checked ON pools(state, last_checked_at);
				CREATE INDEX IF NOT EXISTS idx_pools_token_b ON pools(token_b);
			`,
		},
		{
			Version:     "002",
			Description: "Create notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id TEXT PRIMARY KEY,
					pool_address TEXT NOT NULL REFERENCES pools(address),
					kind TEXT NOT NULL,
					channel TEXT NOT NULL,
					success INTEGER NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					sent_at INTEGER NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_pool ON notifications(pool_address);
				CREATE INDEX IF NOT EXISTS idx_notifications_sent_at ON notifications(sent_at);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_crossed_once
					ON notifications(pool_address, kind, channel)
					WHERE success = 1 AND kind = 'liquidity_threshold_crossed';
			`,
		},
		{
			Version:     "003",
			Description: "Create sync_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_state (
					key TEXT PRIMARY KEY,
					value INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create pools table",
			SQL: `
				CREATE TABLE IF NOT EXISTS pools (
					address TEXT PRIMARY KEY,
					token_a TEXT NOT NULL,
					token_b TEXT NOT NULL,
					fee_tier INTEGER NOT NULL,
					tick_spacing INTEGER NOT NULL DEFAULT 0,
					discovered_at_block BIGINT NOT NULL,
					creation_tx_hash TEXT NOT NULL DEFAULT '',
					current_liquidity NUMERIC(78, 0) NOT NULL DEFAULT 0,
					state TEXT NOT NULL DEFAULT 'discovered' CHECK (state IN ('discovered', 'tradeable')),
					last_checked_at TIMESTAMP WITH TIME ZONE,
					tradeable_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_pools_state_checked ON pools(state, last_checked_at);
				CREATE INDEX IF NOT EXISTS idx_pools_token_b ON pools(token_b);
			`,
		},
		{
			Version:     "002",
			Description: "Create notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id TEXT PRIMARY KEY,
					pool_address TEXT NOT NULL REFERENCES pools(address),
					kind TEXT NOT NULL,
					channel TEXT NOT NULL,
					success BOOLEAN NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					sent_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_pool ON notifications(pool_address);
				CREATE INDEX IF NOT EXISTS idx_notifications_sent_at ON notifications(sent_at);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_crossed_once
					ON notifications(pool_address, kind, channel)
					WHERE success AND kind = 'liquidity_threshold_crossed';
			`,
		},
		{
			Version:     "003",
			Description: "Create sync_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_state (
					key TEXT PRIMARY KEY,
					value BIGINT NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
	}
}
