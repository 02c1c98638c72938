package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// ListPools returns pools matching filter, most recently discovered first
func (s *SQLiteStorage) ListPools(ctx context.Context, filter models.PoolFilter) ([]*models.Pool, error) {
	query := `SELECT ` + sqlitePoolColumns + ` FROM pools`
	var args []any
	if filter.State != nil {
		query += ` WHERE state = ?`
		args = append(args, string(*filter.State))
	}
	query += ` ORDER BY discovered_at_block DESC, address LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list pools", err.Error())
	}
	return collectSQLitePools(rows)
}

// ListNotifications returns notification records, newest first
func (s *SQLiteStorage) ListNotifications(ctx context.Context, filter models.NotificationFilter) ([]*models.Notification, error) {
	var (
		where []string
		args  []any
	)
	if filter.PoolAddress != nil {
		where = append(where, "pool_address = ?")
		args = append(args, *filter.PoolAddress)
	}
	if filter.Kind != nil {
		where = append(where, "kind = ?")
		args = append(args, string(*filter.Kind))
	}
	if filter.Success != nil {
		where = append(where, "success = ?")
		args = append(args, *filter.Success)
	}

	query := `SELECT id, pool_address, kind, channel, success, error, sent_at FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY sent_at DESC, id LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list notifications", err.Error())
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var (
			n      models.Notification
			kind   string
			sentAt int64
		)
		if err := rows.Scan(&n.ID, &n.PoolAddress, &kind, &n.Channel, &n.Success, &n.Error, &sentAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan notification", err.Error())
		}
		n.Kind = models.NotificationKind(kind)
		n.SentAt = time.UnixMilli(sentAt).UTC()
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate notifications", err.Error())
	}
	return notifications, nil
}

// GetStats summarises pools, notifications and the cursor
func (s *SQLiteStorage) GetStats(ctx context.Context) (*models.PoolStats, error) {
	stats := &models.PoolStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN state = 'tradeable' THEN 1 ELSE 0 END), 0)
		FROM pools`).Scan(&stats.TotalPools, &stats.TradeablePools)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count pools", err.Error())
	}
	stats.NonTradeablePools = stats.TotalPools - stats.TradeablePools

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
		FROM notifications`).Scan(&stats.SuccessfulNotifications, &stats.FailedNotifications)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count notifications", err.Error())
	}

	var cursor sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, cursorKey).Scan(&cursor)
	if err != nil && err != sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get cursor", err.Error())
	}
	stats.LastProcessedBlock = uint64(cursor.Int64)

	return stats, nil
}

// GetHealth reports whether the database answers
func (s *SQLiteStorage) GetHealth() *StorageHealth {
	health := &StorageHealth{Type: "sqlite", CheckedAt: time.Now()}
	if err := s.Ping(); err != nil {
		health.Error = err.Error()
		return health
	}
	health.Healthy = true
	return health
}
