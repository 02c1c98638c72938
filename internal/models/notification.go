package models

import (
	"time"
)

// NotificationKind identifies why a notification was sent
type NotificationKind string

const (
	NotificationKindPoolDiscovered            NotificationKind = "pool_discovered"
	NotificationKindLiquidityThresholdCrossed NotificationKind = "liquidity_threshold_crossed"
)

// Notification is an append-only record of one delivery attempt on one channel
type Notification struct {
	ID          string           `json:"id" db:"id"`
	PoolAddress string           `json:"pool_address" db:"pool_address"`
	Kind        NotificationKind `json:"kind" db:"kind"`
	Channel     string           `json:"channel" db:"channel"`
	Success     bool             `json:"success" db:"success"`
	Error       string           `json:"error,omitempty" db:"error"`
	SentAt      time.Time        `json:"sent_at" db:"sent_at"`
}

// ChannelResult is the outcome of sending to a single channel
type ChannelResult struct {
	Channel  string        `json:"channel"`
	Success  bool          `json:"success"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// NotificationFilter for querying notification records
type NotificationFilter struct {
	PoolAddress *string           `json:"pool_address,omitempty"`
	Kind        *NotificationKind `json:"kind,omitempty"`
	Success     *bool             `json:"success,omitempty"`
	Limit       int               `json:"limit,omitempty"`
}
