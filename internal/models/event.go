package models

// PoolCreatedEvent is a factory pool-creation log as read from the ledger.
// Fields are left empty when the log could not be decoded; the monitor
// validates every event before turning it into a Pool.
type PoolCreatedEvent struct {
	PoolAddress string `json:"pool_address"`
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	FeeTier     uint32 `json:"fee_tier"`
	TickSpacing int32  `json:"tick_spacing"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
	DecodeError string `json:"decode_error,omitempty"`
}
