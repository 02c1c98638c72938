// File: internal/monitor/poller.go
package monitor

import (
	"fmt"
)

// BlockRange is an inclusive block range
type BlockRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Len returns the number of blocks in the range
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// NextRange computes the next range to scan after cursor. head is the chain
// head, reduced by confirmations before use. ok is false when there is
// nothing new. capped reports that blocks remain after the returned range.
func NextRange(cursor, head, confirmations, maxRange uint64) (r BlockRange, ok bool, capped bool) {
	if maxRange == 0 {
		maxRange = 1
	}
	if head < confirmations {
		return BlockRange{}, false, false
	}
	safe := head - confirmations
	if safe <= cursor {
		return BlockRange{}, false, false
	}

	from := cursor + 1
	to := safe
	if to-from+1 > maxRange {
		to = from + maxRange - 1
		capped = true
	}
	return BlockRange{From: from, To: to}, true, capped
}

// SplitRange splits [from, to] into batches of at most batchSize blocks
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	for start := from; ; {
		end := to
		if to-start+1 > batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return ranges, nil
}
