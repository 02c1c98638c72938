// File: internal/monitor/parser.go
package monitor

import (
	"strings"

	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/internal/retry"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// EventParser validates decoded creation events. Every error it returns is
// permanent: retrying cannot make a malformed event valid.
type EventParser struct{}

// NewEventParser creates a new event parser
func NewEventParser() *EventParser {
	return &EventParser{}
}

// Validate checks that ev names a pool and two distinct assets
func (ep *EventParser) Validate(ev models.PoolCreatedEvent) error {
	if ev.DecodeError != "" {
		return invalidEvent("Undecodable creation event", ev, ev.DecodeError)
	}

	fields := []struct{ name, value string }{
		{"pool", ev.PoolAddress},
		{"token0", ev.Token0},
		{"token1", ev.Token1},
	}
	for _, f := range fields {
		if f.value == "" {
			return invalidEvent("Missing "+f.name+" address", ev, "")
		}
		if !utils.IsValidAddress(f.value) {
			return invalidEvent("Invalid "+f.name+" address", ev, f.value)
		}
		if utils.IsZeroAddress(f.value) {
			return invalidEvent("Zero "+f.name+" address", ev, "")
		}
	}

	if strings.EqualFold(ev.Token0, ev.Token1) {
		return invalidEvent("Pool pairs an asset with itself", ev, ev.Token0)
	}
	return nil
}

func invalidEvent(message string, ev models.PoolCreatedEvent, detail string) error {
	details := "tx " + ev.TxHash
	if detail != "" {
		details += ": " + detail
	}
	return retry.Permanent(utils.NewAppError(utils.ErrCodeValidation, message, details))
}
