package events

import (
	"math/big"

	"microescrow/core/types"
)

// TypeFeeTracked marks an increase of a fee accumulator's running total.
const TypeFeeTracked = "fees.tracked"

// FeeTracked records a trackFee call and the resulting total.
type FeeTracked struct {
	Collector [20]byte
	Caller    [20]byte
	Amount    *big.Int
	Total     *big.Int
	// CallerContract selects the bech32 prefix used for Caller.
	CallerContract bool
}

// EventType satisfies the events.Event interface.
func (FeeTracked) EventType() string { return TypeFeeTracked }

// Event converts the payload into a broadcastable event.
func (e FeeTracked) Event() *types.Event {
	return &types.Event{Type: TypeFeeTracked, Attributes: map[string]string{
		"collector": contract(e.Collector),
		"caller":    holder(e.Caller, e.CallerContract),
		"amount":    formatAmount(e.Amount),
		"total":     formatAmount(e.Total),
	}}
}
