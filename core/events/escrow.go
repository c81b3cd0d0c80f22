package events

import (
	"math/big"

	"microescrow/core/types"
)

const (
	// TypeEscrowFundsLocked is emitted once the payer's deposit sits in the escrow.
	TypeEscrowFundsLocked = "escrow.funds_locked"
	// TypeEscrowWorkSubmitted is emitted when the payee marks the work delivered.
	TypeEscrowWorkSubmitted = "escrow.work_submitted"
	// TypeEscrowFundsReleased is emitted after the payout and fee have moved.
	TypeEscrowFundsReleased = "escrow.funds_released"
)

// EscrowFundsLocked describes a successful initialize call.
type EscrowFundsLocked struct {
	Escrow       [20]byte
	Payer        [20]byte
	Payee        [20]byte
	Asset        [20]byte
	FeeCollector [20]byte
	Amount       *big.Int

	// PayerContract, PayeeContract and FeeCollectorContract select the
	// bech32 prefix used for rendering.
	PayerContract        bool
	PayeeContract        bool
	FeeCollectorContract bool
}

// EventType satisfies the events.Event interface.
func (EscrowFundsLocked) EventType() string { return TypeEscrowFundsLocked }

// Event converts the payload into a broadcastable event.
func (e EscrowFundsLocked) Event() *types.Event {
	return &types.Event{Type: TypeEscrowFundsLocked, Attributes: map[string]string{
		"escrow":       contract(e.Escrow),
		"payer":        holder(e.Payer, e.PayerContract),
		"payee":        holder(e.Payee, e.PayeeContract),
		"asset":        contract(e.Asset),
		"feeCollector": holder(e.FeeCollector, e.FeeCollectorContract),
		"amount":       formatAmount(e.Amount),
	}}
}

// EscrowWorkSubmitted describes a successful submitWorkLink call.
type EscrowWorkSubmitted struct {
	Escrow        [20]byte
	Payee         [20]byte
	PayeeContract bool
}

// EventType satisfies the events.Event interface.
func (EscrowWorkSubmitted) EventType() string { return TypeEscrowWorkSubmitted }

// Event converts the payload into a broadcastable event.
func (e EscrowWorkSubmitted) Event() *types.Event {
	return &types.Event{Type: TypeEscrowWorkSubmitted, Attributes: map[string]string{
		"escrow": contract(e.Escrow),
		"payee":  holder(e.Payee, e.PayeeContract),
	}}
}

// EscrowFundsReleased describes a successful releaseFunds call.
type EscrowFundsReleased struct {
	Escrow       [20]byte
	Payer        [20]byte
	Payee        [20]byte
	FeeCollector [20]byte
	Amount       *big.Int
	PayeeAmount  *big.Int
	FeeAmount    *big.Int

	PayerContract        bool
	PayeeContract        bool
	FeeCollectorContract bool
}

// EventType satisfies the events.Event interface.
func (EscrowFundsReleased) EventType() string { return TypeEscrowFundsReleased }

// Event converts the payload into a broadcastable event.
func (e EscrowFundsReleased) Event() *types.Event {
	return &types.Event{Type: TypeEscrowFundsReleased, Attributes: map[string]string{
		"escrow":       contract(e.Escrow),
		"payer":        holder(e.Payer, e.PayerContract),
		"payee":        holder(e.Payee, e.PayeeContract),
		"feeCollector": holder(e.FeeCollector, e.FeeCollectorContract),
		"amount":       formatAmount(e.Amount),
		"payeeAmount":  formatAmount(e.PayeeAmount),
		"feeAmount":    formatAmount(e.FeeAmount),
	}}
}
