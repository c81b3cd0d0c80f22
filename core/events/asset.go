package events

import (
	"math/big"

	"microescrow/core/types"
)

const (
	// TypeAssetTransfer is emitted for every balance movement between holders.
	TypeAssetTransfer = "asset.transfer"
	// TypeAssetMint is emitted when the asset admin creates new supply.
	TypeAssetMint = "asset.mint"
)

// AssetTransfer records a movement of Amount units of Asset.
type AssetTransfer struct {
	Asset  [20]byte
	From   [20]byte
	To     [20]byte
	Amount *big.Int
	// FromContract and ToContract select the bech32 prefix used for rendering.
	FromContract bool
	ToContract   bool
}

// EventType satisfies the events.Event interface.
func (AssetTransfer) EventType() string { return TypeAssetTransfer }

// Event converts the payload into a broadcastable event.
func (e AssetTransfer) Event() *types.Event {
	return &types.Event{Type: TypeAssetTransfer, Attributes: map[string]string{
		"asset":  contract(e.Asset),
		"from":   holder(e.From, e.FromContract),
		"to":     holder(e.To, e.ToContract),
		"amount": formatAmount(e.Amount),
	}}
}

// AssetMint records newly created supply credited to To.
type AssetMint struct {
	Asset      [20]byte
	To         [20]byte
	Amount     *big.Int
	ToContract bool
}

// EventType satisfies the events.Event interface.
func (AssetMint) EventType() string { return TypeAssetMint }

// Event converts the payload into a broadcastable event.
func (e AssetMint) Event() *types.Event {
	return &types.Event{Type: TypeAssetMint, Attributes: map[string]string{
		"asset":  contract(e.Asset),
		"to":     holder(e.To, e.ToContract),
		"amount": formatAmount(e.Amount),
	}}
}
