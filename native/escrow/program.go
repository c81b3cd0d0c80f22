package escrow

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"microescrow/core/events"
	"microescrow/core/types"
	"microescrow/host"
	"microescrow/native/asset"
	"microescrow/native/feeaccumulator"
)

var (
	ErrAlreadyInitialized     = errors.New("escrow: already initialized")
	ErrNotInitialized         = errors.New("escrow: not initialized")
	ErrUnauthorizedFreelancer = errors.New("escrow: not the authorized freelancer")
	ErrUnauthorizedClient     = errors.New("escrow: not the authorized client")
	ErrInvalidStateTransition = errors.New("escrow: invalid state transition")
	ErrFundsNotReleasable     = errors.New("escrow: funds can only be released after work is submitted")
)

const recordKey = "escrow"

// AssetTransfer moves fungible units between holders of the asset at token.
type AssetTransfer interface {
	Transfer(ctx *host.Context, token, from, to [20]byte, amount *big.Int) error
}

// FeeTracker notifies the accumulator at collector that amount was routed
// to it.
type FeeTracker interface {
	TrackFee(ctx *host.Context, collector [20]byte, amount *big.Int) error
}

type assetCalls struct{}

func (assetCalls) Transfer(ctx *host.Context, token, from, to [20]byte, amount *big.Int) error {
	return asset.Transfer(ctx, token, from, to, amount)
}

type feeCalls struct{}

func (feeCalls) TrackFee(ctx *host.Context, collector [20]byte, amount *big.Int) error {
	return feeaccumulator.Track(ctx, collector, amount)
}

// Program custodies one payment per instance and settles it with a fee
// split once the payee has submitted and the payer releases.
type Program struct {
	assets AssetTransfer
	fees   FeeTracker
}

// New returns an escrow program that calls deployed asset and fee
// accumulator instances.
func New() *Program {
	return &Program{assets: assetCalls{}, fees: feeCalls{}}
}

// SetAssetTransfer overrides the asset capability. Passing nil restores the
// default cross-contract call.
func (p *Program) SetAssetTransfer(a AssetTransfer) {
	if a == nil {
		a = assetCalls{}
	}
	p.assets = a
}

// SetFeeTracker overrides the fee notification. Passing nil restores the
// default cross-contract call.
func (p *Program) SetFeeTracker(f FeeTracker) {
	if f == nil {
		f = feeCalls{}
	}
	p.fees = f
}

// Invoke implements host.Program.
func (p *Program) Invoke(ctx *host.Context, method string, args []byte) ([]byte, error) {
	switch method {
	case MethodInitialize:
		var in InitializeArgs
		if err := host.DecodeArgs(args, &in); err != nil {
			return nil, err
		}
		return nil, p.initialize(ctx, in)
	case MethodSubmitWorkLink:
		var in SubmitWorkLinkArgs
		if err := host.DecodeArgs(args, &in); err != nil {
			return nil, err
		}
		return nil, p.submitWorkLink(ctx, in.Payee)
	case MethodReleaseFunds:
		var in ReleaseFundsArgs
		if err := host.DecodeArgs(args, &in); err != nil {
			return nil, err
		}
		return nil, p.releaseFunds(ctx, in.Payer)
	case MethodGetState:
		esc, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return host.EncodeResult(esc.State)
	case MethodGetEscrow:
		esc, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return host.EncodeResult(esc)
	default:
		return nil, fmt.Errorf("%w: escrow.%s", host.ErrMethodNotFound, method)
	}
}

func (p *Program) initialize(ctx *host.Context, in InitializeArgs) error {
	exists, err := ctx.Storage().Has(recordKey)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyInitialized
	}
	if err := ctx.RequireAuth(in.Payer); err != nil {
		return err
	}
	self := ctx.ContractAddress()
	amount := types.DecodeInt128(in.Amount)
	if err := p.assets.Transfer(ctx, in.Asset, in.Payer, self, amount); err != nil {
		return err
	}
	esc := &Escrow{
		Payer:        in.Payer,
		Payee:        in.Payee,
		FeeCollector: in.FeeCollector,
		Asset:        in.Asset,
		Amount:       in.Amount,
		State:        StatePending,
	}
	if err := store(ctx, esc); err != nil {
		return err
	}
	ctx.Emit(events.EscrowFundsLocked{
		Escrow:               self,
		Payer:                esc.Payer,
		Payee:                esc.Payee,
		Asset:                esc.Asset,
		FeeCollector:         esc.FeeCollector,
		Amount:               amount,
		PayerContract:        ctx.IsContract(esc.Payer),
		PayeeContract:        ctx.IsContract(esc.Payee),
		FeeCollectorContract: ctx.IsContract(esc.FeeCollector),
	})
	return nil
}

func (p *Program) submitWorkLink(ctx *host.Context, payee [20]byte) error {
	esc, err := load(ctx)
	if err != nil {
		return err
	}
	if payee != esc.Payee {
		return ErrUnauthorizedFreelancer
	}
	if err := ctx.RequireAuth(payee); err != nil {
		return err
	}
	if esc.State != StatePending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, esc.State, StateSubmitted)
	}
	esc.State = StateSubmitted
	if err := store(ctx, esc); err != nil {
		return err
	}
	ctx.Emit(events.EscrowWorkSubmitted{Escrow: ctx.ContractAddress(), Payee: payee, PayeeContract: ctx.IsContract(payee)})
	return nil
}

func (p *Program) releaseFunds(ctx *host.Context, payer [20]byte) error {
	esc, err := load(ctx)
	if err != nil {
		return err
	}
	if payer != esc.Payer {
		return ErrUnauthorizedClient
	}
	if err := ctx.RequireAuth(payer); err != nil {
		return err
	}
	if esc.State != StateSubmitted {
		return fmt.Errorf("%w (state %s)", ErrFundsNotReleasable, esc.State)
	}
	esc.State = StateReleased
	if err := store(ctx, esc); err != nil {
		return err
	}

	self := ctx.ContractAddress()
	amount := esc.AmountValue()
	fee, payout := SplitFee(amount)
	if err := p.assets.Transfer(ctx, esc.Asset, self, esc.Payee, payout); err != nil {
		return fmt.Errorf("escrow: pay payee: %w", err)
	}
	if err := p.assets.Transfer(ctx, esc.Asset, self, esc.FeeCollector, fee); err != nil {
		return fmt.Errorf("escrow: pay fee collector: %w", err)
	}
	if err := p.fees.TrackFee(ctx, esc.FeeCollector, fee); err != nil {
		return fmt.Errorf("escrow: track fee: %w", err)
	}
	ctx.Emit(events.EscrowFundsReleased{
		Escrow:               self,
		Payer:                esc.Payer,
		Payee:                esc.Payee,
		FeeCollector:         esc.FeeCollector,
		Amount:               amount,
		PayeeAmount:          payout,
		FeeAmount:            fee,
		PayerContract:        ctx.IsContract(esc.Payer),
		PayeeContract:        ctx.IsContract(esc.Payee),
		FeeCollectorContract: ctx.IsContract(esc.FeeCollector),
	})
	ctx.Logger().Debug("escrow released",
		slog.String("payout", payout.String()),
		slog.String("fee", fee.String()))
	return nil
}

func load(ctx *host.Context) (*Escrow, error) {
	esc := new(Escrow)
	ok, err := ctx.Storage().Get(recordKey, esc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	if !esc.State.Valid() {
		return nil, fmt.Errorf("escrow: corrupt record state %d", esc.State)
	}
	return esc, nil
}

func store(ctx *host.Context, esc *Escrow) error {
	return ctx.Storage().Set(recordKey, esc)
}
