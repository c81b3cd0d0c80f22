package asset

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"microescrow/core/events"
	"microescrow/core/types"
	"microescrow/host"
)

// ProgramName is the code name the asset program is registered under.
const ProgramName = "asset"

const (
	MethodMint     = "mint"
	MethodTransfer = "transfer"
	MethodBalance  = "balance"
	MethodMetadata = "metadata"
)

var (
	ErrNegativeAmount      = errors.New("asset: negative amount")
	ErrInsufficientBalance = errors.New("asset: insufficient balance")
	ErrBalanceOverflow     = errors.New("asset: balance overflow")
	ErrInvalidMetadata     = errors.New("asset: invalid metadata")
)

const metaKey = "meta"

// Metadata is the instance configuration written by the constructor.
type Metadata struct {
	Admin    [20]byte
	Symbol   string
	Decimals uint8
}

// ConstructorArgs configures a new asset instance.
type ConstructorArgs = Metadata

type MintArgs struct {
	To     [20]byte
	Amount [types.Int128Size]byte
}

type TransferArgs struct {
	From   [20]byte
	To     [20]byte
	Amount [types.Int128Size]byte
}

type BalanceArgs struct {
	Holder [20]byte
}

// Program is a minimal fungible asset: an admin mints supply and holders
// move it with transfer.
type Program struct{}

// New returns the asset program.
func New() *Program { return &Program{} }

// Construct implements host.Constructor.
func (p *Program) Construct(ctx *host.Context, args []byte) error {
	var meta Metadata
	if err := host.DecodeArgs(args, &meta); err != nil {
		return err
	}
	meta.Symbol = strings.ToUpper(strings.TrimSpace(meta.Symbol))
	if meta.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidMetadata)
	}
	if meta.Decimals > 38 {
		return fmt.Errorf("%w: decimals %d exceed int128 precision", ErrInvalidMetadata, meta.Decimals)
	}
	return ctx.Storage().Set(metaKey, meta)
}

// Invoke implements host.Program.
func (p *Program) Invoke(ctx *host.Context, method string, args []byte) ([]byte, error) {
	switch method {
	case MethodMint:
		var in MintArgs
		if err := host.DecodeArgs(args, &in); err != nil {
			return nil, err
		}
		return nil, p.mint(ctx, in)
	case MethodTransfer:
		var in TransferArgs
		if err := host.DecodeArgs(args, &in); err != nil {
			return nil, err
		}
		return nil, p.transfer(ctx, in)
	case MethodBalance:
		var in BalanceArgs
		if err := host.DecodeArgs(args, &in); err != nil {
			return nil, err
		}
		bal, err := balanceOf(ctx, in.Holder)
		if err != nil {
			return nil, err
		}
		return host.EncodeResult(types.MustEncodeInt128(bal))
	case MethodMetadata:
		meta, err := metadata(ctx)
		if err != nil {
			return nil, err
		}
		return host.EncodeResult(meta)
	default:
		return nil, fmt.Errorf("%w: asset.%s", host.ErrMethodNotFound, method)
	}
}

func (p *Program) mint(ctx *host.Context, in MintArgs) error {
	meta, err := metadata(ctx)
	if err != nil {
		return err
	}
	if err := ctx.RequireAuth(meta.Admin); err != nil {
		return err
	}
	amount := types.DecodeInt128(in.Amount)
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal, err := balanceOf(ctx, in.To)
	if err != nil {
		return err
	}
	next, err := add(bal, amount)
	if err != nil {
		return err
	}
	if err := setBalance(ctx, in.To, next); err != nil {
		return err
	}
	ctx.Emit(events.AssetMint{
		Asset:      ctx.ContractAddress(),
		To:         in.To,
		Amount:     amount,
		ToContract: ctx.IsContract(in.To),
	})
	return nil
}

func (p *Program) transfer(ctx *host.Context, in TransferArgs) error {
	if err := ctx.RequireAuth(in.From); err != nil {
		return err
	}
	amount := types.DecodeInt128(in.Amount)
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	fromBal, err := balanceOf(ctx, in.From)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	if in.From != in.To {
		toBal, err := balanceOf(ctx, in.To)
		if err != nil {
			return err
		}
		credited, err := add(toBal, amount)
		if err != nil {
			return err
		}
		if err := setBalance(ctx, in.From, new(big.Int).Sub(fromBal, amount)); err != nil {
			return err
		}
		if err := setBalance(ctx, in.To, credited); err != nil {
			return err
		}
	}
	ctx.Emit(events.AssetTransfer{
		Asset:        ctx.ContractAddress(),
		From:         in.From,
		To:           in.To,
		Amount:       amount,
		FromContract: ctx.IsContract(in.From),
		ToContract:   ctx.IsContract(in.To),
	})
	return nil
}

func metadata(ctx *host.Context) (*Metadata, error) {
	meta := new(Metadata)
	ok, err := ctx.Storage().Get(metaKey, meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: instance has no metadata", ErrInvalidMetadata)
	}
	return meta, nil
}

func balanceKey(holder [20]byte) string {
	return "balance/" + hex.EncodeToString(holder[:])
}

func balanceOf(ctx *host.Context, holder [20]byte) (*big.Int, error) {
	bal := new(big.Int)
	if _, err := ctx.Storage().Get(balanceKey(holder), bal); err != nil {
		return nil, err
	}
	return bal, nil
}

func setBalance(ctx *host.Context, holder [20]byte, bal *big.Int) error {
	if bal.Sign() == 0 {
		return ctx.Storage().Remove(balanceKey(holder))
	}
	return ctx.Storage().Set(balanceKey(holder), bal)
}

// add sums two non-negative balances, rejecting results above the int128
// maximum.
func add(a, b *big.Int) (*big.Int, error) {
	x, overflow := uint256.FromBig(a)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	y, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	out := sum.ToBig()
	if out.Cmp(types.MaxInt128) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrBalanceOverflow, out)
	}
	return out, nil
}
