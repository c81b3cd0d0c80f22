package feeaccumulator

import (
	"errors"
	"fmt"
	"math/big"

	"microescrow/core/events"
	"microescrow/core/types"
	"microescrow/host"
)

// ProgramName is the code name the accumulator is registered under.
const ProgramName = "fee-accumulator"

const (
	MethodTrackFee = "trackFee"
	MethodTotal    = "total"
)

var (
	// ErrTotalOverflow is returned when the running total would leave the
	// int128 range. The total is never saturated.
	ErrTotalOverflow = errors.New("fee accumulator: total overflows int128")
	// ErrCallerNotAllowed is returned when an allow-list is configured and
	// the direct caller is not on it.
	ErrCallerNotAllowed = errors.New("fee accumulator: caller not allowed")
)

const (
	totalKey   = "TOTAL_FEES"
	allowedKey = "ALLOWED_CALLERS"
)

// ConstructorArgs optionally restricts trackFee to the listed callers. An
// empty list keeps the accumulator open to any caller.
type ConstructorArgs struct {
	Allowed [][20]byte
}

type TrackFeeArgs struct {
	Amount [types.Int128Size]byte
}

// Program keeps a running total of fees reported to the instance.
type Program struct{}

// New returns the fee accumulator program.
func New() *Program { return &Program{} }

// Construct implements host.Constructor.
func (p *Program) Construct(ctx *host.Context, args []byte) error {
	if len(args) == 0 {
		return nil
	}
	var in ConstructorArgs
	if err := host.DecodeArgs(args, &in); err != nil {
		return err
	}
	if len(in.Allowed) == 0 {
		return nil
	}
	return ctx.Storage().Set(allowedKey, in.Allowed)
}

// Invoke implements host.Program.
func (p *Program) Invoke(ctx *host.Context, method string, args []byte) ([]byte, error) {
	switch method {
	case MethodTrackFee:
		var in TrackFeeArgs
		if err := host.DecodeArgs(args, &in); err != nil {
			return nil, err
		}
		return nil, p.trackFee(ctx, types.DecodeInt128(in.Amount))
	case MethodTotal:
		total, err := loadTotal(ctx)
		if err != nil {
			return nil, err
		}
		return host.EncodeResult(types.MustEncodeInt128(total))
	default:
		return nil, fmt.Errorf("%w: fee-accumulator.%s", host.ErrMethodNotFound, method)
	}
}

func (p *Program) trackFee(ctx *host.Context, amount *big.Int) error {
	caller, callerIsContract := ctx.Invoker()
	if err := checkCaller(ctx, caller); err != nil {
		return err
	}
	total, err := loadTotal(ctx)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(total, amount)
	encoded, err := types.EncodeInt128(next)
	if err != nil {
		return fmt.Errorf("%w: %s + %s", ErrTotalOverflow, total, amount)
	}
	if err := ctx.Storage().Set(totalKey, encoded); err != nil {
		return err
	}
	ctx.Emit(events.FeeTracked{
		Collector:      ctx.ContractAddress(),
		Caller:         caller,
		CallerContract: callerIsContract,
		Amount:         amount,
		Total:          next,
	})
	return nil
}

func checkCaller(ctx *host.Context, caller [20]byte) error {
	var allowed [][20]byte
	ok, err := ctx.Storage().Get(allowedKey, &allowed)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for _, addr := range allowed {
		if addr == caller {
			return nil
		}
	}
	return ErrCallerNotAllowed
}

func loadTotal(ctx *host.Context) (*big.Int, error) {
	var raw [types.Int128Size]byte
	ok, err := ctx.Storage().Get(totalKey, &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return types.DecodeInt128(raw), nil
}
