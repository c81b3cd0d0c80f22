package feeaccumulator

import (
	"math/big"

	"microescrow/core/types"
	"microescrow/host"
)

// Track reports amount to the accumulator deployed at collector.
func Track(ctx *host.Context, collector [20]byte, amount *big.Int) error {
	encoded, err := types.EncodeInt128(amount)
	if err != nil {
		return err
	}
	return ctx.Call(collector, MethodTrackFee, TrackFeeArgs{Amount: encoded}, nil)
}

// EncodeTrackFee builds the argument payload for a direct trackFee call.
func EncodeTrackFee(amount *big.Int) ([]byte, error) {
	encoded, err := types.EncodeInt128(amount)
	if err != nil {
		return nil, err
	}
	return host.EncodeArgs(TrackFeeArgs{Amount: encoded})
}

// DecodeTotal decodes a total() result.
func DecodeTotal(result []byte) (*big.Int, error) {
	var raw [types.Int128Size]byte
	if err := host.DecodeArgs(result, &raw); err != nil {
		return nil, err
	}
	return types.DecodeInt128(raw), nil
}

// EncodeConstructor builds deployment args. No callers keeps the
// accumulator open.
func EncodeConstructor(allowed ...[20]byte) ([]byte, error) {
	if len(allowed) == 0 {
		return nil, nil
	}
	return host.EncodeArgs(ConstructorArgs{Allowed: allowed})
}
