package types

import (
	"errors"
	"fmt"
	"math/big"
)

// Int128Size is the width of an encoded amount.
const Int128Size = 16

var (
	// MaxInt128 is 2^127 - 1.
	MaxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	// MinInt128 is -2^127.
	MinInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))

	twoTo128 = new(big.Int).Lsh(big.NewInt(1), 128)

	// ErrInt128Overflow reports a value outside the signed 128-bit range.
	ErrInt128Overflow = errors.New("amount overflows signed 128-bit range")
)

// CheckInt128 returns ErrInt128Overflow when v does not fit in an i128.
func CheckInt128(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: nil amount", ErrInt128Overflow)
	}
	if v.Cmp(MaxInt128) > 0 || v.Cmp(MinInt128) < 0 {
		return fmt.Errorf("%w: %s", ErrInt128Overflow, v.String())
	}
	return nil
}

// EncodeInt128 renders v as 16 big-endian bytes in two's complement.
func EncodeInt128(v *big.Int) ([Int128Size]byte, error) {
	var out [Int128Size]byte
	if err := CheckInt128(v); err != nil {
		return out, err
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, twoTo128)
	}
	u.FillBytes(out[:])
	return out, nil
}

// DecodeInt128 is the inverse of EncodeInt128.
func DecodeInt128(b [Int128Size]byte) *big.Int {
	v := new(big.Int).SetBytes(b[:])
	if b[0]&0x80 != 0 {
		v.Sub(v, twoTo128)
	}
	return v
}

// MustEncodeInt128 panics when v is out of range. Intended for constants.
func MustEncodeInt128(v *big.Int) [Int128Size]byte {
	out, err := EncodeInt128(v)
	if err != nil {
		panic(err)
	}
	return out
}
