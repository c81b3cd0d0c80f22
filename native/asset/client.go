package asset

import (
	"math/big"

	"microescrow/core/types"
	"microescrow/host"
)

// Transfer moves amount of the asset at token from one holder to another on
// behalf of the calling contract. The callee enforces from's authorization.
func Transfer(ctx *host.Context, token, from, to [20]byte, amount *big.Int) error {
	encoded, err := types.EncodeInt128(amount)
	if err != nil {
		return err
	}
	return ctx.Call(token, MethodTransfer, TransferArgs{From: from, To: to, Amount: encoded}, nil)
}

// EncodeConstructor builds the deployment payload for a new asset.
func EncodeConstructor(admin [20]byte, symbol string, decimals uint8) ([]byte, error) {
	return host.EncodeArgs(ConstructorArgs{Admin: admin, Symbol: symbol, Decimals: decimals})
}

// EncodeMint builds the argument payload for mint.
func EncodeMint(to [20]byte, amount *big.Int) ([]byte, error) {
	encoded, err := types.EncodeInt128(amount)
	if err != nil {
		return nil, err
	}
	return host.EncodeArgs(MintArgs{To: to, Amount: encoded})
}

// EncodeTransfer builds the argument payload for transfer.
func EncodeTransfer(from, to [20]byte, amount *big.Int) ([]byte, error) {
	encoded, err := types.EncodeInt128(amount)
	if err != nil {
		return nil, err
	}
	return host.EncodeArgs(TransferArgs{From: from, To: to, Amount: encoded})
}

// EncodeBalance builds the argument payload for balance.
func EncodeBalance(holder [20]byte) ([]byte, error) {
	return host.EncodeArgs(BalanceArgs{Holder: holder})
}

// DecodeAmount decodes an int128 result such as a balance.
func DecodeAmount(result []byte) (*big.Int, error) {
	var raw [types.Int128Size]byte
	if err := host.DecodeArgs(result, &raw); err != nil {
		return nil, err
	}
	return types.DecodeInt128(raw), nil
}

// DecodeMetadata decodes a metadata result.
func DecodeMetadata(result []byte) (*Metadata, error) {
	meta := new(Metadata)
	if err := host.DecodeArgs(result, meta); err != nil {
		return nil, err
	}
	return meta, nil
}
