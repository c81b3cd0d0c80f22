package escrow

import (
	"math/big"

	"microescrow/core/types"
	"microescrow/host"
)

// ProgramName is the code name the escrow program is registered under.
const ProgramName = "escrow"

const (
	MethodInitialize     = "initialize"
	MethodSubmitWorkLink = "submitWorkLink"
	MethodReleaseFunds   = "releaseFunds"
	MethodGetState       = "getState"
	MethodGetEscrow      = "getEscrow"
)

type InitializeArgs struct {
	Payer        [20]byte
	Payee        [20]byte
	FeeCollector [20]byte
	Asset        [20]byte
	Amount       [types.Int128Size]byte
}

type SubmitWorkLinkArgs struct {
	Payee [20]byte
}

type ReleaseFundsArgs struct {
	Payer [20]byte
}

// EncodeInitialize builds the argument payload for initialize.
func EncodeInitialize(payer, payee, feeCollector, asset [20]byte, amount *big.Int) ([]byte, error) {
	encoded, err := types.EncodeInt128(amount)
	if err != nil {
		return nil, err
	}
	return host.EncodeArgs(InitializeArgs{
		Payer:        payer,
		Payee:        payee,
		FeeCollector: feeCollector,
		Asset:        asset,
		Amount:       encoded,
	})
}

// EncodeSubmitWorkLink builds the argument payload for submitWorkLink.
func EncodeSubmitWorkLink(payee [20]byte) ([]byte, error) {
	return host.EncodeArgs(SubmitWorkLinkArgs{Payee: payee})
}

// EncodeReleaseFunds builds the argument payload for releaseFunds.
func EncodeReleaseFunds(payer [20]byte) ([]byte, error) {
	return host.EncodeArgs(ReleaseFundsArgs{Payer: payer})
}

// DecodeState decodes a getState result.
func DecodeState(result []byte) (State, error) {
	var s State
	if err := host.DecodeArgs(result, &s); err != nil {
		return 0, err
	}
	return s, nil
}

// DecodeEscrow decodes a getEscrow result.
func DecodeEscrow(result []byte) (*Escrow, error) {
	esc := new(Escrow)
	if err := host.DecodeArgs(result, esc); err != nil {
		return nil, err
	}
	return esc, nil
}
