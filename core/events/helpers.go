package events

import (
	"math/big"

	"microescrow/crypto"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func contract(addr [20]byte) string {
	return crypto.FormatContract(addr)
}

func holder(addr [20]byte, isContract bool) string {
	if isContract {
		return crypto.FormatContract(addr)
	}
	return crypto.FormatAccount(addr)
}
