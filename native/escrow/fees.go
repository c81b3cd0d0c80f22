package escrow

import "math/big"

// Settlement fee: FeeNumerator/FeeDenominator of the escrowed amount.
const (
	FeeNumerator   = 2
	FeeDenominator = 100
)

// SplitFee returns the truncated fee share of amount and the payee's share.
// The fee is computed first and the payee absorbs the remainder, so
// fee + payout == amount for every input.
func SplitFee(amount *big.Int) (fee, payout *big.Int) {
	if amount == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	fee = new(big.Int).Mul(amount, big.NewInt(FeeNumerator))
	fee.Quo(fee, big.NewInt(FeeDenominator))
	payout = new(big.Int).Sub(amount, fee)
	return fee, payout
}
