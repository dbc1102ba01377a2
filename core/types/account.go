package types

import "math/big"

// Account is the minimal balance-bearing record the escrow engine operates
// on. The wider account substrate (signatures, nonce accounting, token
// registries) is assumed to be provided by the host environment; the engine
// only needs a spendable fee-token balance per address.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// Clone returns a deep copy so callers can mutate the result without
// aliasing the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
