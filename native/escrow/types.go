package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"feevault/native/fees"
)

// Escrow captures the per-transaction ledger entry holding a collected
// protocol fee pending verified settlement. The identifier is the keccak256
// hash of the depositor address and a caller-chosen seed, so a depositor can
// run multiple concurrent escrows without collision and records are
// deterministically addressable without an index.
type Escrow struct {
	ID        [32]byte
	Depositor [20]byte
	Platform  [20]byte
	// Referrer equal to the zero address or to the depositor means
	// "no referrer": no commission accrues and no ledger is touched.
	Referrer [20]byte
	Tier     fees.Tier

	TradeAmount        *big.Int
	GrossFee           *big.Int
	ReferrerCommission *big.Int
	UserDiscount       *big.Int
	ActualFeeCharged   *big.Int

	ExpectedInputAsset  string
	ExpectedOutputAsset string
	ExpectedInputAmount *big.Int

	// ActualOutputAmount and ProofRef are filled in once a proof is
	// accepted. The output amount is stored for audit only; settlement math
	// never reads it.
	ActualOutputAmount *big.Int
	ProofRef           string

	Deadline         int64
	CreatedAt        int64
	ProofSubmittedAt int64

	ProofSubmitted bool
	Disputed       bool
	Completed      bool
}

// HasReferrer reports whether the escrow carries a commission-bearing
// referrer. Self-referral is always treated as no referrer.
func (e *Escrow) HasReferrer() bool {
	if e == nil {
		return false
	}
	return e.Referrer != ([20]byte{}) && e.Referrer != e.Depositor
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.TradeAmount = cloneBigInt(e.TradeAmount)
	clone.GrossFee = cloneBigInt(e.GrossFee)
	clone.ReferrerCommission = cloneBigInt(e.ReferrerCommission)
	clone.UserDiscount = cloneBigInt(e.UserDiscount)
	clone.ActualFeeCharged = cloneBigInt(e.ActualFeeCharged)
	clone.ExpectedInputAmount = cloneBigInt(e.ExpectedInputAmount)
	clone.ActualOutputAmount = cloneBigInt(e.ActualOutputAmount)
	return &clone
}

// NormalizeAsset canonicalises an asset symbol for comparison and storage.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("escrow: asset symbol required")
	}
	return trimmed, nil
}

// SanitizeEscrow validates and normalises the supplied escrow definition,
// returning a cloned instance with canonical asset casing and non-nil amount
// fields. The original value is not mutated.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	clone := e.Clone()
	input, err := NormalizeAsset(clone.ExpectedInputAsset)
	if err != nil {
		return nil, err
	}
	clone.ExpectedInputAsset = input
	output, err := NormalizeAsset(clone.ExpectedOutputAsset)
	if err != nil {
		return nil, err
	}
	clone.ExpectedOutputAsset = output
	if !clone.Tier.Valid() {
		return nil, fmt.Errorf("escrow: invalid tier %d", clone.Tier)
	}
	for _, amount := range []*big.Int{
		clone.TradeAmount, clone.GrossFee, clone.ReferrerCommission,
		clone.UserDiscount, clone.ActualFeeCharged, clone.ExpectedInputAmount,
		clone.ActualOutputAmount,
	} {
		if amount.Sign() < 0 {
			return nil, fmt.Errorf("escrow: negative amount")
		}
	}
	if clone.ActualFeeCharged.Cmp(clone.ReferrerCommission) < 0 {
		return nil, fmt.Errorf("escrow: commission exceeds charged fee")
	}
	return clone, nil
}

// ReferrerLedger is the running per-partner aggregate of referred volume and
// owed commission. Ledgers are created lazily on the first escrow that
// references the referrer and are never deleted.
type ReferrerLedger struct {
	Referrer               [20]byte
	TotalTransactions      uint64
	PendingVolume          *big.Int
	ConfirmedVolume        *big.Int
	TotalCommissionEarned  *big.Int
	TotalCommissionClaimed *big.Int
	PendingCommission      *big.Int
}

// NewReferrerLedger returns an empty ledger for the supplied referrer.
func NewReferrerLedger(referrer [20]byte) *ReferrerLedger {
	return &ReferrerLedger{
		Referrer:               referrer,
		PendingVolume:          big.NewInt(0),
		ConfirmedVolume:        big.NewInt(0),
		TotalCommissionEarned:  big.NewInt(0),
		TotalCommissionClaimed: big.NewInt(0),
		PendingCommission:      big.NewInt(0),
	}
}

// Clone returns a deep copy of the ledger.
func (l *ReferrerLedger) Clone() *ReferrerLedger {
	if l == nil {
		return nil
	}
	clone := *l
	clone.PendingVolume = cloneBigInt(l.PendingVolume)
	clone.ConfirmedVolume = cloneBigInt(l.ConfirmedVolume)
	clone.TotalCommissionEarned = cloneBigInt(l.TotalCommissionEarned)
	clone.TotalCommissionClaimed = cloneBigInt(l.TotalCommissionClaimed)
	clone.PendingCommission = cloneBigInt(l.PendingCommission)
	return &clone
}

// SanitizeLedger normalises nil amounts and rejects negative aggregates.
func SanitizeLedger(l *ReferrerLedger) (*ReferrerLedger, error) {
	if l == nil {
		return nil, fmt.Errorf("escrow: nil referrer ledger")
	}
	clone := l.Clone()
	for _, amount := range []*big.Int{
		clone.PendingVolume, clone.ConfirmedVolume, clone.TotalCommissionEarned,
		clone.TotalCommissionClaimed, clone.PendingCommission,
	} {
		if amount.Sign() < 0 {
			return nil, fmt.Errorf("escrow: negative ledger aggregate")
		}
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
