package fees

import (
	"errors"
	"fmt"
	"math/big"
)

// BpsDenominator is the basis-point base used by all fee math: 10_000 == 100%.
const BpsDenominator = 10_000

// PlatformFeeRateBps is the protocol fee applied to every trade notional
// before tier adjustments (100 bps == 1%).
const PlatformFeeRateBps = 100

// ErrCommissionExceedsFee is returned when a tier schedule would owe the
// referrer more than the depositor is actually charged.
var ErrCommissionExceedsFee = errors.New("fees: referrer commission exceeds charged fee")

// Tier identifies a fee-sharing profile controlling the referrer commission
// and user discount applied to the gross protocol fee.
type Tier uint8

const (
	TierDefault Tier = iota
	TierReferred
	TierPremium
)

// Valid reports whether the tier value is within the supported range.
func (t Tier) Valid() bool {
	switch t {
	case TierDefault, TierReferred, TierPremium:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierDefault:
		return "default"
	case TierReferred:
		return "referred"
	case TierPremium:
		return "premium"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// Schedule carries the revenue-share parameters attached to a tier.
type Schedule struct {
	ReferrerShareBps uint32
	UserDiscountBps  uint32
}

// tierSchedules is the fixed enumeration of fee-sharing profiles. The default
// tier carries zero for both knobs.
var tierSchedules = map[Tier]Schedule{
	TierDefault:  {},
	TierReferred: {ReferrerShareBps: 2_000, UserDiscountBps: 500},
	TierPremium:  {ReferrerShareBps: 3_000, UserDiscountBps: 1_000},
}

// ScheduleFor resolves the fee-sharing schedule for the supplied tier.
func ScheduleFor(tier Tier) (Schedule, error) {
	sched, ok := tierSchedules[tier]
	if !ok {
		return Schedule{}, fmt.Errorf("fees: unknown tier %d", tier)
	}
	return sched, nil
}

// Breakdown summarises the fee split computed for a single trade. All values
// are fixed-point integer amounts in the fee token's base units.
type Breakdown struct {
	GrossFee           *big.Int
	ReferrerCommission *big.Int
	UserDiscount       *big.Int
	ActualFeeCharged   *big.Int
	PlatformRevenue    *big.Int
}

// Compute derives the full fee breakdown for a trade notional under the
// supplied tier. The function is pure and deterministic: it performs no I/O
// and always yields identical output for identical input, which matters
// because the same computation re-executes on independently validating nodes.
//
// All divisions truncate toward zero. This is intentional: very small trade
// amounts can zero out the commission or discount entirely even when the tier
// nominally grants one, and that behaviour is part of the documented
// semantics rather than a rounding bug.
func Compute(tradeAmount *big.Int, tier Tier) (Breakdown, error) {
	if tradeAmount == nil || tradeAmount.Sign() <= 0 {
		return Breakdown{}, fmt.Errorf("fees: trade amount must be positive")
	}
	sched, err := ScheduleFor(tier)
	if err != nil {
		return Breakdown{}, err
	}
	denom := big.NewInt(BpsDenominator)

	gross := new(big.Int).Mul(tradeAmount, big.NewInt(PlatformFeeRateBps))
	gross.Div(gross, denom)

	commission := new(big.Int).Mul(gross, big.NewInt(int64(sched.ReferrerShareBps)))
	commission.Div(commission, denom)

	discount := new(big.Int).Mul(gross, big.NewInt(int64(sched.UserDiscountBps)))
	discount.Div(discount, denom)

	charged := new(big.Int).Sub(gross, discount)
	// Never charge the depositor less than what is owed to the referrer.
	if charged.Cmp(commission) < 0 {
		return Breakdown{}, ErrCommissionExceedsFee
	}
	revenue := new(big.Int).Sub(charged, commission)

	return Breakdown{
		GrossFee:           gross,
		ReferrerCommission: commission,
		UserDiscount:       discount,
		ActualFeeCharged:   charged,
		PlatformRevenue:    revenue,
	}, nil
}

// Clone returns a deep copy of the breakdown with duplicated big.Int values.
func (b Breakdown) Clone() Breakdown {
	return Breakdown{
		GrossFee:           cloneBigInt(b.GrossFee),
		ReferrerCommission: cloneBigInt(b.ReferrerCommission),
		UserDiscount:       cloneBigInt(b.UserDiscount),
		ActualFeeCharged:   cloneBigInt(b.ActualFeeCharged),
		PlatformRevenue:    cloneBigInt(b.PlatformRevenue),
	}
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
