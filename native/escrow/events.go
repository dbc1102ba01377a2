package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"feevault/core/types"
)

const (
	EventTypeDeposited         = "feeescrow.deposited"
	EventTypeProofSubmitted    = "feeescrow.proof_submitted"
	EventTypeClaimed           = "feeescrow.claimed"
	EventTypeDisputed          = "feeescrow.disputed"
	EventTypeRefunded          = "feeescrow.refunded"
	EventTypeCommissionClaimed = "feeescrow.commission_claimed"
)

// NewDepositedEvent returns the canonical event payload for a newly created
// fee escrow.
func NewDepositedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeDeposited, e) }

// NewProofSubmittedEvent returns the canonical event payload emitted when an
// execution proof passes verification.
func NewProofSubmittedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeProofSubmitted, e)
	if e != nil {
		evt.Attributes["proofRef"] = e.ProofRef
		evt.Attributes["proofSubmittedAt"] = strconv.FormatInt(e.ProofSubmittedAt, 10)
	}
	return evt
}

// NewClaimedEvent returns the canonical event payload for a settled escrow,
// recording how the charged fee was split.
func NewClaimedEvent(e *Escrow, revenue, commission *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeClaimed, e)
	if revenue != nil {
		evt.Attributes["platformRevenue"] = revenue.String()
	}
	if commission != nil {
		evt.Attributes["referrerCommission"] = commission.String()
	}
	return evt
}

// NewDisputedEvent returns the canonical event payload emitted when the
// depositor blocks settlement.
func NewDisputedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeDisputed, e) }

// NewRefundedEvent returns the canonical event payload for a refund of the
// charged fee back to the depositor.
func NewRefundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeRefunded, e) }

// NewCommissionClaimedEvent returns the canonical event payload for a referrer
// commission payout.
func NewCommissionClaimedEvent(referrer [20]byte, amount *big.Int) *types.Event {
	attrs := make(map[string]string)
	attrs["referrer"] = hex.EncodeToString(referrer[:])
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeCommissionClaimed, Attributes: attrs}
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["depositor"] = hex.EncodeToString(sanitized.Depositor[:])
	attrs["platform"] = hex.EncodeToString(sanitized.Platform[:])
	attrs["tier"] = sanitized.Tier.String()
	attrs["tradeAmount"] = sanitized.TradeAmount.String()
	attrs["feeCharged"] = sanitized.ActualFeeCharged.String()
	attrs["inputAsset"] = sanitized.ExpectedInputAsset
	attrs["outputAsset"] = sanitized.ExpectedOutputAsset
	attrs["deadline"] = strconv.FormatInt(sanitized.Deadline, 10)
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	if sanitized.HasReferrer() {
		attrs["referrer"] = hex.EncodeToString(sanitized.Referrer[:])
		attrs["commission"] = sanitized.ReferrerCommission.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
