package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Verification failure modes are distinguished explicitly so callers and
// operators can tell exactly which part of the proof diverged from the quote.
var (
	ErrProofExecutionFailed = errors.New("escrow: execution status not successful")
	ErrProofEmptyRoute      = errors.New("escrow: execution receipt carries no swap events")
	ErrProofInputAsset      = errors.New("escrow: first leg input asset mismatch")
	ErrProofInputAmount     = errors.New("escrow: first leg input amount mismatch")
	ErrProofOutputAsset     = errors.New("escrow: last leg output asset mismatch")
)

// SwapEvent describes one leg of the external trade's execution path. Events
// are validated at the boundary before they reach the matching logic, so the
// engine never sees untyped proof payloads.
type SwapEvent struct {
	InputAsset   string
	InputAmount  *big.Int
	OutputAsset  string
	OutputAmount *big.Int
}

// ExecutionReceipt is the caller-submitted description of the external
// trade's actual execution: an ordered sequence of one or more sub-swap legs,
// an overall status flag, and an opaque proof reference retained for audit.
type ExecutionReceipt struct {
	Success  bool
	Events   []SwapEvent
	ProofRef string
}

// Sanitize normalises asset symbols and nil amounts on every leg.
func (r ExecutionReceipt) Sanitize() (ExecutionReceipt, error) {
	clone := ExecutionReceipt{
		Success:  r.Success,
		ProofRef: strings.TrimSpace(r.ProofRef),
		Events:   make([]SwapEvent, 0, len(r.Events)),
	}
	for i, evt := range r.Events {
		input, err := NormalizeAsset(evt.InputAsset)
		if err != nil {
			return ExecutionReceipt{}, fmt.Errorf("escrow: event %d: %w", i, err)
		}
		output, err := NormalizeAsset(evt.OutputAsset)
		if err != nil {
			return ExecutionReceipt{}, fmt.Errorf("escrow: event %d: %w", i, err)
		}
		inAmt := cloneBigInt(evt.InputAmount)
		outAmt := cloneBigInt(evt.OutputAmount)
		if inAmt.Sign() < 0 || outAmt.Sign() < 0 {
			return ExecutionReceipt{}, fmt.Errorf("escrow: event %d: negative amount", i)
		}
		clone.Events = append(clone.Events, SwapEvent{
			InputAsset:   input,
			InputAmount:  inAmt,
			OutputAsset:  output,
			OutputAmount: outAmt,
		})
	}
	return clone, nil
}

// VerifyExecution checks a sanitised execution receipt against the quoted
// parameters recorded on the escrow and returns the actual output amount of
// the final leg. The matching rule is deliberately coarse rather than
// cryptographic: the first event must match the quoted input asset and
// amount, the last event must match the quoted output asset, and the overall
// status must indicate success. Intermediate hops are not inspected, which is
// what allows multi-hop execution paths. The returned output amount is stored
// for audit only; it is not re-validated against a minimum, so the protocol
// trusts that success plus a matching input implies an acceptable trade.
func VerifyExecution(esc *Escrow, receipt ExecutionReceipt) (*big.Int, error) {
	if esc == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	if !receipt.Success {
		return nil, ErrProofExecutionFailed
	}
	if len(receipt.Events) == 0 {
		return nil, ErrProofEmptyRoute
	}
	first := receipt.Events[0]
	last := receipt.Events[len(receipt.Events)-1]
	if first.InputAsset != esc.ExpectedInputAsset {
		return nil, ErrProofInputAsset
	}
	expected := cloneBigInt(esc.ExpectedInputAmount)
	if first.InputAmount == nil || first.InputAmount.Cmp(expected) != 0 {
		return nil, ErrProofInputAmount
	}
	if last.OutputAsset != esc.ExpectedOutputAsset {
		return nil, ErrProofOutputAsset
	}
	return cloneBigInt(last.OutputAmount), nil
}
