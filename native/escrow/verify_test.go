package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func quotedEscrow() *Escrow {
	return &Escrow{
		ExpectedInputAsset:  "USDC",
		ExpectedOutputAsset: "SOL",
		ExpectedInputAmount: big.NewInt(500),
	}
}

func multiHopReceipt() ExecutionReceipt {
	return ExecutionReceipt{
		Success:  true,
		ProofRef: "tx-multihop",
		Events: []SwapEvent{
			{InputAsset: "USDC", InputAmount: big.NewInt(500), OutputAsset: "ETH", OutputAmount: big.NewInt(3)},
			{InputAsset: "ETH", InputAmount: big.NewInt(3), OutputAsset: "SOL", OutputAmount: big.NewInt(77)},
		},
	}
}

func TestVerifyExecutionMultiHop(t *testing.T) {
	out, err := VerifyExecution(quotedEscrow(), multiHopReceipt())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("output amount = %s, want 77", out)
	}
}

func TestVerifyExecutionIgnoresIntermediateLegs(t *testing.T) {
	receipt := multiHopReceipt()
	receipt.Events[0].OutputAsset = "WBTC"
	receipt.Events[1].InputAsset = "WBTC"
	receipt.Events[1].InputAmount = big.NewInt(999_999)
	if _, err := VerifyExecution(quotedEscrow(), receipt); err != nil {
		t.Fatalf("intermediate legs should not be inspected: %v", err)
	}
}

func TestVerifyExecutionFailureModes(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*ExecutionReceipt)
		wantErr error
	}{
		{"failed status", func(r *ExecutionReceipt) { r.Success = false }, ErrProofExecutionFailed},
		{"empty route", func(r *ExecutionReceipt) { r.Events = nil }, ErrProofEmptyRoute},
		{"wrong input asset", func(r *ExecutionReceipt) { r.Events[0].InputAsset = "DAI" }, ErrProofInputAsset},
		{"wrong input amount", func(r *ExecutionReceipt) { r.Events[0].InputAmount = big.NewInt(499) }, ErrProofInputAmount},
		{"wrong output asset", func(r *ExecutionReceipt) { r.Events[1].OutputAsset = "BTC" }, ErrProofOutputAsset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			receipt := multiHopReceipt()
			tc.mutate(&receipt)
			if _, err := VerifyExecution(quotedEscrow(), receipt); !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestSanitizeReceiptNormalizesAssets(t *testing.T) {
	receipt := ExecutionReceipt{
		Success:  true,
		ProofRef: "  tx-1  ",
		Events: []SwapEvent{
			{InputAsset: " usdc ", InputAmount: big.NewInt(500), OutputAsset: "sol"},
		},
	}
	clean, err := receipt.Sanitize()
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if clean.ProofRef != "tx-1" {
		t.Fatalf("proof ref = %q", clean.ProofRef)
	}
	if clean.Events[0].InputAsset != "USDC" || clean.Events[0].OutputAsset != "SOL" {
		t.Fatalf("assets not normalized: %+v", clean.Events[0])
	}
	if clean.Events[0].OutputAmount == nil || clean.Events[0].OutputAmount.Sign() != 0 {
		t.Fatalf("nil amount not defaulted")
	}
}

func TestSanitizeReceiptRejectsBadLegs(t *testing.T) {
	receipt := ExecutionReceipt{
		Success: true,
		Events: []SwapEvent{
			{InputAsset: "USDC", InputAmount: big.NewInt(-1), OutputAsset: "SOL"},
		},
	}
	if _, err := receipt.Sanitize(); err == nil {
		t.Fatalf("negative amount accepted")
	}
	receipt.Events[0].InputAmount = big.NewInt(1)
	receipt.Events[0].OutputAsset = "  "
	if _, err := receipt.Sanitize(); err == nil {
		t.Fatalf("blank asset accepted")
	}
}
