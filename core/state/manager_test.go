package state

import (
	"errors"
	"math/big"
	"testing"

	"feevault/core/types"
	"feevault/native/escrow"
	"feevault/native/fees"
	"feevault/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func sampleEscrow() *escrow.Escrow {
	return &escrow.Escrow{
		ID:                  [32]byte{0x11},
		Depositor:           testAddr(0x01),
		Platform:            testAddr(0x02),
		Referrer:            testAddr(0x03),
		Tier:                fees.TierPremium,
		TradeAmount:         big.NewInt(1_000_000_000),
		GrossFee:            big.NewInt(10_000_000),
		ReferrerCommission:  big.NewInt(3_000_000),
		UserDiscount:        big.NewInt(1_000_000),
		ActualFeeCharged:    big.NewInt(9_000_000),
		ExpectedInputAsset:  "USDC",
		ExpectedOutputAsset: "SOL",
		ExpectedInputAmount: big.NewInt(500),
		ActualOutputAmount:  big.NewInt(0),
		Deadline:            1_700_003_600,
		CreatedAt:           1_700_000_000,
	}
}

func TestManagerEscrowRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	esc := sampleEscrow()
	if err := m.EscrowPut(esc); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := m.EscrowGet(esc.ID)
	if !ok {
		t.Fatalf("escrow not found after put")
	}
	if got.Tier != fees.TierPremium {
		t.Fatalf("tier = %v", got.Tier)
	}
	if got.ActualFeeCharged.Cmp(esc.ActualFeeCharged) != 0 {
		t.Fatalf("fee charged = %s", got.ActualFeeCharged)
	}
	if got.ExpectedInputAsset != "USDC" || got.ExpectedOutputAsset != "SOL" {
		t.Fatalf("assets = %q/%q", got.ExpectedInputAsset, got.ExpectedOutputAsset)
	}
	if got.Deadline != esc.Deadline || got.CreatedAt != esc.CreatedAt {
		t.Fatalf("timestamps did not survive: %d %d", got.Deadline, got.CreatedAt)
	}

	if err := m.EscrowRemove(esc.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := m.EscrowGet(esc.ID); ok {
		t.Fatalf("escrow survived removal")
	}
}

func TestManagerListEligible(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	plain := sampleEscrow()
	proven := sampleEscrow()
	proven.ID = [32]byte{0x22}
	proven.ProofSubmitted = true
	proven.ProofSubmittedAt = 1_700_000_100
	proven.ProofRef = "tx-1"
	disputed := sampleEscrow()
	disputed.ID = [32]byte{0x33}
	disputed.ProofSubmitted = true
	disputed.ProofSubmittedAt = 1_700_000_100
	disputed.Disputed = true

	for _, e := range []*escrow.Escrow{plain, proven, disputed} {
		if err := m.EscrowPut(e); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	eligible, err := m.EscrowListEligible()
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(eligible) != 1 {
		t.Fatalf("eligible count = %d, want 1", len(eligible))
	}
	if eligible[0].ID != proven.ID {
		t.Fatalf("wrong escrow listed")
	}
}

func TestManagerLedgerRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	referrer := testAddr(0x07)

	if _, ok := m.ReferrerLedgerGet(referrer); ok {
		t.Fatalf("ledger reported before creation")
	}
	ledger := escrow.NewReferrerLedger(referrer)
	ledger.TotalTransactions = 3
	ledger.PendingVolume = big.NewInt(500)
	ledger.PendingCommission = big.NewInt(42)
	if err := m.ReferrerLedgerPut(ledger); err != nil {
		t.Fatalf("put ledger: %v", err)
	}
	got, ok := m.ReferrerLedgerGet(referrer)
	if !ok {
		t.Fatalf("ledger not found after put")
	}
	if got.TotalTransactions != 3 {
		t.Fatalf("transactions = %d", got.TotalTransactions)
	}
	if got.PendingVolume.Cmp(big.NewInt(500)) != 0 || got.PendingCommission.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("aggregates did not survive: %s %s", got.PendingVolume, got.PendingCommission)
	}
}

func TestManagerAccountDefaultsToZero(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := testAddr(0x09)

	acc, err := m.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Balance.Sign() != 0 {
		t.Fatalf("fresh account balance = %s", acc.Balance)
	}
	acc.Balance = big.NewInt(1_234)
	acc.Nonce = 7
	if err := m.PutAccount(addr[:], acc); err != nil {
		t.Fatalf("put account: %v", err)
	}
	got, err := m.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Nonce != 7 || got.Balance.Cmp(big.NewInt(1_234)) != 0 {
		t.Fatalf("account did not survive: nonce=%d balance=%s", got.Nonce, got.Balance)
	}
}

func TestManagerBacksEngineEndToEnd(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	engine := escrow.NewEngine()
	engine.SetState(m)
	platform := testAddr(0x01)
	engine.SetPlatform(platform)
	now := int64(1_700_000_000)
	engine.SetNowFunc(func() int64 { return now })

	depositor := testAddr(0x02)
	referrer := testAddr(0x03)
	if err := m.PutAccount(depositor[:], &types.Account{Balance: big.NewInt(1_000_000_000)}); err != nil {
		t.Fatalf("fund depositor: %v", err)
	}

	esc, err := engine.Deposit(depositor, referrer, fees.TierPremium, big.NewInt(1_000_000_000), "USDC", "SOL", big.NewInt(500), [32]byte{0x01}, 3_600)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	receipt := escrow.ExecutionReceipt{
		Success:  true,
		ProofRef: "tx-e2e",
		Events: []escrow.SwapEvent{
			{InputAsset: "USDC", InputAmount: big.NewInt(500), OutputAsset: "SOL", OutputAmount: big.NewInt(10)},
		},
	}
	if err := engine.SubmitProof(depositor, esc.ID, receipt); err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	if _, err := engine.Claim(platform, esc.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	acc, err := m.GetAccount(platform[:])
	if err != nil {
		t.Fatalf("platform account: %v", err)
	}
	if acc.Balance.Cmp(big.NewInt(6_000_000)) != 0 {
		t.Fatalf("platform revenue = %s, want 6000000", acc.Balance)
	}
	paid, err := engine.ClaimCommission(referrer)
	if err != nil {
		t.Fatalf("claim commission: %v", err)
	}
	if paid.Cmp(big.NewInt(3_000_000)) != 0 {
		t.Fatalf("commission paid = %s", paid)
	}
	if _, err := engine.Get(esc.ID); !errors.Is(err, escrow.ErrEscrowNotFound) {
		t.Fatalf("record survived settlement: %v", err)
	}
}
