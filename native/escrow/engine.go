package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"feevault/core/events"
	"feevault/core/types"
	nativecommon "feevault/native/common"
	"feevault/native/fees"
)

var (
	errNilState = errors.New("escrow engine: state not configured")

	// ErrEscrowNotFound is returned when the referenced escrow does not
	// exist, including after it has been settled or refunded and its
	// storage reclaimed.
	ErrEscrowNotFound = errors.New("escrow engine: escrow not found")
	// ErrLedgerNotFound is returned when a referrer has no commission
	// ledger yet.
	ErrLedgerNotFound = errors.New("escrow engine: referrer ledger not found")
	// ErrEscrowExists rejects a deposit reusing an existing (depositor,
	// seed) pair.
	ErrEscrowExists = errors.New("escrow engine: escrow already exists")
	// ErrInsufficientBalance rejects a deposit the depositor cannot fund.
	ErrInsufficientBalance = errors.New("escrow engine: insufficient balance")
	// ErrNotDepositor rejects proof, dispute, and refund calls from anyone
	// but the escrow's depositor.
	ErrNotDepositor = errors.New("escrow engine: caller is not the depositor")
	// ErrNotPlatform rejects claim calls from anyone but the platform
	// authority recorded on the escrow.
	ErrNotPlatform = errors.New("escrow engine: caller is not the platform authority")
	// ErrEscrowCompleted rejects any mutation of a completed escrow.
	ErrEscrowCompleted = errors.New("escrow engine: escrow already completed")
	// ErrEscrowDisputed rejects a claim on a disputed escrow.
	ErrEscrowDisputed = errors.New("escrow engine: escrow is disputed")
	// ErrProofMissing rejects a claim or dispute before proof submission.
	ErrProofMissing = errors.New("escrow engine: execution proof not submitted")
	// ErrProofAlreadySubmitted rejects a second proof submission.
	ErrProofAlreadySubmitted = errors.New("escrow engine: proof already submitted")
	// ErrDisputeWindowClosed rejects a dispute raised after the fixed
	// window following proof submission.
	ErrDisputeWindowClosed = errors.New("escrow engine: dispute window closed")
	// ErrRefundNotEligible rejects a refund before expiry on an undisputed
	// escrow.
	ErrRefundNotEligible = errors.New("escrow engine: refund not eligible")
	// ErrNoPendingCommission rejects a commission claim with nothing owed.
	ErrNoPendingCommission = errors.New("escrow engine: no pending commission")
)

const (
	moduleName = "feeescrow"

	// DisputeWindowSecs is the fixed interval after proof submission during
	// which the depositor may block settlement.
	DisputeWindowSecs int64 = 400
)

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	EscrowRemove(id [32]byte) error
	EscrowListEligible() ([]*Escrow, error)
	ReferrerLedgerGet(referrer [20]byte) (*ReferrerLedger, bool)
	ReferrerLedgerPut(*ReferrerLedger) error
	EscrowVaultAddress() ([20]byte, error)
	CommissionPoolAddress() ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow state machine with external state and event
// emitters. Every mutating operation executes as a single atomic unit against
// a given record: the engine serialises them internally, standing in for the
// single-writer-per-record guarantee of the host ledger substrate.
type Engine struct {
	mu       sync.Mutex
	state    engineState
	emitter  events.Emitter
	platform [20]byte
	nowFn    func() int64
	pauses   nativecommon.PauseView
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPlatform configures the platform authority that receives net revenue
// and is the only caller permitted to claim.
func (e *Engine) SetPlatform(addr [20]byte) { e.platform = addr }

// Platform returns the configured platform authority.
func (e *Engine) Platform() [20]byte { return e.platform }

// SetPauses installs the pause view guarding all mutating operations.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// EscrowID derives the deterministic record address for a depositor and a
// caller-chosen seed.
func EscrowID(depositor [20]byte, seed [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash(depositor[:], seed[:])
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow engine: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

func (e *Engine) loadLedger(referrer [20]byte) *ReferrerLedger {
	if ledger, ok := e.state.ReferrerLedgerGet(referrer); ok {
		return ledger
	}
	return NewReferrerLedger(referrer)
}

// Deposit computes the fee breakdown for the quoted trade, moves the charged
// fee from the depositor into escrow custody, and creates the record. The
// referrer's ledger is created lazily and its pending aggregates incremented
// when a distinct referrer is present.
func (e *Engine) Deposit(depositor, referrer [20]byte, tier fees.Tier, tradeAmount *big.Int, inputAsset, outputAsset string, inputAmount *big.Int, seed [32]byte, ttl int64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	normalizedInput, err := NormalizeAsset(inputAsset)
	if err != nil {
		return nil, err
	}
	normalizedOutput, err := NormalizeAsset(outputAsset)
	if err != nil {
		return nil, err
	}
	if inputAmount == nil || inputAmount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow engine: expected input amount must be positive")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("escrow engine: ttl must be positive")
	}
	breakdown, err := fees.Compute(tradeAmount, tier)
	if err != nil {
		return nil, err
	}
	id := EscrowID(depositor, seed)
	if _, ok := e.state.EscrowGet(id); ok {
		return nil, ErrEscrowExists
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return nil, err
	}
	now := e.now()
	esc := &Escrow{
		ID:                  id,
		Depositor:           depositor,
		Platform:            e.platform,
		Referrer:            referrer,
		Tier:                tier,
		TradeAmount:         cloneBigInt(tradeAmount),
		GrossFee:            breakdown.GrossFee,
		ReferrerCommission:  breakdown.ReferrerCommission,
		UserDiscount:        breakdown.UserDiscount,
		ActualFeeCharged:    breakdown.ActualFeeCharged,
		ExpectedInputAsset:  normalizedInput,
		ExpectedOutputAsset: normalizedOutput,
		ExpectedInputAmount: cloneBigInt(inputAmount),
		ActualOutputAmount:  big.NewInt(0),
		Deadline:            now + ttl,
		CreatedAt:           now,
	}
	if err := e.transfer(depositor, vault, esc.ActualFeeCharged); err != nil {
		return nil, err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if esc.HasReferrer() {
		ledger := e.loadLedger(esc.Referrer)
		ledger.TotalTransactions++
		ledger.PendingVolume = new(big.Int).Add(ledger.PendingVolume, esc.TradeAmount)
		if err := e.state.ReferrerLedgerPut(ledger); err != nil {
			return nil, err
		}
	}
	e.emit(NewDepositedEvent(esc))
	return esc.Clone(), nil
}

// SubmitProof validates the depositor-submitted execution receipt against the
// quoted parameters and, on success, records the proof reference and actual
// output amount. Verification failure leaves the record untouched.
func (e *Engine) SubmitProof(caller [20]byte, id [32]byte, receipt ExecutionReceipt) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Depositor {
		return ErrNotDepositor
	}
	if esc.Completed {
		return ErrEscrowCompleted
	}
	if esc.ProofSubmitted {
		return ErrProofAlreadySubmitted
	}
	sanitized, err := receipt.Sanitize()
	if err != nil {
		return err
	}
	actualOutput, err := VerifyExecution(esc, sanitized)
	if err != nil {
		return err
	}
	esc.ProofSubmitted = true
	esc.ProofSubmittedAt = e.now()
	esc.ProofRef = sanitized.ProofRef
	esc.ActualOutputAmount = actualOutput
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewProofSubmittedEvent(esc))
	return nil
}

// Settlement reports how a claimed escrow's charged fee was split.
type Settlement struct {
	EscrowID           [32]byte
	Referrer           [20]byte
	PlatformRevenue    *big.Int
	ReferrerCommission *big.Int
}

// Claim settles a proven escrow: the referrer's commission moves into the
// shared commission pool, the platform receives the net revenue, and the
// record's storage is released. Only the platform authority may call. A claim
// on a disputed or already-completed escrow fails with a distinct error
// rather than silently no-opping.
func (e *Engine) Claim(caller [20]byte, id [32]byte) (*Settlement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if caller != esc.Platform {
		return nil, ErrNotPlatform
	}
	if esc.Completed {
		return nil, ErrEscrowCompleted
	}
	if esc.Disputed {
		return nil, ErrEscrowDisputed
	}
	if !esc.ProofSubmitted {
		return nil, ErrProofMissing
	}
	// The completion flag is the single irreversible write: once persisted,
	// no second claim or refund can pass the checks above.
	esc.Completed = true
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return nil, err
	}
	commission := big.NewInt(0)
	if esc.HasReferrer() && esc.ReferrerCommission.Sign() > 0 {
		commission = cloneBigInt(esc.ReferrerCommission)
		ledger := e.loadLedger(esc.Referrer)
		ledger.PendingVolume = new(big.Int).Sub(ledger.PendingVolume, esc.TradeAmount)
		if ledger.PendingVolume.Sign() < 0 {
			ledger.PendingVolume = big.NewInt(0)
		}
		ledger.ConfirmedVolume = new(big.Int).Add(ledger.ConfirmedVolume, esc.TradeAmount)
		ledger.TotalCommissionEarned = new(big.Int).Add(ledger.TotalCommissionEarned, commission)
		ledger.PendingCommission = new(big.Int).Add(ledger.PendingCommission, commission)
		if err := e.state.ReferrerLedgerPut(ledger); err != nil {
			return nil, err
		}
		pool, err := e.state.CommissionPoolAddress()
		if err != nil {
			return nil, err
		}
		if err := e.transfer(vault, pool, commission); err != nil {
			return nil, err
		}
	}
	revenue := new(big.Int).Sub(esc.ActualFeeCharged, commission)
	if err := e.transfer(vault, esc.Platform, revenue); err != nil {
		return nil, err
	}
	if err := e.state.EscrowRemove(id); err != nil {
		return nil, err
	}
	e.emit(NewClaimedEvent(esc, revenue, commission))
	return &Settlement{
		EscrowID:           id,
		Referrer:           esc.Referrer,
		PlatformRevenue:    revenue,
		ReferrerCommission: commission,
	}, nil
}

// Dispute blocks a pending claim. Only the depositor may call, only after
// proof submission, and only within the fixed window that starts when the
// proof was recorded. Disputing an already-disputed escrow is a no-op.
func (e *Engine) Dispute(caller [20]byte, id [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Depositor {
		return ErrNotDepositor
	}
	if esc.Completed {
		return ErrEscrowCompleted
	}
	if !esc.ProofSubmitted {
		return ErrProofMissing
	}
	if esc.Disputed {
		return nil
	}
	if e.now() > esc.ProofSubmittedAt+DisputeWindowSecs {
		return ErrDisputeWindowClosed
	}
	esc.Disputed = true
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(esc))
	return nil
}

// Refund returns the charged fee to the depositor once the escrow is past its
// expiration deadline or has been disputed, reverses the pending ledger
// increments made at deposit time, and releases the record's storage.
func (e *Engine) Refund(caller [20]byte, id [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Depositor {
		return ErrNotDepositor
	}
	if esc.Completed {
		return ErrEscrowCompleted
	}
	if !esc.Disputed && e.now() <= esc.Deadline {
		return ErrRefundNotEligible
	}
	if esc.HasReferrer() {
		ledger := e.loadLedger(esc.Referrer)
		ledger.PendingVolume = new(big.Int).Sub(ledger.PendingVolume, esc.TradeAmount)
		if ledger.PendingVolume.Sign() < 0 {
			ledger.PendingVolume = big.NewInt(0)
		}
		if ledger.TotalTransactions > 0 {
			ledger.TotalTransactions--
		}
		if err := e.state.ReferrerLedgerPut(ledger); err != nil {
			return err
		}
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	if err := e.transfer(vault, esc.Depositor, esc.ActualFeeCharged); err != nil {
		return err
	}
	if err := e.state.EscrowRemove(id); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(esc))
	return nil
}

// ClaimCommission pays out a referrer's accumulated pending commission from
// the shared pool, zeroing the pending aggregate and adding the same amount
// to the claimed total.
func (e *Engine) ClaimCommission(referrer [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	ledger, ok := e.state.ReferrerLedgerGet(referrer)
	if !ok || ledger.PendingCommission.Sign() == 0 {
		return nil, ErrNoPendingCommission
	}
	amount := cloneBigInt(ledger.PendingCommission)
	pool, err := e.state.CommissionPoolAddress()
	if err != nil {
		return nil, err
	}
	if err := e.transfer(pool, referrer, amount); err != nil {
		return nil, err
	}
	ledger.PendingCommission = big.NewInt(0)
	ledger.TotalCommissionClaimed = new(big.Int).Add(ledger.TotalCommissionClaimed, amount)
	if err := e.state.ReferrerLedgerPut(ledger); err != nil {
		return nil, err
	}
	e.emit(NewCommissionClaimedEvent(referrer, amount))
	return amount, nil
}

// Get returns a copy of a single escrow record.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadEscrow(id)
}

// Ledger returns a copy of a single referrer's commission ledger.
func (e *Engine) Ledger(referrer [20]byte) (*ReferrerLedger, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ledger, ok := e.state.ReferrerLedgerGet(referrer)
	if !ok {
		return nil, ErrLedgerNotFound
	}
	return ledger, nil
}

// Eligible lists escrows ready for settlement: proof submitted, not
// completed, not disputed. Used by the automated claim service's discovery
// loop.
func (e *Engine) Eligible() ([]*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.EscrowListEligible()
}
