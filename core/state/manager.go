package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"feevault/core/types"
	"feevault/native/escrow"
	"feevault/native/fees"
	"feevault/storage"
)

// Manager persists escrow records, referrer ledgers, and account balances in
// a key-value store, backing the escrow engine's state interface.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager on top of the given database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// EscrowVaultAddress returns the custody address holding charged fees for
// escrows that have not yet settled.
func (m *Manager) EscrowVaultAddress() ([20]byte, error) {
	return moduleAddress("feevault/escrow-vault"), nil
}

// CommissionPoolAddress returns the custody address holding settled referrer
// commissions awaiting payout.
func (m *Manager) CommissionPoolAddress() ([20]byte, error) {
	return moduleAddress("feevault/commission-pool"), nil
}

type storedEscrow struct {
	ID                  [32]byte
	Depositor           [20]byte
	Platform            [20]byte
	Referrer            [20]byte
	Tier                uint8
	TradeAmount         *big.Int
	GrossFee            *big.Int
	ReferrerCommission  *big.Int
	UserDiscount        *big.Int
	ActualFeeCharged    *big.Int
	ExpectedInputAsset  string
	ExpectedOutputAsset string
	ExpectedInputAmount *big.Int
	ActualOutputAmount  *big.Int
	ProofRef            string
	Deadline            uint64
	CreatedAt           uint64
	ProofSubmittedAt    uint64
	ProofSubmitted      bool
	Disputed            bool
	Completed           bool
}

func toStoredEscrow(e *escrow.Escrow) *storedEscrow {
	return &storedEscrow{
		ID:                  e.ID,
		Depositor:           e.Depositor,
		Platform:            e.Platform,
		Referrer:            e.Referrer,
		Tier:                uint8(e.Tier),
		TradeAmount:         e.TradeAmount,
		GrossFee:            e.GrossFee,
		ReferrerCommission:  e.ReferrerCommission,
		UserDiscount:        e.UserDiscount,
		ActualFeeCharged:    e.ActualFeeCharged,
		ExpectedInputAsset:  e.ExpectedInputAsset,
		ExpectedOutputAsset: e.ExpectedOutputAsset,
		ExpectedInputAmount: e.ExpectedInputAmount,
		ActualOutputAmount:  e.ActualOutputAmount,
		ProofRef:            e.ProofRef,
		Deadline:            uint64(e.Deadline),
		CreatedAt:           uint64(e.CreatedAt),
		ProofSubmittedAt:    uint64(e.ProofSubmittedAt),
		ProofSubmitted:      e.ProofSubmitted,
		Disputed:            e.Disputed,
		Completed:           e.Completed,
	}
}

func fromStoredEscrow(s *storedEscrow) *escrow.Escrow {
	return &escrow.Escrow{
		ID:                  s.ID,
		Depositor:           s.Depositor,
		Platform:            s.Platform,
		Referrer:            s.Referrer,
		Tier:                fees.Tier(s.Tier),
		TradeAmount:         s.TradeAmount,
		GrossFee:            s.GrossFee,
		ReferrerCommission:  s.ReferrerCommission,
		UserDiscount:        s.UserDiscount,
		ActualFeeCharged:    s.ActualFeeCharged,
		ExpectedInputAsset:  s.ExpectedInputAsset,
		ExpectedOutputAsset: s.ExpectedOutputAsset,
		ExpectedInputAmount: s.ExpectedInputAmount,
		ActualOutputAmount:  s.ActualOutputAmount,
		ProofRef:            s.ProofRef,
		Deadline:            int64(s.Deadline),
		CreatedAt:           int64(s.CreatedAt),
		ProofSubmittedAt:    int64(s.ProofSubmittedAt),
		ProofSubmitted:      s.ProofSubmitted,
		Disputed:            s.Disputed,
		Completed:           s.Completed,
	}
}

// EscrowPut persists an escrow record, sanitising it first.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(toStoredEscrow(sanitized))
	if err != nil {
		return fmt.Errorf("state: encode escrow: %w", err)
	}
	return m.db.Put(escrowKey(sanitized.ID), encoded)
}

// EscrowGet loads an escrow record. Missing or undecodable records report as
// absent.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	raw, err := m.db.Get(escrowKey(id))
	if err != nil {
		return nil, false
	}
	var stored storedEscrow
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	return fromStoredEscrow(&stored), true
}

// EscrowRemove releases an escrow record's storage.
func (m *Manager) EscrowRemove(id [32]byte) error {
	return m.db.Delete(escrowKey(id))
}

// EscrowListEligible scans the escrow keyspace for records that are proven,
// undisputed, and not yet completed.
func (m *Manager) EscrowListEligible() ([]*escrow.Escrow, error) {
	var out []*escrow.Escrow
	err := m.db.Iterate(escrowPrefix, func(key, value []byte) error {
		var stored storedEscrow
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return fmt.Errorf("state: decode escrow %x: %w", key, err)
		}
		if stored.ProofSubmitted && !stored.Completed && !stored.Disputed {
			out = append(out, fromStoredEscrow(&stored))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type storedLedger struct {
	Referrer               [20]byte
	TotalTransactions      uint64
	PendingVolume          *big.Int
	ConfirmedVolume        *big.Int
	TotalCommissionEarned  *big.Int
	TotalCommissionClaimed *big.Int
	PendingCommission      *big.Int
}

// ReferrerLedgerPut persists a referrer's commission ledger.
func (m *Manager) ReferrerLedgerPut(l *escrow.ReferrerLedger) error {
	sanitized, err := escrow.SanitizeLedger(l)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&storedLedger{
		Referrer:               sanitized.Referrer,
		TotalTransactions:      sanitized.TotalTransactions,
		PendingVolume:          sanitized.PendingVolume,
		ConfirmedVolume:        sanitized.ConfirmedVolume,
		TotalCommissionEarned:  sanitized.TotalCommissionEarned,
		TotalCommissionClaimed: sanitized.TotalCommissionClaimed,
		PendingCommission:      sanitized.PendingCommission,
	})
	if err != nil {
		return fmt.Errorf("state: encode ledger: %w", err)
	}
	return m.db.Put(referrerKey(sanitized.Referrer), encoded)
}

// ReferrerLedgerGet loads a referrer's commission ledger.
func (m *Manager) ReferrerLedgerGet(referrer [20]byte) (*escrow.ReferrerLedger, bool) {
	raw, err := m.db.Get(referrerKey(referrer))
	if err != nil {
		return nil, false
	}
	var stored storedLedger
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	return &escrow.ReferrerLedger{
		Referrer:               stored.Referrer,
		TotalTransactions:      stored.TotalTransactions,
		PendingVolume:          stored.PendingVolume,
		ConfirmedVolume:        stored.ConfirmedVolume,
		TotalCommissionEarned:  stored.TotalCommissionEarned,
		TotalCommissionClaimed: stored.TotalCommissionClaimed,
		PendingCommission:      stored.PendingCommission,
	}, true
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads an account, returning a zero-balance account for addresses
// never seen before.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &types.Account{Balance: big.NewInt(0)}, nil
		}
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account %x: %w", addr, err)
	}
	balance := stored.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	return &types.Account{Nonce: stored.Nonce, Balance: balance}, nil
}

// PutAccount persists an account.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{Nonce: account.Nonce, Balance: balance})
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), encoded)
}
