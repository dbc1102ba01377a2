package claimd

import (
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcomes recorded per settlement attempt.
const (
	OutcomeSettled = "settled"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeRetry   = "retry"
)

// HistoryEntry records one completed settlement attempt for inspection via
// the admin API. Settled entries carry the amounts distributed: the platform
// revenue and the referrer commission, in base units.
type HistoryEntry struct {
	ID          string        `json:"id"`
	EscrowID    string        `json:"escrow_id"`
	Outcome     string        `json:"outcome"`
	Attempts    int           `json:"attempts"`
	Revenue     *big.Int      `json:"revenue,omitempty"`
	Commission  *big.Int      `json:"commission,omitempty"`
	Error       string        `json:"error,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	CompletedAt time.Time     `json:"completed_at"`
}

// History retains a bounded, append-only window of settlement attempts. The
// aggregate counters exposed by Stats are derived from the retained entries
// rather than tracked separately, so they can never drift from the record.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	limit   int
}

// NewHistory creates a history buffer retaining at most limit entries.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 256
	}
	return &History{limit: limit}
}

// Record appends an entry, assigning it a unique identifier, and evicts the
// oldest entries beyond the retention limit.
func (h *History) Record(entry HistoryEntry) HistoryEntry {
	entry.ID = uuid.NewString()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
	return entry
}

// Entries returns the retained attempts, newest first.
func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	for i, entry := range h.entries {
		out[len(h.entries)-1-i] = entry
	}
	return out
}

// Stats summarises the retained window: outcome counts, the success rate over
// recorded attempts, and the total amounts distributed by settled entries.
type Stats struct {
	Settled           int           `json:"settled"`
	Skipped           int           `json:"skipped"`
	Failed            int           `json:"failed"`
	Retried           int           `json:"retried"`
	SuccessRate       float64       `json:"success_rate"`
	SettledRevenue    *big.Int      `json:"settled_revenue"`
	SettledCommission *big.Int      `json:"settled_commission"`
	AvgLatency        time.Duration `json:"avg_latency"`
}

// Stats derives aggregate counters from the retained entries.
func (h *History) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := Stats{
		SettledRevenue:    big.NewInt(0),
		SettledCommission: big.NewInt(0),
	}
	var total time.Duration
	for _, entry := range h.entries {
		switch entry.Outcome {
		case OutcomeSettled:
			stats.Settled++
			if entry.Revenue != nil {
				stats.SettledRevenue.Add(stats.SettledRevenue, entry.Revenue)
			}
			if entry.Commission != nil {
				stats.SettledCommission.Add(stats.SettledCommission, entry.Commission)
			}
		case OutcomeSkipped:
			stats.Skipped++
		case OutcomeFailed:
			stats.Failed++
		case OutcomeRetry:
			stats.Retried++
		}
		total += entry.Elapsed
	}
	if len(h.entries) > 0 {
		stats.SuccessRate = float64(stats.Settled) / float64(len(h.entries))
		stats.AvgLatency = total / time.Duration(len(h.entries))
	}
	return stats
}
