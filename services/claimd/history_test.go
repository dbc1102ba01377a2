package claimd

import (
	"math/big"
	"testing"
	"time"
)

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(2)
	h.Record(HistoryEntry{EscrowID: "a", Outcome: OutcomeSettled})
	h.Record(HistoryEntry{EscrowID: "b", Outcome: OutcomeSettled})
	h.Record(HistoryEntry{EscrowID: "c", Outcome: OutcomeFailed})

	entries := h.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].EscrowID != "c" || entries[1].EscrowID != "b" {
		t.Fatalf("unexpected order: %q, %q", entries[0].EscrowID, entries[1].EscrowID)
	}
}

func TestHistoryAssignsUniqueIDs(t *testing.T) {
	h := NewHistory(10)
	first := h.Record(HistoryEntry{EscrowID: "a"})
	second := h.Record(HistoryEntry{EscrowID: "a"})
	if first.ID == "" || second.ID == "" || first.ID == second.ID {
		t.Fatalf("ids not unique: %q vs %q", first.ID, second.ID)
	}
}

func TestHistoryStatsDerivedFromWindow(t *testing.T) {
	h := NewHistory(3)
	h.Record(HistoryEntry{
		Outcome:    OutcomeSettled,
		Revenue:    big.NewInt(6_000_000),
		Commission: big.NewInt(3_000_000),
		Elapsed:    10 * time.Millisecond,
	})
	h.Record(HistoryEntry{Outcome: OutcomeFailed, Elapsed: 20 * time.Millisecond})
	h.Record(HistoryEntry{Outcome: OutcomeRetry, Elapsed: 30 * time.Millisecond})

	stats := h.Stats()
	if stats.Settled != 1 || stats.Failed != 1 || stats.Retried != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if want := 1.0 / 3.0; stats.SuccessRate != want {
		t.Fatalf("success rate = %v, want %v", stats.SuccessRate, want)
	}
	if want := big.NewInt(6_000_000); stats.SettledRevenue.Cmp(want) != 0 {
		t.Fatalf("settled revenue = %s, want %s", stats.SettledRevenue, want)
	}
	if want := big.NewInt(3_000_000); stats.SettledCommission.Cmp(want) != 0 {
		t.Fatalf("settled commission = %s, want %s", stats.SettledCommission, want)
	}
	if stats.AvgLatency != 20*time.Millisecond {
		t.Fatalf("avg latency = %v, want 20ms", stats.AvgLatency)
	}

	// Push the settled entry out of the window: the counters must follow.
	h.Record(HistoryEntry{Outcome: OutcomeSkipped})
	stats = h.Stats()
	if stats.Settled != 0 || stats.Skipped != 1 {
		t.Fatalf("stats after eviction = %+v", stats)
	}
	if stats.SettledRevenue.Sign() != 0 {
		t.Fatalf("settled revenue = %s after eviction, want 0", stats.SettledRevenue)
	}
}
