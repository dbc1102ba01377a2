package claimd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feevault/native/common"
	"feevault/native/escrow"
	"feevault/observability"
)

// Service states. Transitions: Stopped -> Running <-> Paused -> Stopped.
const (
	StateStopped = "stopped"
	StateRunning = "running"
	StatePaused  = "paused"
)

// ErrNotRunning is returned when Start is called on a service that is already
// running or when controls are invoked on a stopped service.
var ErrNotRunning = errors.New("claimd: service not running")

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("claimd: service already started")

const dispatchIdleDelay = 25 * time.Millisecond

type queuedTask struct {
	id        [32]byte
	notBefore time.Time
}

// Service discovers claimable escrows and settles them concurrently, with
// bounded parallelism, retry with backoff, and operator pause control.
type Service struct {
	cfg     Config
	client  SettlementClient
	log     *slog.Logger
	metrics *observability.ClaimdMetrics
	limiter *rate.Limiter
	history *History
	now     func() time.Time

	mu       sync.Mutex
	state    string
	queue    []queuedTask
	queued   map[[32]byte]struct{}
	inFlight map[[32]byte]struct{}
	wake     chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option adjusts service construction.
type Option func(*Service)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *observability.ClaimdMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source (test only).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a claim service from a validated config.
func New(cfg Config, client SettlementClient, opts ...Option) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("claimd: settlement client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	svc := &Service{
		cfg:      cfg,
		client:   client,
		log:      slog.Default(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), maxInt(cfg.RateBurst, 1)),
		history:  NewHistory(cfg.HistoryLimit),
		now:      time.Now,
		state:    StateStopped,
		queued:   make(map[[32]byte]struct{}),
		inFlight: make(map[[32]byte]struct{}),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Start launches the discovery and dispatch loops. The service begins paused
// when the config requests it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateRunning
	if s.cfg.PauseOnStart {
		s.state = StatePaused
	}
	s.metrics.SetPause(s.state == StatePaused)
	s.mu.Unlock()

	s.wg.Add(2)
	go s.discoverLoop(runCtx)
	go s.dispatchLoop(runCtx)
	s.log.Info("claim service started", "paused", s.cfg.PauseOnStart)
	return nil
}

// Stop halts both loops and waits for in-flight settlements to drain. Safe to
// call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel = nil
	s.state = StateStopped
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info("claim service stopped")
}

// Pause suspends new settlement dispatches. Attempts already in flight run to
// completion.
func (s *Service) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.state = StatePaused
	s.metrics.SetPause(true)
	s.log.Info("claim service paused")
}

// Resume re-enables settlement dispatches and wakes the discovery loop so a
// scan runs immediately instead of waiting out the current interval.
func (s *Service) Resume() {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.metrics.SetPause(false)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.log.Info("claim service resumed")
}

// Status summarises service state for administrative endpoints.
type Status struct {
	State      string `json:"state"`
	QueueDepth int    `json:"queue_depth"`
	InFlight   int    `json:"in_flight"`
	Stats      Stats  `json:"stats"`
}

// Status reports the current lifecycle state, queue occupancy, and window
// statistics.
func (s *Service) Status() Status {
	s.mu.Lock()
	status := Status{
		State:      s.state,
		QueueDepth: len(s.queue),
		InFlight:   len(s.inFlight),
	}
	s.mu.Unlock()
	status.Stats = s.history.Stats()
	return status
}

// History exposes the retained attempt log.
func (s *Service) History() []HistoryEntry {
	return s.history.Entries()
}

func (s *Service) discoverLoop(ctx context.Context) {
	defer s.wg.Done()
	// Scan immediately so a fresh service does not wait a full interval
	// before its first settlement.
	s.scan(ctx)
	ticker := time.NewTicker(s.cfg.ScanInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		case <-s.wake:
			s.scan(ctx)
		}
	}
}

func (s *Service) scan(ctx context.Context) {
	s.mu.Lock()
	paused := s.state != StateRunning
	s.mu.Unlock()
	if paused {
		return
	}
	eligible, err := s.client.Eligible(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("discovery scan failed", "error", err)
			s.metrics.RecordError("discovery")
		}
		return
	}
	enqueued := 0
	s.mu.Lock()
	for _, esc := range eligible {
		if enqueued >= s.cfg.BatchSize {
			break
		}
		if esc == nil {
			continue
		}
		if _, ok := s.queued[esc.ID]; ok {
			continue
		}
		if _, ok := s.inFlight[esc.ID]; ok {
			continue
		}
		s.queue = append(s.queue, queuedTask{id: esc.ID})
		s.queued[esc.ID] = struct{}{}
		enqueued++
	}
	depth := len(s.queue)
	s.mu.Unlock()
	s.metrics.SetQueueDepth(depth)
	if enqueued > 0 {
		s.log.Debug("discovered claimable escrows", "enqueued", enqueued, "queue_depth", depth)
	}
}

func (s *Service) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		task, ok := s.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(dispatchIdleDelay):
			}
			continue
		}
		s.wg.Add(1)
		go func(task queuedTask) {
			defer s.wg.Done()
			s.settle(ctx, task.id)
		}(task)
	}
}

// dequeue pops the next ready task while holding the concurrency bound. It
// returns false when the service is paused, the queue is empty, no queued
// task has passed its cooldown, or all workers are busy.
func (s *Service) dequeue() (queuedTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return queuedTask{}, false
	}
	if len(s.inFlight) >= s.cfg.MaxConcurrent {
		return queuedTask{}, false
	}
	now := s.now()
	for i, task := range s.queue {
		if task.notBefore.After(now) {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		delete(s.queued, task.id)
		s.inFlight[task.id] = struct{}{}
		s.metrics.SetQueueDepth(len(s.queue))
		s.metrics.SetInFlight(len(s.inFlight))
		return task, true
	}
	return queuedTask{}, false
}

func (s *Service) release(id [32]byte) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.metrics.SetInFlight(len(s.inFlight))
	s.mu.Unlock()
}

func (s *Service) requeue(id [32]byte, cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	if _, ok := s.queued[id]; ok {
		return
	}
	s.queue = append(s.queue, queuedTask{id: id, notBefore: s.now().Add(cooldown)})
	s.queued[id] = struct{}{}
	s.metrics.SetQueueDepth(len(s.queue))
}

// terminalClaimError reports whether retrying the claim can never succeed
// without external intervention.
func terminalClaimError(err error) bool {
	switch {
	case errors.Is(err, escrow.ErrEscrowNotFound),
		errors.Is(err, escrow.ErrEscrowCompleted),
		errors.Is(err, escrow.ErrEscrowDisputed),
		errors.Is(err, escrow.ErrProofMissing),
		errors.Is(err, escrow.ErrNotPlatform):
		return true
	case errors.Is(err, common.ErrModulePaused):
		return false
	}
	return false
}

// skippableClaimError reports whether the failure means the escrow no longer
// needs settling at all.
func skippableClaimError(err error) bool {
	return errors.Is(err, escrow.ErrEscrowNotFound) ||
		errors.Is(err, escrow.ErrEscrowCompleted) ||
		errors.Is(err, escrow.ErrEscrowDisputed)
}

// claimable reports whether an escrow is still in the settleable state.
func claimable(esc *escrow.Escrow) bool {
	return esc != nil && esc.ProofSubmitted && !esc.Completed && !esc.Disputed
}

func (s *Service) settle(ctx context.Context, id [32]byte) {
	defer s.release(id)
	start := s.now()
	escrowID := hex.EncodeToString(id[:])

	// Re-check eligibility against the current record before spending a
	// rate-limiter slot. Escrows refunded or disputed since discovery are
	// dropped without a history entry.
	current, err := s.client.Get(ctx, id)
	switch {
	case errors.Is(err, escrow.ErrEscrowNotFound):
		s.log.Debug("escrow gone before settlement", "escrow", escrowID)
		return
	case err == nil && !claimable(current):
		s.log.Debug("escrow no longer eligible", "escrow", escrowID)
		return
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		var settlement *escrow.Settlement
		settlement, lastErr = s.client.Claim(ctx, id)
		if lastErr == nil {
			elapsed := s.now().Sub(start)
			s.history.Record(HistoryEntry{
				EscrowID:    escrowID,
				Outcome:     OutcomeSettled,
				Attempts:    attempts,
				Revenue:     settlement.PlatformRevenue,
				Commission:  settlement.ReferrerCommission,
				Elapsed:     elapsed,
				CompletedAt: s.now(),
			})
			s.metrics.RecordSettled()
			s.metrics.ObserveSettle(OutcomeSettled, elapsed)
			s.log.Info("escrow settled", "escrow", escrowID, "attempts", attempts)
			return
		}
		if terminalClaimError(lastErr) {
			break
		}
		if attempt < s.cfg.MaxAttempts {
			s.metrics.RecordRetry()
			backoff := s.cfg.RetryDelay.Duration * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}

	elapsed := s.now().Sub(start)
	switch {
	case skippableClaimError(lastErr):
		s.history.Record(HistoryEntry{
			EscrowID:    escrowID,
			Outcome:     OutcomeSkipped,
			Attempts:    attempts,
			Error:       lastErr.Error(),
			Elapsed:     elapsed,
			CompletedAt: s.now(),
		})
		s.metrics.ObserveSettle(OutcomeSkipped, elapsed)
		s.log.Info("escrow no longer claimable", "escrow", escrowID, "reason", lastErr)
	case terminalClaimError(lastErr):
		s.history.Record(HistoryEntry{
			EscrowID:    escrowID,
			Outcome:     OutcomeFailed,
			Attempts:    attempts,
			Error:       lastErr.Error(),
			Elapsed:     elapsed,
			CompletedAt: s.now(),
		})
		s.metrics.RecordError("terminal")
		s.metrics.ObserveSettle(OutcomeFailed, elapsed)
		s.log.Error("settlement failed permanently", "escrow", escrowID, "error", lastErr)
	default:
		// Transient failure: the escrow stays claimable, so park it
		// behind a cooldown and let a later dispatch retry.
		s.history.Record(HistoryEntry{
			EscrowID:    escrowID,
			Outcome:     OutcomeRetry,
			Attempts:    attempts,
			Error:       lastErr.Error(),
			Elapsed:     elapsed,
			CompletedAt: s.now(),
		})
		s.metrics.RecordError("transient")
		s.metrics.ObserveSettle(OutcomeRetry, elapsed)
		s.requeue(id, s.cfg.RetryCooldown.Duration)
		s.log.Warn("settlement deferred", "escrow", escrowID, "error", lastErr, "cooldown", s.cfg.RetryCooldown.Duration)
	}
}
