package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lidercargo/cargotrack/internal/models"
	"github.com/lidercargo/cargotrack/internal/services/scans"
)

type Repository interface {
	// ClaimDueOrders забирает партию заказов с next_sweep_at <= now и
	// сдвигает им next_sweep_at на lease вперёд, чтобы параллельный
	// инстанс не взял ту же партию.
	ClaimDueOrders(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error)
}

type Evaluator interface {
	EvaluateDue(ctx context.Context, trackingNumber string) (*scans.ScanResult, error)
}

// Sweeper материализует дозревшие авто-события по расписанию. Сами сроки
// считает машина статусов; sweeper лишь находит заказы, у которых что-то
// могло дозреть, и прогоняет их через переоценку.
type Sweeper struct {
	repo Repository
	eval Evaluator

	interval    time.Duration
	batchSize   int
	concurrency int
	lease       time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalCreated        atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, eval Evaluator) *Sweeper {
	return &Sweeper{
		repo: repo, eval: eval,
		interval:          30 * time.Second,
		batchSize:         100,
		concurrency:       10,
		lease:             120 * time.Second,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(interval time.Duration, batchSize, concurrency int, lease time.Duration) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	if lease > 0 {
		s.lease = lease
	}
	return s
}

// Trigger forces an immediate sweep cycle (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalCreated   int64      `json:"totalCreated"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalClaimed:   s.totalClaimed.Load(),
		TotalProcessed: s.totalProcessed.Load(),
		TotalCreated:   s.totalCreated.Load(),
		TotalErrors:    s.totalErrors.Load(),
		InFlight:       s.inFlight.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())

	orders, err := s.repo.ClaimDueOrders(ctx, now, s.batchSize, s.lease)
	if err != nil {
		slog.Error("claim due orders", "error", err.Error())
		s.lastErrorMu.Lock()
		s.lastError = err.Error()
		s.lastErrorMu.Unlock()
		return
	}
	s.totalClaimed.Add(int64(len(orders)))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, o := range orders {
		sem <- struct{}{}
		wg.Add(1)
		oCopy := o
		s.inFlight.Add(1)
		go func() {
			defer func() {
				s.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			res, err := s.eval.EvaluateDue(ctx, oCopy.TrackingNumber)
			if err != nil {
				s.totalErrors.Add(1)
				s.lastErrorMu.Lock()
				s.lastError = err.Error()
				s.lastErrorMu.Unlock()
				slog.Error("evaluate due order", "tracking_number", oCopy.TrackingNumber, "error", err.Error())
			} else if n := len(res.AutoEvents); n > 0 {
				s.totalCreated.Add(int64(n))
				slog.Info("auto events materialized", "tracking_number", oCopy.TrackingNumber, "count", n)
			}
			s.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}
