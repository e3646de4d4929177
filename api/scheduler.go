/*
scheduler.go - Overdue sweeper

PURPOSE:
  Reconciliation only runs when something touches an invoice, so an unpaid
  invoice whose due date passes would stay Sent forever. The sweeper
  periodically refreshes every Sent or Partial invoice that is past due,
  which flips it to Overdue and publishes invoice.overdue.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start
  - Lists tenants, then each tenant's candidates, and refreshes them on a
    bounded conc pool (Workers goroutines)
  - A refresh that finds nothing to change is a no-op, so overlapping manual
    and scheduled sweeps are harmless

CONFIGURATION:
  - Interval: how often to sweep (default: 1 hour)
  - Workers:  concurrent refreshes (default: 4)
  - Enabled:  whether Start launches the loop

USAGE:
  sweeper := NewOverdueSweeper(ledger, publisher, log, SweeperConfig{...})
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: SweepOverdue (manual sweep), RefreshStatus (single invoice)
  - ledger/reconcile.go: the overdue rule
*/
package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/logger"
)

// SweeperConfig configures an OverdueSweeper.
type SweeperConfig struct {
	Enabled  bool
	Interval time.Duration
	Workers  int
	// Clock selects candidates; it should match the ledger's clock.
	Clock func() time.Time
}

// OverdueSweeper flags past-due invoices as Overdue.
type OverdueSweeper struct {
	Ledger    *ledger.Ledger
	Publisher events.Publisher

	cfg SweeperConfig
	log *logger.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewOverdueSweeper creates a sweeper. Zero config fields take defaults.
func NewOverdueSweeper(l *ledger.Ledger, pub events.Publisher, log *logger.Logger, cfg SweeperConfig) *OverdueSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &OverdueSweeper{
		Ledger:    l,
		Publisher: pub,
		cfg:       cfg,
		log:       log.With("component", "overdue_sweeper"),
	}
}

// Start begins the periodic sweep. Calling Start twice is a no-op.
func (s *OverdueSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.log.Infow("sweeper disabled, not starting")
		return
	}
	if s.running {
		return
	}

	s.ticker = time.NewTicker(s.cfg.Interval)
	s.stop = make(chan struct{})
	s.running = true
	s.wg.Add(1)

	go s.run()

	s.log.Infow("sweeper started", "interval", s.cfg.Interval, "workers", s.cfg.Workers)
}

// Stop stops the loop and waits for an in-flight sweep to finish.
func (s *OverdueSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.running = false
	s.log.Infow("sweeper stopped")
}

func (s *OverdueSweeper) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	s.sweepLogged(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.sweepLogged(ctx)
		case <-s.stop:
			return
		}
	}
}

func (s *OverdueSweeper) sweepLogged(ctx context.Context) {
	if _, err := s.RunNow(ctx); err != nil && ctx.Err() == nil {
		s.log.Errorw("overdue sweep failed", "error", err)
	}
}

// RunNow sweeps every tenant once. Failures on single invoices are counted
// and logged; only a failure to list tenants or candidates is returned.
func (s *OverdueSweeper) RunNow(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	now := s.cfg.Clock()
	res := SweepResult{StartedAt: now}

	companies, err := s.Ledger.Companies(ctx)
	if err != nil {
		return res, err
	}
	res.Companies = len(companies)

	var checked, overdue, failed atomic.Int64
	p := pool.New().WithMaxGoroutines(s.cfg.Workers)

	for _, company := range companies {
		candidates, err := s.Ledger.OverdueCandidates(ctx, company, now)
		if err != nil {
			p.Wait()
			return res, err
		}
		for _, inv := range candidates {
			company, id := company, inv.ID
			p.Go(func() {
				checked.Add(1)
				refreshed, changed, err := s.Ledger.RefreshStatus(ctx, company, id)
				if err != nil {
					failed.Add(1)
					s.log.Warnw("refresh failed", "company_id", company, "invoice_id", id, "error", err)
					return
				}
				if !changed || refreshed.Status != ledger.InvoiceOverdue {
					return
				}
				overdue.Add(1)
				e := events.ForInvoice(events.InvoiceOverdue, refreshed, now)
				if err := s.Publisher.Publish(ctx, e); err != nil {
					s.log.Warnw("event not published", "event_name", e.Name, "invoice_id", id, "error", err)
				}
			})
		}
	}
	p.Wait()

	res.Checked = int(checked.Load())
	res.Overdue = int(overdue.Load())
	res.Failed = int(failed.Load())
	res.Duration = time.Since(start).String()

	if res.Checked > 0 {
		s.log.Infow("overdue sweep completed",
			"companies", res.Companies,
			"checked", res.Checked,
			"overdue", res.Overdue,
			"failed", res.Failed,
			"duration", res.Duration)
	}
	return res, nil
}
