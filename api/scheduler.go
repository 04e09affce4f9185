/*
scheduler.go - Background ledger verification

PURPOSE:
  Periodically folds the ledger and compares every snapshot against it,
  so drift is noticed without an operator calling /api/admin/verify.
  Drift is logged at error level; repairs stay a manual decision
  (POST /api/admin/rebuild, POST /api/orders/{id}/repair, cmd/reconcile).

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Keeps the most recent runs in memory for the admin UI

USAGE:
  scheduler := NewReconciliationScheduler(svc, logger)
  scheduler.CheckInterval = cfg.VerifyInterval
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: VerifyLedger endpoint (manual verification)
  - inventory/reconcile.go: VerifyLedger, RebuildSnapshot, RepairOrder
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/inventory-engine/inventory"
)

const maxRuns = 20

// ReconciliationRun records one verification pass.
type ReconciliationRun struct {
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Drifts     []DriftDTO `json:"drifts"`
	Error      string     `json:"error,omitempty"`
}

// ReconciliationScheduler handles automated ledger verification.
type ReconciliationScheduler struct {
	Service       *inventory.Service
	Logger        *logrus.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.Mutex
	runs   []ReconciliationRun
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(svc *inventory.Service, logger *logrus.Logger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Service:       svc,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

func (rs *ReconciliationScheduler) log() *logrus.Entry {
	return rs.Logger.WithField("module", "scheduler")
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.log().Info("scheduler disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.log().WithField("interval", rs.CheckInterval.String()).Info("scheduler started")
}

// Stop stops the scheduler.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log().Info("scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow(context.Background())

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// RunNow verifies the ledger and records the outcome.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) ReconciliationRun {
	run := ReconciliationRun{StartedAt: time.Now().UTC()}

	drifts, err := rs.Service.VerifyLedger(ctx)
	run.FinishedAt = time.Now().UTC()
	run.Drifts = toDriftDTOs(drifts)
	if err != nil {
		run.Error = err.Error()
		rs.log().WithError(err).Error("ledger verification failed")
	}
	for _, d := range run.Drifts {
		rs.log().WithFields(logrus.Fields{
			"product_id":         d.ProductID,
			"location_id":        d.LocationID,
			"missing":            d.Missing,
			"operator_attention": true,
		}).Error("snapshot disagrees with ledger")
	}

	rs.runsMu.Lock()
	rs.runs = append(rs.runs, run)
	if len(rs.runs) > maxRuns {
		rs.runs = rs.runs[len(rs.runs)-maxRuns:]
	}
	rs.runsMu.Unlock()

	return run
}

// Runs returns recorded runs, newest first.
func (rs *ReconciliationScheduler) Runs() []ReconciliationRun {
	rs.runsMu.Lock()
	defer rs.runsMu.Unlock()

	out := make([]ReconciliationRun, len(rs.runs))
	for i, r := range rs.runs {
		out[len(rs.runs)-1-i] = r
	}
	return out
}
