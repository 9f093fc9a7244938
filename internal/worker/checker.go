// Package worker runs the periodic jobs: subscription expiry, entitlement
// reconciliation and, when scheduled, the ledger sweep.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/robfig/cron/v3"

	"pixelmint-ledger/internal/ledger"
	"pixelmint-ledger/internal/settlement"
	"pixelmint-ledger/internal/subscription"
	"pixelmint-ledger/lib/sl"
)

const jobTimeout = 5 * time.Minute

type Schedules struct {
	Expiry    string
	Reconcile string
	Sweep     string
}

type Checker struct {
	subs   *subscription.Service
	engine *settlement.Engine
	ledger *ledger.Store
	rs     *redsync.Redsync
	cron   *cron.Cron
	log    *slog.Logger
}

// NewChecker wires the jobs. rs may be nil, in which case every instance
// runs every job; the jobs are idempotent either way.
func NewChecker(subs *subscription.Service, engine *settlement.Engine, ledger *ledger.Store, rs *redsync.Redsync, log *slog.Logger) *Checker {
	return &Checker{
		subs:   subs,
		engine: engine,
		ledger: ledger,
		rs:     rs,
		cron:   cron.New(),
		log:    log.With(sl.Module("worker")),
	}
}

// Schedule registers the jobs. An empty spec leaves that job unscheduled.
func (c *Checker) Schedule(s Schedules) error {
	jobs := []struct {
		name string
		spec string
		fn   func(ctx context.Context) error
	}{
		{"expire_subscriptions", s.Expiry, c.ExpireSubscriptions},
		{"reconcile_orders", s.Reconcile, c.ReconcileOrders},
		{"sweep_ledger", s.Sweep, c.SweepLedger},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		name, fn := job.name, job.fn
		if _, err := c.cron.AddFunc(job.spec, func() { c.run(name, fn) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", name, job.spec, err)
		}
		c.log.Info("job scheduled", slog.String("job", name), slog.String("spec", job.spec))
	}
	return nil
}

func (c *Checker) Start() {
	c.cron.Start()
	c.log.Info("background worker started")
}

// Stop waits for running jobs or ctx, whichever comes first.
func (c *Checker) Stop(ctx context.Context) {
	done := c.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		c.log.Warn("worker stop timed out")
	}
}

// run executes fn under a cluster-wide lock when redsync is configured.
// A held lock means another instance is already running the job.
func (c *Checker) run(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	log := c.log.With(slog.String("job", name))

	if c.rs != nil {
		mutex := c.rs.NewMutex("worker_lock:"+name,
			redsync.WithExpiry(jobTimeout),
			redsync.WithTries(1),
		)
		if err := mutex.LockContext(ctx); err != nil {
			log.Debug("job skipped, lock held elsewhere", sl.Err(err))
			return
		}
		defer func() {
			if _, err := mutex.UnlockContext(context.Background()); err != nil {
				log.Warn("release job lock", sl.Err(err))
			}
		}()
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		log.Error("job failed", sl.Err(err))
		return
	}
	log.Debug("job finished", slog.Duration("took", time.Since(start)))
}

func (c *Checker) ExpireSubscriptions(ctx context.Context) error {
	users, err := c.subs.ExpireDue(ctx)
	if err != nil {
		return err
	}
	for _, id := range users {
		c.log.Info("subscription expired", sl.User(id))
	}
	return nil
}

func (c *Checker) ReconcileOrders(ctx context.Context) error {
	report, err := c.engine.Reconcile(ctx)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d orders still not entitled", report.Failed, report.Scanned)
	}
	return nil
}

func (c *Checker) SweepLedger(ctx context.Context) error {
	_, err := c.ledger.SweepExpired(ctx)
	return err
}
