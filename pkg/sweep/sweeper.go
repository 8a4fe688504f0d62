package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/leaseward/leaseward/pkg/billing"
	"github.com/leaseward/leaseward/pkg/leases"
	"github.com/leaseward/leaseward/pkg/observability"
)

// lockKey guards sweep runs across instances sharing one database.
const lockKey = "leaseward:sweep:lock"

// releaseScript deletes the lock only when this instance still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Options configures a Sweeper. Redis is optional; without it the
// sweeper assumes a single-instance deployment and runs unlocked.
type Options struct {
	Redis       *redis.Client
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Clock       clockwork.Clock
	Location    *time.Location
	Concurrency int
	LockTTL     time.Duration
}

// Result summarizes a sweep run
type Result struct {
	Skipped           bool
	DueBillables      int
	InvoicesGenerated int64
	BillableErrors    int64
	OverdueMarked     int64
	LeasesExpired     int64
	AsOf              time.Time
}

// Sweeper drives the recurring billing cycle: it expires stale leases,
// materializes invoices for every billable whose cursor has come due,
// and flips unpaid past-due invoices to overdue.
type Sweeper struct {
	billing     billing.Service
	leases      leases.Service
	redis       *redis.Client
	logger      *observability.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	loc         *time.Location
	concurrency int
	lockTTL     time.Duration
	instanceID  string
}

// New creates a Sweeper over the given services
func New(billingSvc billing.Service, leaseSvc leases.Service, opts Options) *Sweeper {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	return &Sweeper{
		billing:     billingSvc,
		leases:      leaseSvc,
		redis:       opts.Redis,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		loc:         opts.Location,
		concurrency: opts.Concurrency,
		lockTTL:     opts.LockTTL,
		instanceID:  uuid.New().String(),
	}
}

// Run executes one sweep as of the clock's current day
func (s *Sweeper) Run(ctx context.Context) (*Result, error) {
	return s.RunAsOf(ctx, s.clock.Now())
}

// RunAsOf executes one sweep against an explicit reference time. The
// time is normalized to the start of its day in the billing timezone.
func (s *Sweeper) RunAsOf(ctx context.Context, asOf time.Time) (*Result, error) {
	day := billing.StartOfDay(asOf, s.loc)
	result := &Result{AsOf: day}

	locked, err := s.acquireLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring sweep lock: %w", err)
	}
	if !locked {
		s.logger.Info("Sweep lock held by another instance, skipping run")
		s.countRun("skipped")
		result.Skipped = true
		return result, nil
	}
	defer s.releaseLock(ctx)

	start := s.clock.Now()
	s.logger.WithField("as_of", day.Format("2006-01-02")).Info("Starting invoice sweep")

	if err := s.sweep(ctx, day, result); err != nil {
		s.countRun("failed")
		return result, err
	}

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(s.clock.Now().Sub(start).Seconds())
	}
	s.countRun("completed")
	s.logger.WithFields(map[string]interface{}{
		"due_billables":      result.DueBillables,
		"invoices_generated": result.InvoicesGenerated,
		"billable_errors":    result.BillableErrors,
		"overdue_marked":     result.OverdueMarked,
		"leases_expired":     result.LeasesExpired,
	}).Info("Invoice sweep complete")
	return result, nil
}

func (s *Sweeper) sweep(ctx context.Context, day time.Time, result *Result) error {
	expired, err := s.leases.MarkExpiredLeases(ctx, day)
	if err != nil {
		return fmt.Errorf("expiring leases: %w", err)
	}
	result.LeasesExpired = expired

	due, err := s.billing.DueForInvoicing(ctx, day)
	if err != nil {
		return fmt.Errorf("listing due billables: %w", err)
	}
	result.DueBillables = len(due)
	if s.metrics != nil {
		s.metrics.SweepDueBillables.Set(float64(len(due)))
	}

	var generated, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, b := range due {
		billable := b
		g.Go(func() error {
			n, err := s.sweepBillable(gctx, billable.ID, day)
			atomic.AddInt64(&generated, n)
			if err != nil {
				// One bad billable must not sink the whole sweep.
				atomic.AddInt64(&failed, 1)
				s.logger.WithError(err).WithField("billable_id", billable.ID).Error("Sweep failed for billable")
				if s.metrics != nil {
					s.metrics.SweepErrorsTotal.Inc()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	result.InvoicesGenerated = generated
	result.BillableErrors = failed

	overdue, err := s.billing.SweepOverdue(ctx, day)
	if err != nil {
		return fmt.Errorf("marking overdue invoices: %w", err)
	}
	result.OverdueMarked = overdue
	if s.metrics != nil {
		s.metrics.InvoicesOverdueTotal.Add(float64(overdue))
	}
	return nil
}

// sweepBillable generates invoices until the billable's cursor passes
// the sweep day. A conflict means another instance advanced the cursor
// first; that billable's work is already done.
func (s *Sweeper) sweepBillable(ctx context.Context, billableID int64, day time.Time) (int64, error) {
	var generated int64
	for {
		if err := ctx.Err(); err != nil {
			return generated, err
		}
		invoice, err := s.billing.GenerateInvoice(ctx, billableID, day)
		switch {
		case err == nil:
			generated++
			if s.metrics != nil {
				s.metrics.InvoicesGeneratedTotal.WithLabelValues(string(invoice.Category)).Inc()
			}
			s.logger.WithInvoice(invoice.ID).WithField("billable_id", billableID).Debug("Generated invoice")
		case errors.Is(err, billing.ErrNotDue),
			errors.Is(err, billing.ErrBillableInactive),
			errors.Is(err, billing.ErrConflict):
			return generated, nil
		default:
			return generated, err
		}
	}
}

func (s *Sweeper) acquireLock(ctx context.Context) (bool, error) {
	if s.redis == nil {
		return true, nil
	}
	return s.redis.SetNX(ctx, lockKey, s.instanceID, s.lockTTL).Result()
}

func (s *Sweeper) releaseLock(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := releaseScript.Run(ctx, s.redis, []string{lockKey}, s.instanceID).Err(); err != nil && err != redis.Nil {
		s.logger.WithError(err).Warn("Failed to release sweep lock")
	}
}

func (s *Sweeper) countRun(resultLabel string) {
	if s.metrics != nil {
		s.metrics.SweepRunsTotal.WithLabelValues(resultLabel).Inc()
	}
}
