package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	"github.com/smallbiznis/storefront/internal/lock"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobUpdateDiscountStatus = "update_discount_status"
	JobUpdateUnpaidOrders   = "update_unpaid_orders"
	JobUpdateOverdueOrders  = "update_overdue_orders"
	JobSyncExpiredInvoices  = "sync_expired_invoices"
	JobIssueRefunds         = "issue_refunds"

	// JobAll expands to every job in run order.
	JobAll = "all"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_job")
)

// JobNames lists the jobs in the order RunOnce executes them. Discounts go
// first so checkout stops offering dead codes before orders are swept.
var JobNames = []string{
	JobUpdateDiscountStatus,
	JobUpdateUnpaidOrders,
	JobUpdateOverdueOrders,
	JobSyncExpiredInvoices,
	JobIssueRefunds,
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Reconcile   *config.ReconcileConfigHolder
	DiscountSvc discountdomain.Service
	OrderSvc    orderdomain.Service
	RefundSvc   paymentdomain.RefundService
	Locker      lock.Locker `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	clock       clock.Clock
	genID       *snowflake.Node
	reconcile   *config.ReconcileConfigHolder
	discountSvc discountdomain.Service
	orderSvc    orderdomain.Service
	refundSvc   paymentdomain.RefundService
	locker      lock.Locker
	jobs        map[string]jobFunc
}

type jobFunc func(ctx context.Context, run *jobRun) error

// Summary reports one job run.
type Summary struct {
	Job       string        `json:"job"`
	RunID     string        `json:"run_id"`
	Processed int           `json:"processed"`
	Message   string        `json:"message"`
	Skipped   bool          `json:"skipped,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.DiscountSvc == nil || p.OrderSvc == nil || p.RefundSvc == nil {
		return nil, ErrInvalidConfig
	}
	reconcile := p.Reconcile
	if reconcile == nil {
		reconcile = config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	s := &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:       p.Clock,
		genID:       p.GenID,
		reconcile:   reconcile,
		discountSvc: p.DiscountSvc,
		orderSvc:    p.OrderSvc,
		refundSvc:   p.RefundSvc,
		locker:      locker,
	}
	s.jobs = map[string]jobFunc{
		JobUpdateDiscountStatus: s.UpdateDiscountStatusJob,
		JobUpdateUnpaidOrders:   s.UpdateUnpaidOrdersJob,
		JobUpdateOverdueOrders:  s.UpdateOverdueOrdersJob,
		JobSyncExpiredInvoices:  s.SyncExpiredInvoicesJob,
		JobIssueRefunds:         s.IssueRefundsJob,
	}
	return s, nil
}

// ResolveJobs expands "all" and validates job names, keeping run order.
func ResolveJobs(names ...string) ([]string, error) {
	if len(names) == 0 {
		return append([]string(nil), JobNames...), nil
	}
	wanted := map[string]bool{}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == JobAll {
			return append([]string(nil), JobNames...), nil
		}
		known := false
		for _, job := range JobNames {
			if job == name {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
		}
		wanted[name] = true
	}
	out := make([]string, 0, len(wanted))
	for _, job := range JobNames {
		if wanted[job] {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn jobFunc,
) (Summary, error) {
	start := s.clock.Now()
	summary := Summary{Job: name}
	schedMetrics := obsmetrics.Scheduler()

	cfg := s.reconcile.Get()
	token, ok, err := s.locker.TryLock(parent, "job:"+name, cfg.LockTTL)
	if err != nil {
		return summary, fmt.Errorf("%s: acquire lock: %w", name, err)
	}
	if !ok {
		schedMetrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.logger(parent).Info("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "lock_held"))
		summary.Skipped = true
		summary.Message = "skipped: another run holds the lock"
		return summary, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(parent), "job:"+name, token); err != nil {
			s.logger(parent).Warn("scheduler lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics.IncJobRun(name)

	err = fn(ctx, run)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)

	summary.RunID = run.runID
	summary.Processed = run.processedCount
	summary.Message = run.summary
	summary.Duration = s.clock.Now().Sub(start)
	if err == nil {
		schedMetrics.SetLastSuccess(name, s.clock.Now())
		return summary, nil
	}

	// The job's own deadline is a soft timeout: the next run continues from
	// whatever is still pending. Cancellation of the parent is not.
	isTimeout := errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return summary, nil
	}

	return summary, fmt.Errorf("%s: %w", name, err)
}

// Run executes the named jobs once each, in run order. Failures are joined and
// never stop the remaining jobs.
func (s *Scheduler) Run(parent context.Context, names ...string) ([]Summary, error) {
	jobs, err := ResolveJobs(names...)
	if err != nil {
		return nil, err
	}
	cfg := s.reconcile.Get()

	var (
		summaries []Summary
		errs      []error
	)
	for _, name := range jobs {
		if err := parent.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		summary, err := s.runJob(parent, name, cfg.BatchSize, cfg.JobTimeout, s.jobs[name])
		summaries = append(summaries, summary)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return summaries, errors.Join(errs...)
}

// RunOnce runs every enabled job.
func (s *Scheduler) RunOnce(parent context.Context) error {
	cfg := s.reconcile.Get()
	enabled := make([]string, 0, len(JobNames))
	for _, name := range JobNames {
		if cfg.JobEnabled(name) {
			enabled = append(enabled, name)
		}
	}
	if len(enabled) == 0 {
		return nil
	}
	_, err := s.Run(parent, enabled...)
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.reconcile.Get().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(interval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if runLag := s.clock.Now().Sub(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if current := s.reconcile.Get().Interval; current != interval {
			interval = current
			ticker.Reset(interval)
		}
		nextRun = s.clock.Now().Add(interval)
	}
}

func (s *Scheduler) UpdateDiscountStatusJob(ctx context.Context, run *jobRun) error {
	ctx = obscontext.WithJob(ctx, JobUpdateDiscountStatus)
	result, err := s.discountSvc.DeactivateExpired(ctx)
	run.AddProcessed(result.Deactivated)
	run.summary = fmt.Sprintf("%d of %d discounts deactivated", result.Deactivated, result.Scanned)
	obsmetrics.Scheduler().AddBatchProcessed(JobUpdateDiscountStatus, "discounts", result.Deactivated)
	if result.Failed > 0 {
		run.AddErrors(result.Failed)
	}
	return err
}

func (s *Scheduler) UpdateUnpaidOrdersJob(ctx context.Context, run *jobRun) error {
	cfg := s.reconcile.Get()
	return s.failOrders(ctx, run, JobUpdateUnpaidOrders, orderdomain.UnpaidPolicy(cfg.UnpaidTimeout))
}

func (s *Scheduler) UpdateOverdueOrdersJob(ctx context.Context, run *jobRun) error {
	cfg := s.reconcile.Get()
	return s.failOrders(ctx, run, JobUpdateOverdueOrders, orderdomain.OverduePolicy(cfg.OverdueGrace))
}

func (s *Scheduler) failOrders(ctx context.Context, run *jobRun, job string, policy orderdomain.ExpiryPolicy) error {
	ctx = obscontext.WithJob(ctx, job)
	result, err := s.orderSvc.FailStale(ctx, policy)
	run.AddProcessed(result.Transitioned)
	run.summary = fmt.Sprintf("%d of %d %s orders failed, %d refunds created, %d invoices expired",
		result.Transitioned, result.Scanned, policy.Name, result.RefundsCreated, result.InvoicesExpired)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddBatchProcessed(job, "orders", result.Transitioned)
	schedMetrics.AddBatchProcessed(job, "refunds", result.RefundsCreated)
	if result.Failed > 0 {
		run.AddErrors(result.Failed)
	}
	return err
}

func (s *Scheduler) SyncExpiredInvoicesJob(ctx context.Context, run *jobRun) error {
	ctx = obscontext.WithJob(ctx, JobSyncExpiredInvoices)
	result, err := s.orderSvc.SyncExpiredInvoices(ctx)
	run.AddProcessed(result.InvoicesExpired)
	run.summary = fmt.Sprintf("%d of %d invoices expired at the gateway", result.InvoicesExpired, result.Scanned)
	obsmetrics.Scheduler().AddBatchProcessed(JobSyncExpiredInvoices, "invoices", result.InvoicesExpired)
	if result.ExpireFailures > 0 {
		run.AddErrors(result.ExpireFailures)
	}
	return err
}

func (s *Scheduler) IssueRefundsJob(ctx context.Context, run *jobRun) error {
	ctx = obscontext.WithJob(ctx, JobIssueRefunds)
	result, err := s.refundSvc.IssueApproved(ctx)
	run.AddProcessed(result.Issued)
	run.summary = fmt.Sprintf("%d of %d approved refunds issued", result.Issued, result.Scanned)
	obsmetrics.Scheduler().AddBatchProcessed(JobIssueRefunds, "refunds", result.Issued)
	if result.Failed > 0 {
		run.AddErrors(result.Failed)
	}
	return err
}
