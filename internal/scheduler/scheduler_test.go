package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	"github.com/smallbiznis/storefront/internal/lock"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fakeDiscounts struct {
	result discountdomain.Result
	err    error
	calls  int
}

func (f *fakeDiscounts) DeactivateExpired(context.Context) (discountdomain.Result, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeDiscounts) Redeem(context.Context, *gorm.DB, string, time.Time) (*discountdomain.Discount, error) {
	return nil, errors.New("not used")
}

func (f *fakeDiscounts) Quote(discountdomain.Discount, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeOrders struct {
	mu       sync.Mutex
	policies []orderdomain.ExpiryPolicy
	results  map[orderdomain.PolicyName]orderdomain.Result
	errs     map[orderdomain.PolicyName]error
	syncs    int
}

func (f *fakeOrders) FailStale(_ context.Context, policy orderdomain.ExpiryPolicy) (orderdomain.Result, error) {
	f.mu.Lock()
	f.policies = append(f.policies, policy)
	f.mu.Unlock()
	return f.results[policy.Name], f.errs[policy.Name]
}

func (f *fakeOrders) SyncExpiredInvoices(context.Context) (orderdomain.Result, error) {
	f.syncs++
	return orderdomain.Result{Scanned: 2, InvoicesExpired: 2}, nil
}

func (f *fakeOrders) Transition(context.Context, orderdomain.TransitionRequest) (*orderdomain.Order, error) {
	return nil, errors.New("not used")
}

func (f *fakeOrders) Get(context.Context, snowflake.ID) (*orderdomain.Order, error) {
	return nil, errors.New("not used")
}

type fakeRefunds struct {
	calls int
}

func (f *fakeRefunds) Approve(context.Context, snowflake.ID, string) (*paymentdomain.Refund, error) {
	return nil, errors.New("not used")
}

func (f *fakeRefunds) Reject(context.Context, snowflake.ID, string) (*paymentdomain.Refund, error) {
	return nil, errors.New("not used")
}

func (f *fakeRefunds) IssueApproved(context.Context) (paymentdomain.RefundResult, error) {
	f.calls++
	return paymentdomain.RefundResult{Scanned: 1, Issued: 1}, nil
}

type fixture struct {
	sched     *Scheduler
	discounts *fakeDiscounts
	orders    *fakeOrders
	refunds   *fakeRefunds
	locker    *lock.LocalLocker
	logs      *observer.ObservedLogs
	registry  *prometheus.Registry
}

func newFixture(t *testing.T, cfg config.ReconcileConfig) *fixture {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "storefront",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	core, logs := observer.New(zap.InfoLevel)
	f := &fixture{
		discounts: &fakeDiscounts{result: discountdomain.Result{Scanned: 3, Deactivated: 2}},
		orders:    &fakeOrders{results: map[orderdomain.PolicyName]orderdomain.Result{}, errs: map[orderdomain.PolicyName]error{}},
		refunds:   &fakeRefunds{},
		locker:    lock.NewLocalLocker(),
		logs:      logs,
		registry:  registry,
	}
	f.sched, err = New(Params{
		Log:         zap.New(core),
		Clock:       clock.NewFakeClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)),
		GenID:       node,
		Reconcile:   config.NewStaticReconcileConfigHolder(cfg),
		DiscountSvc: f.discounts,
		OrderSvc:    f.orders,
		RefundSvc:   f.refunds,
		Locker:      f.locker,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return f
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	f := newFixture(t, config.DefaultReconcileConfig())

	_, err := f.sched.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context, _ *jobRun) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service":  "storefront",
		"env":      "test",
		"job_name": "timeout_job",
	}
	if got := getCounterValue(t, f.registry, "storefront_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service":  "storefront",
		"env":      "test",
		"job_name": "timeout_job",
		"reason":   obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, f.registry, "storefront_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobParentCancelIsAnError(t *testing.T) {
	f := newFixture(t, config.DefaultReconcileConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sched.runJob(ctx, "canceled_job", 0, time.Minute, func(ctx context.Context, _ *jobRun) error {
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error, got %v", err)
	}
}

func TestRunOnceRunsEveryJobAndJoinsErrors(t *testing.T) {
	f := newFixture(t, config.DefaultReconcileConfig())
	f.orders.results[orderdomain.PolicyUnpaid] = orderdomain.Result{Scanned: 4, Transitioned: 3, InvoicesExpired: 3}
	f.orders.errs[orderdomain.PolicyOverdue] = errors.New("database is locked")

	err := f.sched.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), JobUpdateOverdueOrders) {
		t.Fatalf("expected overdue job error, got %v", err)
	}

	if f.discounts.calls != 1 || f.orders.syncs != 1 || f.refunds.calls != 1 {
		t.Fatalf("expected every job to run once, got discounts=%d syncs=%d refunds=%d", f.discounts.calls, f.orders.syncs, f.refunds.calls)
	}
	if len(f.orders.policies) != 2 {
		t.Fatalf("expected two order policies, got %d", len(f.orders.policies))
	}
	unpaid := f.orders.policies[0]
	if unpaid.Name != orderdomain.PolicyUnpaid || unpaid.Threshold != 24*time.Hour {
		t.Fatalf("unexpected unpaid policy %+v", unpaid)
	}
	overdue := f.orders.policies[1]
	if overdue.Name != orderdomain.PolicyOverdue || overdue.Threshold != 72*time.Hour {
		t.Fatalf("unexpected overdue policy %+v", overdue)
	}

	starts := f.logs.FilterMessage("scheduler.job.start").Len()
	finishes := f.logs.FilterMessage("scheduler.job.finish").AllUntimed()
	if starts != len(JobNames) || len(finishes) != len(JobNames) {
		t.Fatalf("expected start/finish per job, got %d/%d", starts, len(finishes))
	}
	for _, entry := range finishes {
		if entry.ContextMap()["job"] == JobUpdateUnpaidOrders {
			if got := entry.ContextMap()["processed_count"]; got != int64(3) {
				t.Fatalf("expected processed_count 3, got %v", got)
			}
		}
	}
}

func TestRunReportsSummaries(t *testing.T) {
	f := newFixture(t, config.DefaultReconcileConfig())

	summaries, err := f.sched.Run(context.Background(), JobIssueRefunds, JobUpdateDiscountStatus)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].Job != JobUpdateDiscountStatus || summaries[0].Processed != 2 {
		t.Fatalf("unexpected first summary %+v", summaries[0])
	}
	if summaries[0].Message != "2 of 3 discounts deactivated" {
		t.Fatalf("unexpected message %q", summaries[0].Message)
	}
	if summaries[1].Job != JobIssueRefunds || summaries[1].Processed != 1 {
		t.Fatalf("unexpected second summary %+v", summaries[1])
	}
}

func TestRunSkipsJobWhenLockHeld(t *testing.T) {
	f := newFixture(t, config.DefaultReconcileConfig())
	if _, ok, err := f.locker.TryLock(context.Background(), "job:"+JobIssueRefunds, time.Minute); err != nil || !ok {
		t.Fatalf("pre-lock: ok=%v err=%v", ok, err)
	}

	summaries, err := f.sched.Run(context.Background(), JobIssueRefunds)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summaries) != 1 || !summaries[0].Skipped {
		t.Fatalf("expected skipped summary, got %+v", summaries)
	}
	if f.refunds.calls != 0 {
		t.Fatalf("expected refunds job not to run")
	}
}

func TestRunOnceHonoursDisabledJobs(t *testing.T) {
	cfg := config.DefaultReconcileConfig()
	cfg.Jobs = map[string]bool{JobIssueRefunds: false, JobUpdateDiscountStatus: false}
	f := newFixture(t, cfg)

	if err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.refunds.calls != 0 || f.discounts.calls != 0 {
		t.Fatalf("disabled jobs ran: refunds=%d discounts=%d", f.refunds.calls, f.discounts.calls)
	}
	if f.orders.syncs != 1 {
		t.Fatalf("expected invoice sync to run")
	}
}

func TestResolveJobs(t *testing.T) {
	all, err := ResolveJobs("all")
	if err != nil || len(all) != len(JobNames) {
		t.Fatalf("expected all jobs, got %v %v", all, err)
	}
	ordered, err := ResolveJobs(" Issue_Refunds ", JobUpdateUnpaidOrders)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ordered) != 2 || ordered[0] != JobUpdateUnpaidOrders || ordered[1] != JobIssueRefunds {
		t.Fatalf("unexpected order %v", ordered)
	}
	if _, err := ResolveJobs("rating"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected unknown job, got %v", err)
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
