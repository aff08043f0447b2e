package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/storefront/internal/alert"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/discount"
	"github.com/smallbiznis/storefront/internal/events"
	"github.com/smallbiznis/storefront/internal/gateway"
	"github.com/smallbiznis/storefront/internal/lock"
	"github.com/smallbiznis/storefront/internal/metricspush"
	"github.com/smallbiznis/storefront/internal/observability"
	"github.com/smallbiznis/storefront/internal/order"
	"github.com/smallbiznis/storefront/internal/payment"
	"github.com/smallbiznis/storefront/internal/scheduler"
	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	pushTimeout = 10 * time.Second
)

// jobs runs reconciliation jobs once and exits, for cron-style deployments.
func main() {
	flags := pflag.NewFlagSet("jobs", pflag.ExitOnError)
	names := flags.StringSlice("job", []string{scheduler.JobAll}, "jobs to run: "+fmt.Sprint(scheduler.JobNames)+" or all")
	timeout := flags.Duration("timeout", 15*time.Minute, "deadline for the whole run")
	_ = flags.Parse(os.Args[1:])

	os.Exit(run(*names, *timeout))
}

func run(names []string, timeout time.Duration) int {
	jobs, err := scheduler.ResolveJobs(names...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	var (
		sched  *scheduler.Scheduler
		pusher metricspush.Pusher
		log    *zap.Logger
	)
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		events.Module,
		alert.Module,
		gateway.Module,

		discount.Module,
		order.Module,
		payment.Module,

		scheduler.Module,
		metricspush.Module,
		fx.Populate(&sched, &pusher, &log),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), fx.DefaultTimeout)
		defer cancelStop()
		_ = app.Stop(stopCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log = log.Named("jobs")
	summaries, runErr := sched.Run(ctx, jobs...)
	for _, summary := range summaries {
		log.Info("job summary",
			zap.String("job", summary.Job),
			zap.String("run_id", summary.RunID),
			zap.Int("processed", summary.Processed),
			zap.Bool("skipped", summary.Skipped),
			zap.Duration("duration", summary.Duration),
			zap.String("summary", summary.Message),
		)
	}

	if pusher != nil {
		pushCtx, cancelPush := context.WithTimeout(context.Background(), pushTimeout)
		if err := pusher.Push(pushCtx, prometheus.DefaultGatherer); err != nil {
			log.Warn("metrics push failed", zap.Error(err))
		}
		cancelPush()
	}

	if runErr != nil {
		log.Error("job run failed", zap.Error(runErr))
		if errors.Is(runErr, context.DeadlineExceeded) {
			log.Error("job run hit the overall deadline", zap.Duration("timeout", timeout))
		}
		return exitFailed
	}
	return exitOK
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
