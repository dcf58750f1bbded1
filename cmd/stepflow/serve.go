package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/metrics"
	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/mcp"
	"github.com/rendis/stepflow/pkg/workflow"
)

const (
	eventLogCapacity = 256
	shutdownTimeout  = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve [file]...",
	Short: "Serve workflows over MCP with cron schedules and metrics",
	Long: `Loads the given workflow documents into a catalog and serves it:
the MCP server on stdio, the cron scheduler for every document's schedules,
and Prometheus metrics over HTTP. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServe(cmd.Context(), args, withMCP)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("metrics-addr", "", "Listen address of the /metrics, /healthz and /workflows endpoints")
	serveCmd.Flags().Duration("interval", 0, "How often the scheduler checks for due jobs")
	serveCmd.Flags().Bool("mcp", true, "Serve MCP tools on stdio")
}

// services is everything serve wires together.
type services struct {
	catalog   *workflow.Catalog
	events    *streaming.EventLog
	hub       *streaming.MemoryHub
	collector *metrics.Collector
	scheduler *scheduler.Scheduler
	mcp       *mcp.Server
}

func buildServices(paths []string, reg *actions.Registry) (*services, error) {
	s := &services{
		catalog:   workflow.NewCatalog(),
		events:    streaming.NewEventLog(eventLogCapacity),
		hub:       streaming.NewMemoryHub(),
		collector: metrics.NewCollector(metrics.DefaultNamespace),
	}

	opts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithEventAppender(streaming.Tee(s.events, s.hub)),
		workflow.WithObserver(s.collector),
	}

	s.scheduler = scheduler.NewScheduler(s.catalog, logger, scheduler.WithInterval(cfg.SchedulerInterval.Duration))

	for _, path := range paths {
		w, err := workflow.LoadFile(path, reg, opts...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := s.catalog.Register(w); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := s.scheduler.SetWorkflowJobs(w.Name(), scheduler.JobsFor(w.Name(), w.Schedules())); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	s.mcp = mcp.NewServer(mcp.ServerDeps{
		Catalog:         s.catalog,
		Actions:         reg,
		Events:          s.events,
		WorkflowOptions: opts,
		Scheduler:       s.scheduler,
		Logger:          logger,
	})
	return s, nil
}

func runServe(ctx context.Context, paths []string, withMCP bool) error {
	reg, err := builtinActions()
	if err != nil {
		return err
	}
	svc, err := buildServices(paths, reg)
	if err != nil {
		return err
	}

	logger.Info("stepflow serving",
		slog.Int("workflows", svc.catalog.Len()),
		slog.Int("schedules", len(svc.scheduler.Jobs())),
		slog.String("metrics_addr", cfg.MetricsAddr),
		slog.Bool("mcp", withMCP),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.scheduler.Run(ctx)
	})
	g.Go(func() error {
		return logEvents(ctx, svc.hub)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveOps(ctx, cfg.MetricsAddr, newOpsRouter(svc.collector, svc.catalog))
		})
	}
	if withMCP {
		g.Go(func() error {
			// The client closing stdio ends the whole process.
			defer cancel()
			err := svc.mcp.Serve(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// logEvents mirrors run events to the debug log until ctx is done.
func logEvents(ctx context.Context, hub *streaming.MemoryHub) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			logger.Debug("run event",
				slog.String("workflow", e.Workflow),
				slog.String("run_id", e.RunID),
				slog.String("step_id", e.StepID),
				slog.String("type", e.Type),
			)
		}
	}
}

func serveOps(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops server shutdown", slog.String("error", err.Error()))
			return srv.Close()
		}
		return nil
	}
}
