package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/vessel-console/internal/api"
	"github.com/signalsfoundry/vessel-console/internal/console"
	"github.com/signalsfoundry/vessel-console/internal/logging"
	"github.com/signalsfoundry/vessel-console/internal/observability"
	"github.com/signalsfoundry/vessel-console/internal/sched"
	"github.com/signalsfoundry/vessel-console/timectrl"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:          "vessel-console",
		Short:        "Operator console core for the vessel tracking backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, newLogger(cfg))
		},
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a JSON or YAML configuration file (falls back to $CONFIG_FILE)")
	return cmd
}

// run serves the console until ctx is cancelled or a server fails.
func run(ctx context.Context, cfg console.Config, log logging.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewConsoleCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	loopMetrics, err := observability.NewLoopCollector(nil, cfg.Flight.FrameInterval)
	if err != nil {
		return fmt.Errorf("init loop metrics: %w", err)
	}

	client, err := api.NewClient(cfg.API.BaseURL, log, api.WithTimeout(cfg.API.Timeout))
	if err != nil {
		return err
	}

	clock := timectrl.NewTimeController(time.Now(), cfg.Flight.FrameInterval, timectrl.RealTime)
	scheduler := sched.NewEventScheduler(clock)
	clock.AddListener(eventLoop(scheduler, loopMetrics))

	c := console.New(cfg, scheduler, client, log, console.WithMetrics(collector))

	lis, err := net.Listen("tcp", cfg.GRPC.Listen)
	if err != nil {
		return fmt.Errorf("listen for gRPC on %s: %w", cfg.GRPC.Listen, err)
	}
	grpcServer := c.NewGRPCServer(grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()))
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           c.Router(collector.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := c.Start(gctx); err != nil {
		_ = lis.Close()
		return fmt.Errorf("start console: %w", err)
	}
	loopDone := clock.Start(gctx, 0)

	g.Go(func() error {
		log.Info(gctx, "serving HTTP", logging.String("addr", cfg.HTTP.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info(gctx, "serving gRPC health", logging.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down console")
		c.Stop()
		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	<-loopDone
	if err != nil {
		log.Error(context.Background(), "console exited", logging.Err(err))
	}
	return err
}

// eventLoop is the frame listener: it runs every due timer and animation
// frame, then records how long that took and what is still queued.
func eventLoop(s sched.EventScheduler, metrics *observability.LoopCollector) func(time.Time) {
	pending, _ := s.(interface{ Pending() int })
	return func(time.Time) {
		start := time.Now()
		s.RunDue()
		queued := 0
		if pending != nil {
			queued = pending.Pending()
		}
		metrics.ObserveTick(time.Since(start), queued)
	}
}
