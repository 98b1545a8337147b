package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/beads/pkg/actor"
	"github.com/cuemby/beads/pkg/api"
	"github.com/cuemby/beads/pkg/bus"
	"github.com/cuemby/beads/pkg/checkpoint"
	"github.com/cuemby/beads/pkg/config"
	"github.com/cuemby/beads/pkg/log"
	"github.com/cuemby/beads/pkg/metrics"
	"github.com/cuemby/beads/pkg/projection"
	"github.com/cuemby/beads/pkg/reconciler"
	"github.com/cuemby/beads/pkg/replay"
	"github.com/cuemby/beads/pkg/scheduler"
	"github.com/cuemby/beads/pkg/store"
	"github.com/cuemby/beads/pkg/timer"
)

// Version information (set via ldflags during build).
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "beadsd",
	Short:   "beadsd runs the durable bead workflow orchestrator",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("beadsd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("config", "", "Path to a beadsd YAML config file")
	runCmd.Flags().String("data-dir", "", "Override store.data_dir")
	runCmd.Flags().String("api-addr", "", "Override api.listen_addr")
	runCmd.Flags().String("metrics-addr", "", "Override metrics.listen_addr")
	runCmd.Flags().String("log-level", "", "Override log_level")
	runCmd.Flags().Bool("log-json", false, "Force JSON log output")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the beadsd daemon: store, scheduler, reconciler, timers, actors, and the HTTP API",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigWithOverrides(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("beadsd")

	es, err := store.NewBoltStore(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("opening event store: %w", err)
	}
	defer es.Close()

	eventBus := bus.NewWithBufferSize(cfg.Bus.SubscriberBufferSize)
	sched := scheduler.New(es, eventBus, scheduler.NewPriorityStrategy())
	sched.Start(time.Duration(cfg.Scheduler.ReevaluateInterval))
	defer sched.Stop()
	logger.Info().Msg("scheduler started")

	ckptMgr, err := checkpoint.NewManager(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("opening checkpoint manager: %w", err)
	}
	defer ckptMgr.Close()
	stopCheckpointing := startCheckpointLoop(es, ckptMgr, time.Duration(cfg.Checkpoint.Interval), cfg.Checkpoint.Retain)
	defer stopCheckpointing()

	replayEngine := replay.NewEngine(es, 200)
	startupState, _, err := replayEngine.ReplayAll(0, projection.Initial(), nil)
	if err != nil {
		return fmt.Errorf("replaying event log at startup: %w", err)
	}
	logger.Info().Int("beads", len(startupState.Beads)).Msg("replay complete")

	timerSched := timer.NewScheduler(cfg.Timer.MaxConcurrent)
	timerSched.Start(time.Duration(cfg.Timer.PollInterval))
	defer timerSched.Stop()

	supervisor := actor.New("dag-supervisor", func() actor.Handler {
		return newDAGSupervisorHandler(sched, 3)
	}, actor.Supervisable(5))
	supervisor.Start()
	defer supervisor.Stop()

	recon := reconciler.New(
		&durableDesired{store: es},
		newLiveProjection(eventBus),
		&schedulerExecutor{sched: sched, store: es, supervisor: supervisor},
		reconciler.ErrorPolicy{
			StopOnFirstError:     cfg.Reconciler.StopOnFirstError,
			MaxConsecutiveErrors: cfg.Reconciler.MaxConsecutiveErrors,
		},
	)
	recon.Start(time.Duration(cfg.Reconciler.Interval))
	defer recon.Stop()
	logger.Info().Msg("reconciler started")

	collector := metrics.NewCollector(sched)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents([]string{"store", "scheduler", "reconciler", "checkpoint"})
	metrics.RegisterComponent("store", true, "ready")
	metrics.RegisterComponent("scheduler", true, "ready")
	metrics.RegisterComponent("reconciler", true, "ready")
	metrics.RegisterComponent("checkpoint", true, "ready")
	metrics.RegisterComponent("timer", true, "ready")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/health", metrics.HealthHandler())
	metricsMux.Handle("/ready", metrics.ReadyHandler())
	metricsMux.Handle("/live", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics endpoint listening")

	apiServer := api.NewServer(sched)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(cfg.API.ListenAddr); err != nil {
			errCh <- fmt.Errorf("api server error: %w", err)
		}
	}()
	logger.Info().Str("addr", cfg.API.ListenAddr).Msg("api server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("daemon error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		logger.Warn().Err(err).Msg("api server shutdown error")
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func loadConfigWithOverrides(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Store.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("api-addr"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetBool("log-json"); v {
		cfg.LogJSON = true
	}
	return cfg, nil
}

// startCheckpointLoop periodically snapshots the replayed projection state
// and prunes old checkpoints, returning a function that stops the loop.
func startCheckpointLoop(es store.EventStore, mgr *checkpoint.Manager, interval time.Duration, retain int) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var cursor uint64
		state := projection.Initial()
		for {
			select {
			case <-ticker.C:
				events, err := es.ReplayFrom(cursor)
				if err != nil {
					continue
				}
				if len(events) == 0 {
					continue
				}
				state = projection.Fold(state, events)
				cursor = events[len(events)-1].Offset
				if _, err := mgr.Create(state, cursor); err != nil {
					continue
				}
				_ = mgr.Prune(retain)
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}
