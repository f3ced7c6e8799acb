// Braind is the governance action daemon.
//
// It receives planned action batches over HTTP or NATS, executes them
// through a constraint-checked pipeline, and exposes the override review
// and feedback APIs.
//
// Configuration is loaded from a YAML file and environment variables.
// See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	braind
//
//	# Configure via environment
//	SERVER_PORT=9090 NATS_ENABLED=true braind
//
//	# Use an explicit config file
//	braind -config /etc/braind/config.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/agent"
	"github.com/yseeku/braind/internal/alert"
	"github.com/yseeku/braind/internal/audit"
	"github.com/yseeku/braind/internal/config"
	"github.com/yseeku/braind/internal/executor"
	"github.com/yseeku/braind/internal/feedback"
	brainhttp "github.com/yseeku/braind/internal/http"
	"github.com/yseeku/braind/internal/kernel"
	"github.com/yseeku/braind/internal/logging"
	"github.com/yseeku/braind/internal/memory"
	"github.com/yseeku/braind/internal/override"
	"github.com/yseeku/braind/internal/store"
	"github.com/yseeku/braind/internal/telemetry"
	"github.com/yseeku/braind/internal/tenant"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/braind/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  braind           Start the braind daemon\n")
			fmt.Fprintf(os.Stderr, "  braind version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("braind\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the braind daemon and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("Starting braind",
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("Dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil))

	services, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	if deps.natsConn != nil {
		sub, err := subscribeCycles(cfg, deps.natsConn, services.executorSvc, logger)
		if err != nil {
			return fmt.Errorf("failed to subscribe to cycle subjects: %w", err)
		}
		defer func() {
			_ = sub.Unsubscribe()
		}()
	}

	srv, err := brainhttp.NewServer(services.executorSvc, services.overrideSvc, services.feedbackSvc, logger, &brainhttp.Config{
		Host: "",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	store    store.Store
	natsConn *nats.Conn
	logger   *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

// services holds all business services.
type services struct {
	executorSvc executor.Service
	overrideSvc override.Service
	feedbackSvc feedback.Service
}

// initLogger builds the structured logger from config.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	return logging.New(logCfg)
}

// initTelemetry builds the OTLP pipeline from config. Disabled telemetry
// returns a nil-safe no-op handle.
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.EnableTelemetry
	telCfg.ServiceName = cfg.Observability.ServiceName
	telCfg.ServiceVersion = version
	if cfg.Observability.OTLPEndpoint != "" {
		telCfg.Endpoint = cfg.Observability.OTLPEndpoint
	}
	return telemetry.New(ctx, telCfg)
}

// initDependencies opens the persistence backend and, when enabled, the
// NATS connection.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	var st store.Store
	var err error
	switch cfg.Store.Backend {
	case "memory":
		st = store.NewMemStore()
	default:
		st, err = store.OpenSQLite(cfg.Store.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		logger.Info("SQLite store opened", zap.String("data_dir", cfg.Store.DataDir))
	}

	var nc *nats.Conn
	if cfg.NATS.Enabled {
		opts := []nats.Option{
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1 * time.Second),
		}
		if cfg.NATS.Token.IsSet() {
			opts = append(opts, nats.Token(cfg.NATS.Token.Value()))
		}
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	return &dependencies{
		store:    st,
		natsConn: nc,
		logger:   logger,
	}, nil
}

// initServices wires the governance services onto the shared store.
func initServices(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	memorySvc, err := memory.NewService(&memory.Config{
		DefaultRecallLimit: cfg.Memory.DefaultRecallLimit,
	}, deps.store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory service: %w", err)
	}

	checker := kernel.NewChecker(&kernel.Config{
		ProtectedIdentities: cfg.Kernel.ProtectedTargets,
		MinReasonLength:     cfg.Kernel.MinReasonLength,
		BanRatePerHour:      cfg.Kernel.BanRatePerHour,
	})

	agents := agent.NewRegistry(logger)
	auditor := audit.NewZapSink(logger)

	var alerts alert.Sink = alert.NopSink{}
	if deps.natsConn != nil {
		alerts = alert.NewNATSSink(deps.natsConn, cfg.NATS.AlertSubjectPrefix, logger)
	}

	executorSvc, err := executor.NewService(&executor.Config{
		DefaultThreshold:   cfg.Executor.DefaultThreshold,
		ThresholdStep:      cfg.Executor.ThresholdStep,
		DefaultBanSeverity: action.Severity(cfg.Executor.DefaultBanSeverity),
	}, deps.store, checker, agents, memorySvc, auditor, alerts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor service: %w", err)
	}

	overrideSvc, err := override.NewService(&override.Config{
		MinJustificationLength: cfg.Override.MinJustificationLength,
	}, deps.store, agents, auditor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create override service: %w", err)
	}

	feedbackSvc, err := feedback.NewService(&feedback.Config{
		MinSampleSize: cfg.Feedback.MinSampleSize,
	}, deps.store, memorySvc, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create feedback service: %w", err)
	}

	return &services{
		executorSvc: executorSvc,
		overrideSvc: overrideSvc,
		feedbackSvc: feedbackSvc,
	}, nil
}

// CycleMessage is the payload published on <cycle_subject_prefix>.<tenant>.
type CycleMessage struct {
	CycleID string                 `json:"cycle_id"`
	Mode    action.Mode            `json:"mode"`
	Actions []action.PlannedAction `json:"actions"`
}

// subscribeCycles listens for planned action batches. The tenant is
// carried in the subject suffix, so one subscription covers all tenants.
func subscribeCycles(cfg *config.Config, nc *nats.Conn, exec executor.Service, logger *zap.Logger) (*nats.Subscription, error) {
	subject := cfg.NATS.CycleSubjectPrefix + ".*"

	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		tenantID, err := tenant.FromSubject(cfg.NATS.CycleSubjectPrefix, msg.Subject)
		if err != nil {
			logger.Warn("dropping cycle message with bad subject",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}

		var cm CycleMessage
		if err := json.Unmarshal(msg.Data, &cm); err != nil {
			logger.Warn("dropping malformed cycle message",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			return
		}
		if cm.Mode == "" {
			cm.Mode = action.ModeAdvisory
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		results, err := exec.ExecuteActions(ctx, tenantID, cm.CycleID, cm.Actions, cm.Mode)
		if err != nil {
			logger.Error("cycle execution failed",
				zap.String("tenant_id", tenantID),
				zap.String("cycle_id", cm.CycleID),
				zap.Error(err))
			return
		}

		reply, err := json.Marshal(results)
		if err != nil {
			logger.Warn("failed to marshal cycle results", zap.Error(err))
			return
		}
		if msg.Reply != "" {
			if err := msg.Respond(reply); err != nil {
				logger.Warn("failed to reply to cycle message", zap.Error(err))
			}
		}
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Subscribed to cycle subjects", zap.String("subject", subject))
	return sub, nil
}
