package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"escrowmarket/config"
	"escrowmarket/core"
	"escrowmarket/core/events"
	"escrowmarket/integrations/webhooks"
	"escrowmarket/native/common"
	"escrowmarket/native/market"
	"escrowmarket/observability/logging"
	telemetry "escrowmarket/observability/otel"
	"escrowmarket/rpc"
	"escrowmarket/storage"
	"escrowmarket/storage/eventlog"
)

const serviceName = "marketd"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a market node and its JSON-RPC server",
		Long: `Run a market node and its JSON-RPC server.

A missing configuration file is created with defaults. The node stops
gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts.ConfigPath)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "./config.toml", "path to the configuration file (.toml or .yaml)")

	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(serviceName, logging.Options{
		Env:        cfg.Log.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Log.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	variant, err := cfg.Market.ParsedVariant()
	if err != nil {
		return err
	}
	settlement, err := market.NewSettlement(variant, cfg.Market.EscrowQuantity)
	if err != nil {
		return err
	}
	program, err := cfg.Market.ProgramAddress()
	if err != nil {
		return fmt.Errorf("market program: %w", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	node, err := core.NewNode(db, settlement)
	if err != nil {
		db.Close()
		return err
	}
	defer node.Close()
	node.SetLogger(logger)
	node.SetProgramID(program)
	node.SetPauses(common.Pauses{market.ModuleName: cfg.Market.Paused})

	serverCfg := rpc.ServerConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Logger:            logger,
	}
	var sinks events.Fanout
	if cfg.EventLog.DSN != "" {
		store, err := openEventLog(cfg.EventLog.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		store.SetLogger(logger)
		sinks = append(sinks, store)
		serverCfg.Events = store
	}
	if cfg.Webhook.URL != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret),
			webhooks.WithLogger(logger),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0))
		if err != nil {
			return err
		}
		defer dispatcher.Close()
		sinks = append(sinks, dispatcher)
	}
	node.SetEmitter(sinks)

	server, err := rpc.NewServer(node, serverCfg)
	if err != nil {
		return err
	}
	logger.Info("market node started",
		slog.String("variant", variant.String()),
		slog.String("program", program.String()),
		slog.String("dataDir", cfg.DataDir))
	return server.Serve(ctx, cfg.RPCAddress)
}

func openEventLog(dsn string) (*eventlog.Store, error) {
	driver, conn, err := config.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		if dir := filepath.Dir(conn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("event log directory: %w", err)
			}
		}
	}
	return eventlog.Open(driver, conn)
}
