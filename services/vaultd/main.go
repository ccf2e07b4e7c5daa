package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cdpchain/observability"
	"cdpchain/observability/logging"
	telemetry "cdpchain/observability/otel"
	"cdpchain/services/vaultd/adapters"
	"cdpchain/services/vaultd/config"
	"cdpchain/services/vaultd/indexer"
	"cdpchain/services/vaultd/node"
	"cdpchain/services/vaultd/oracle"
	"cdpchain/services/vaultd/server"
	"cdpchain/services/vaultd/storage"
	statedb "cdpchain/storage"
)

const indexerBuffer = 1024

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("vaultd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("CDP_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logOpts := []logging.Option{logging.WithLevel(logging.ParseLevel(cfg.Log.Level))}
	if file := strings.TrimSpace(cfg.Log.File); file != "" {
		logOpts = append(logOpts, logging.WithRotation(logging.Rotation{
			Path:       file,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}))
	}
	logger := logging.Setup("vaultd", env, logOpts...)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg, env))
	if err != nil {
		log.Fatalf("vaultd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("vaultd: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("vaultd: open storage: %v", err)
	}
	defer store.Close()

	state, err := statedb.NewLevelDB(cfg.StatePath)
	if err != nil {
		log.Fatalf("vaultd: open state database: %v", err)
	}
	defer state.Close()

	n, err := node.Build(cfg, state, logger)
	if err != nil {
		log.Fatalf("vaultd: build node: %v", err)
	}

	sources, err := adapters.NewRegistry().BuildAll(cfg.Sources)
	if err != nil {
		log.Fatalf("vaultd: build sources: %v", err)
	}
	pair := oracle.Pair{Base: cfg.Oracle.Base, Quote: cfg.Oracle.Quote}
	mgr, err := oracle.New(store, sources, pair, oracle.Settings{
		Interval:  cfg.Oracle.Interval.Duration,
		MaxAge:    cfg.Oracle.MaxAge.Duration,
		MaxFuture: cfg.Oracle.MaxFuture.Duration,
		MinFeeds:  cfg.Oracle.MinFeeds,
		Retention: cfg.Oracle.Retention.Duration,
	},
		oracle.WithLogger(logger.With("component", "oracle")),
		oracle.WithMetrics(observability.Oracle()),
		oracle.WithPublisher(&oracle.FeedPublisher{Feed: n.Feed, Owner: n.OracleOwner, Atomic: n.Engine.Atomic}),
	)
	if err != nil {
		log.Fatalf("vaultd: oracle manager: %v", err)
	}

	ix, err := indexer.New(store, indexer.WithLogger(logger.With("component", "indexer")))
	if err != nil {
		log.Fatalf("vaultd: event indexer: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.Secret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		OracleOwner:     n.OracleOwner,
		Pair:            storage.PairKey(pair.Base, pair.Quote),
		ShutdownTimeout: 10 * time.Second,
	}, server.Deps{
		Engine: n.Engine,
		Ledger: n.Ledger,
		Bank:   n.Bank,
		Feed:   n.Feed,
		Pauses: n.Pauses,
		Store:  store,
		Bus:    n.Bus,
		Logger: logger.With("component", "server"),
	})
	if err != nil {
		log.Fatalf("vaultd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub := n.Bus.Subscribe(indexerBuffer)
	go func() {
		if err := ix.Run(rootCtx, sub); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event indexer exited", "error", err)
		}
	}()

	go func() {
		if err := mgr.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("oracle manager exited", "error", err)
			stop()
		}
	}()

	logger.Info("vaultd starting",
		slog.String("collateral", n.Bank.Asset()),
		slog.String("debt_token", n.Ledger.Symbol()),
		slog.String("module", n.Engine.ModuleAddress().String()))
	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}

// telemetryConfig merges the file settings with the standard OTLP
// environment variables, which take precedence.
func telemetryConfig(cfg config.Config, env string) telemetry.Config {
	endpoint := strings.TrimSpace(cfg.Telemetry.Endpoint)
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); value != "" {
		endpoint = value
	}
	headers := cfg.Telemetry.Headers
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")); value != "" {
		headers = value
	}
	insecure := cfg.Telemetry.Insecure
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	return telemetry.Config{
		ServiceName: "vaultd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		Attributes: map[string]string{
			"collateral_asset": cfg.Assets.Collateral,
			"debt_token":       cfg.Assets.DebtToken,
			"oracle_pair":      cfg.Oracle.Base + "/" + cfg.Oracle.Quote,
		},
	}
}
