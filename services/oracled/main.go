package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"stakeoracle/native/oracle"
	"stakeoracle/observability"
	"stakeoracle/observability/logging"
	telemetry "stakeoracle/observability/otel"
	"stakeoracle/services/oracled/config"
	"stakeoracle/services/oracled/feed"
	"stakeoracle/services/oracled/server"
	"stakeoracle/services/oracled/storage"
	"stakeoracle/services/oracled/updater"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/oracled/config.yaml", "path to oracled configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("STAKEORACLE_ENV"))
	logger := logging.Setup("oracled", env)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("oracled", env))
	if err != nil {
		log.Fatalf("oracled: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("oracled: load config: %v", err)
	}

	oracleCfg, err := oracle.LoadConfig(cfg.ParamsPath)
	if err != nil {
		log.Fatalf("oracled: load oracle params: %v", err)
	}
	params, err := oracleCfg.Parameters()
	if err != nil {
		log.Fatalf("oracled: oracle params: %v", err)
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("oracled: open storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	engine, err := oracle.NewEngine(store.State(), params)
	if err != nil {
		log.Fatalf("oracled: build engine: %v", err)
	}
	if _, err := engine.Header(); errors.Is(err, oracle.ErrNotInitialized) {
		if err := engine.Initialize(cfg.Authority, cfg.FeedAuthority); err != nil {
			log.Fatalf("oracled: initialize oracle: %v", err)
		}
		logger.Info("oracle initialized", "authority", cfg.Authority)
	} else if err != nil {
		log.Fatalf("oracled: load oracle header: %v", err)
	}

	var packed feed.Source
	scalar := make(map[oracle.AssetKind]feed.Source)
	for _, feedCfg := range cfg.Feeds {
		var source feed.Source
		var err error
		if feedCfg.IsResult() {
			source, err = feed.NewResultSource(feedCfg.Name, nil, feedCfg.Endpoint, feedCfg.APIKey, cfg.FeedAuthority)
		} else {
			source, err = feed.NewHTTPSource(feedCfg.Name, nil, feedCfg.Endpoint, feedCfg.APIKey)
		}
		if err != nil {
			log.Fatalf("oracled: feed %s: %v", feedCfg.Name, err)
		}
		if feedCfg.IsPacked() {
			packed = source
			continue
		}
		asset, err := feedCfg.Asset()
		if err != nil {
			log.Fatalf("oracled: feed %s: %v", feedCfg.Name, err)
		}
		scalar[asset] = source
	}

	mgr, err := updater.New(engine, store, packed, scalar, cfg.Updater.Interval.Duration,
		updater.WithMetrics(observability.Oracle()))
	if err != nil {
		log.Fatalf("oracled: build updater: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		AdminToken:    cfg.AdminToken,
		AdminIdentity: cfg.Authority,
	}, engine, store, logger)
	if err != nil {
		log.Fatalf("oracled: build server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("updater stopped", "err", err)
		}
	}()

	logger.Info("oracled listening", "addr", cfg.ListenAddress)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("oracled: server: %v", err)
	}
}
