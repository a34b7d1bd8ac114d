package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manojd/signal_bridge/internal/domain"
	"github.com/manojd/signal_bridge/internal/infrastructure/accounts"
	"github.com/manojd/signal_bridge/internal/infrastructure/broker"
	"github.com/manojd/signal_bridge/internal/infrastructure/catalog"
	"github.com/manojd/signal_bridge/internal/infrastructure/logger"
	"github.com/manojd/signal_bridge/internal/infrastructure/storage"
	"github.com/manojd/signal_bridge/internal/usecase"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"broker"`
	Catalog struct {
		URL            string `yaml:"url"`
		Exchange       string `yaml:"exchange"`
		Segment        string `yaml:"segment"`
		InstrumentType string `yaml:"instrument_type"`
	} `yaml:"catalog"`
	AccountsFile string `yaml:"accounts_file"`
	Database     string `yaml:"database"`
	Rebase       struct {
		InitialDelayMs  int `yaml:"initial_delay_ms"`
		RetryDelayMs    int `yaml:"retry_delay_ms"`
		MaxAttempts     int `yaml:"max_attempts"`
		ReconcileEveryS int `yaml:"reconcile_every_s"`
	} `yaml:"rebase"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Metrics struct {
		Port int `yaml:"port"`
	} `yaml:"metrics"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Database
	if dbPath == "" {
		dbPath = "engine.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Gateway and Catalog
	gateway := broker.NewClient(cfg.Broker.RESTEndpoint, cfg.Broker.WSEndpoint, log)
	source := catalog.NewCSVSource(cfg.Catalog.URL, catalog.Filter{
		Exchange:       cfg.Catalog.Exchange,
		Segment:        cfg.Catalog.Segment,
		InstrumentType: cfg.Catalog.InstrumentType,
	}, log)

	// 5. Init Services
	clock := usecase.RealClock()
	resolver := usecase.NewIdentifierResolver(source, clock, log)
	guard := usecase.NewDuplicateGuard(clock)
	provider := accounts.NewYAMLProvider(cfg.AccountsFile)

	rebaseCfg := usecase.DefaultRebaseConfig()
	if cfg.Rebase.InitialDelayMs > 0 {
		rebaseCfg.InitialDelay = time.Duration(cfg.Rebase.InitialDelayMs) * time.Millisecond
	}
	if cfg.Rebase.RetryDelayMs > 0 {
		rebaseCfg.RetryDelay = time.Duration(cfg.Rebase.RetryDelayMs) * time.Millisecond
	}
	if cfg.Rebase.MaxAttempts > 0 {
		rebaseCfg.MaxAttempts = cfg.Rebase.MaxAttempts
	}
	scheduler := usecase.NewRebaseScheduler(gateway, store, clock, log, rebaseCfg)

	coordinator := usecase.NewOrderCoordinator(
		usecase.NewPositionSizer(), resolver, guard, gateway, provider, store, scheduler, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)
	defer scheduler.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 6. Warm the catalog and connect order streams for active accounts
	if err := resolver.Warm(ctx); err != nil {
		log.Error("Failed to warm instrument catalog", zap.Error(err))
	}
	if policies, err := provider.GetAccounts(ctx, true); err != nil {
		log.Error("Failed to load account policies", zap.Error(err))
	} else {
		for _, p := range policies {
			if err := gateway.ConnectOrderStream(p); err != nil {
				log.Warn("order stream unavailable, falling back to polling",
					zap.String("account_id", p.AccountID), zap.Error(err))
			}
		}
	}

	// 7. Periodic bulk reconciliation across active accounts
	reconcileEvery := time.Duration(cfg.Rebase.ReconcileEveryS) * time.Second
	if reconcileEvery <= 0 {
		reconcileEvery = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(reconcileEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				policies, err := provider.GetAccounts(ctx, true)
				if err != nil {
					log.Error("Failed to load account policies", zap.Error(err))
					continue
				}
				for _, p := range policies {
					if !p.RebaseEnabled {
						continue
					}
					if _, err := scheduler.RebaseFilledOrders(ctx, p); err != nil {
						log.Error("Bulk rebase failed",
							zap.String("account_id", p.AccountID), zap.Error(err))
					}
				}
			case <-stop:
				return
			}
		}
	}()

	// 8. Signal feed: one JSON signal per line on stdin. The HTTP
	// ingestion service pipes into this in production; it also makes
	// manual testing trivial.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var sig domain.Signal
			if err := json.Unmarshal(line, &sig); err != nil {
				log.Warn("Skipping unparseable signal", zap.Error(err))
				continue
			}
			summary, err := coordinator.ExecuteSignal(ctx, sig)
			if err != nil {
				log.Error("Signal rejected", zap.String("ticker", sig.Ticker), zap.Error(err))
				continue
			}
			log.Info("Signal executed",
				zap.String("ticker", summary.Ticker),
				zap.Int("successful", summary.SuccessfulOrders),
				zap.Int("failed", summary.FailedOrders))
		}
	}()

	// 9. Metrics endpoint
	port := cfg.Metrics.Port
	if port == 0 {
		port = 9090
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// 10. Wait for Shutdown
	<-stop

	log.Info("Shutting down...")
	gateway.CloseOrderStream()
}
