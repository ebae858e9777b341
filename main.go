package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/budget"
	"github.com/fathomlabs/fathom/internal/circuitbreaker"
	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/events"
	"github.com/fathomlabs/fathom/internal/pipeline"
	"github.com/fathomlabs/fathom/internal/pricing"
	"github.com/fathomlabs/fathom/internal/providers"
	"github.com/fathomlabs/fathom/internal/sources"
	"github.com/fathomlabs/fathom/internal/verification"
)

func main() {
	query := flag.String("query", "", "research query to run")
	mode := flag.String("mode", "", "research mode: simple|standard|deep")
	userID := flag.String("user", "cli", "user identifier for the run")
	flag.Parse()

	if *query == "" {
		fmt.Fprintln(os.Stderr, "usage: fathom -query \"...\" [-mode standard]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Pricing table with hot reload; runs read through the atomic pointer.
	var prices atomic.Pointer[pricing.Table]
	if t, err := pricing.Load(cfg.PricingPath); err == nil {
		prices.Store(t)
	} else {
		logger.Warn("Pricing config not loaded, using defaults",
			zap.String("path", cfg.PricingPath), zap.Error(err))
		prices.Store(pricing.LoadDefault())
	}
	if w, err := config.NewWatcher(cfg.PricingPath, logger); err == nil {
		w.Start(func() {
			if t, err := pricing.Load(cfg.PricingPath); err == nil {
				prices.Store(t)
			}
		})
		defer w.Stop()
	}

	if cfg.Observability.Metrics.Enabled {
		go serveMetrics(cfg.Observability.Metrics.Port, logger)
	}

	set := providers.Set{
		Reasoner: providers.NewOpenAIGenerator(
			cfg.Providers.APIKey, cfg.Providers.BaseURL, cfg.Providers.ReasonerModel, "reasoner", logger),
		Researcher: providers.NewOpenAIGenerator(
			cfg.Providers.APIKey, cfg.Providers.SearchBaseURL, cfg.Providers.ResearcherModel, "researcher", logger),
		FactChecker: providers.NewOpenAIGenerator(
			cfg.Providers.APIKey, cfg.Providers.BaseURL, cfg.Providers.FactCheckerModel, "fact_checker", logger),
	}

	stream := events.NewStream(256)
	orch := pipeline.New(set, prices.Load(),
		sources.NewHTTPValidator(cfg.Validation.ProbesPerSecond), stream, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Signal received, aborting run")
		orch.Abort()
	}()

	evCh := stream.Subscribe(64)
	go func() {
		for ev := range evCh {
			logger.Info("Pipeline event",
				zap.String("type", string(ev.Type)),
				zap.String("phase", ev.Phase),
				zap.String("message", ev.Message),
			)
		}
	}()

	result := orch.Execute(ctx, *query, *userID, pipeline.Options{
		Mode: budget.Mode(cfg.Mode),
		Budget: budget.Options{
			Breaker: circuitbreaker.Config{
				WarningPct:  cfg.Breaker.WarningPct,
				CriticalPct: cfg.Breaker.CriticalPct,
				StopPct:     cfg.Breaker.StopPct,
			},
		},
		Selector: verification.SelectorConfig{
			ElevationMinRemaining: cfg.Selector.ElevationMinRemaining,
			ElevationCostMultiple: cfg.Selector.ElevationCostMultiple,
		},
		ValidateConcurrency: cfg.Validation.Concurrency,
		ValidateTimeout:     cfg.ValidateTimeout(),
	}, nil)
	stream.Unsubscribe(evCh)

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if result.Status == pipeline.StatusFailed {
		os.Exit(1)
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Observability.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if err := zc.Level.UnmarshalText([]byte(cfg.Observability.Logging.Level)); err != nil {
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zc.Build()
}

func serveMetrics(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info("Metrics server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("Metrics server stopped", zap.Error(err))
	}
}
