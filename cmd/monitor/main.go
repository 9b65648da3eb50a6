package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"tokenwatch/internal/config"
	"tokenwatch/internal/dispatch"
	"tokenwatch/internal/domain"
	"tokenwatch/internal/feed"
	"tokenwatch/internal/freshness"
	"tokenwatch/internal/monitor"
	"tokenwatch/internal/observability"
	"tokenwatch/internal/specsource"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	mode := flag.String("mode", "poll", "Feed mode: poll or stream")
	subscribers := flag.String("subscribers", "", "Comma-separated subscriber IDs to enable at startup")
	specsPath := flag.String("specs", "", "Path to YAML file with filter specs to load")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP address, overrides config (empty keeps config value)")

	flag.Parse()

	logger := logrus.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	// Metrics and health endpoints
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.WithField("addr", cfg.MetricsAddr).Info("starting metrics server")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Graceful shutdown with forced-exit escalation
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutting down")
		cancel()

		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Warn("forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	if err := run(ctx, logger, cfg, *mode, *subscribers, *specsPath); err != nil && err != context.Canceled {
		logger.WithError(err).Fatal("monitor failed")
	}

	close(done)
	logger.Info("shutdown complete")
}

func run(ctx context.Context, logger *logrus.Logger, cfg *config.Config, mode, subscribers, specsPath string) error {
	specs := specsource.NewMemorySource()
	if specsPath != "" {
		n, err := loadSpecs(specsPath, specs)
		if err != nil {
			return fmt.Errorf("load specs: %w", err)
		}
		logger.WithField("count", n).Info("loaded filter specs")
	}

	client := feed.NewClient(cfg.Feed.URL, cfg.Feed.APIKey,
		feed.WithTimeout(cfg.Feed.RequestTimeout.Std()),
		feed.WithRateLimit(rate.Limit(cfg.Feed.RateLimitPerSec), cfg.Feed.RateLimitBurst),
		feed.WithLogger(logger),
	)

	tracker := freshness.NewTracker(freshness.Config{
		Lookback:      cfg.Monitor.Lookback.Std(),
		EmptyAdvance:  cfg.Monitor.EmptyAdvance.Std(),
		SeenRetention: cfg.Monitor.SeenRetention.Std(),
		SeenCapacity:  cfg.Monitor.SeenCapacity,
	})

	loop := monitor.New(monitor.Options{
		Feed:       client,
		Specs:      specs,
		Dispatcher: dispatch.NewLogDispatcher(logger),
		Tracker:    tracker,
		Interval:   cfg.Monitor.PollInterval.Std(),
		FetchLimit: cfg.Feed.Limit,
		Retry: monitor.Policy{
			MaxAttempts:      cfg.Monitor.RetryMaxAttempts,
			BaseDelay:        cfg.Monitor.RetryBaseDelay.Std(),
			MaxDelay:         cfg.Monitor.RetryMaxDelay.Std(),
			RateLimitDefault: cfg.Monitor.RateLimitDefaultDelay.Std(),
			SafetyMargin:     cfg.Monitor.RateLimitSafetyMargin.Std(),
		},
		Parallelism: cfg.Monitor.Parallelism,
		Metrics:     observability.NewMetrics(prometheus.DefaultRegisterer, ""),
		Logger:      logger,
	})

	for _, id := range splitIDs(subscribers) {
		loop.Enable(id)
	}

	switch mode {
	case "poll":
		loop.Start(ctx)
		return ctx.Err()
	case "stream":
		if cfg.Feed.StreamURL == "" {
			return fmt.Errorf("stream mode requires feed.stream_url")
		}
		stream, err := feed.NewStreamClient(ctx, cfg.Feed.StreamURL, nil, logger)
		if err != nil {
			return fmt.Errorf("connect stream: %w", err)
		}
		defer stream.Close()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-stream.Events():
				if !ok {
					return fmt.Errorf("stream closed")
				}
				if err := loop.ProcessBatch(ctx, []*domain.TokenEvent{ev}); err != nil {
					logger.WithError(err).Warn("failed to process streamed event")
				}
			}
		}
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}

func splitIDs(csv string) []string {
	var out []string
	for _, id := range strings.Split(csv, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// specFile is the YAML shape for seeding the in-memory spec source.
type specFile struct {
	Specs []struct {
		ID                     string   `yaml:"id"`
		SubscriberID           string   `yaml:"subscriber_id"`
		MinMarketCap           *float64 `yaml:"min_market_cap"`
		MaxMarketCap           *float64 `yaml:"max_market_cap"`
		MinLiquidity           *float64 `yaml:"min_liquidity"`
		MaxLiquidity           *float64 `yaml:"max_liquidity"`
		MinHolders             *int64   `yaml:"min_holders"`
		MaxHolders             *int64   `yaml:"max_holders"`
		MaxDevHoldingsPercent  *float64 `yaml:"max_dev_holdings_percent"`
		MinContractAgeMinutes  *int64   `yaml:"min_contract_age_minutes"`
		RequiredTradingEnabled *bool    `yaml:"required_trading_enabled"`
	} `yaml:"specs"`
}

func loadSpecs(path string, source *specsource.MemorySource) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var file specFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, err
	}

	for _, s := range file.Specs {
		spec := &domain.FilterSpec{
			ID:                     s.ID,
			SubscriberID:           s.SubscriberID,
			MinMarketCap:           dec(s.MinMarketCap),
			MaxMarketCap:           dec(s.MaxMarketCap),
			MinLiquidity:           dec(s.MinLiquidity),
			MaxLiquidity:           dec(s.MaxLiquidity),
			MinHolders:             s.MinHolders,
			MaxHolders:             s.MaxHolders,
			MaxDevHoldingsPercent:  dec(s.MaxDevHoldingsPercent),
			MinContractAgeMinutes:  s.MinContractAgeMinutes,
			RequiredTradingEnabled: s.RequiredTradingEnabled,
			IsActive:               true,
		}
		if err := source.Put(spec); err != nil {
			return 0, fmt.Errorf("spec %q: %w", s.ID, err)
		}
	}
	return len(file.Specs), nil
}

func dec(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
