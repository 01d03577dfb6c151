package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"market-session-trader/internal/data"
	"market-session-trader/internal/model"
	"market-session-trader/internal/service"
	"market-session-trader/internal/strategy"
)

const usage = `usage: trader [command]

commands:
  run               poll tracked markets and log the first bar of the open session (default)
  clock             print open/closed and next open time for each market
  flatten <US|CN>   close every open position on the market's backend

environment:
  TRADER_CONFIG_DIR directory containing config.toml (default "config")`

func main() {
	service.InitLogger()
	defer service.Logger.Sync()

	command := "run"
	args := os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	configPath := os.Getenv("TRADER_CONFIG_DIR")
	if configPath == "" {
		configPath = "config"
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		service.Logger.Fatal("Configuration directory not found", zap.String("path", configPath))
	}

	cfg, err := service.LoadConfig(configPath)
	if err != nil {
		service.Logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		service.Logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if err := service.SetLogLevel(cfg.Logging.Level); err != nil {
		service.Logger.Warn("Invalid log level, keeping info", zap.String("level", cfg.Logging.Level), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 所有后端连接在这里建立, 在 release 中统一释放 (包括启动失败的路径)
	markets, release, err := buildMarkets(ctx, cfg, service.Logger)
	if err != nil {
		service.Logger.Fatal("Failed to build broker backends", zap.Error(err))
	}
	defer release()

	switch command {
	case "run":
		err = runLive(ctx, cfg, markets)
	case "clock":
		printClock(ctx, markets)
	case "flatten":
		err = flatten(ctx, markets, args)
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Fprintln(os.Stderr, usage)
		err = fmt.Errorf("unknown command %q", command)
	}

	if err != nil {
		service.Logger.Error("Command failed", zap.String("command", command), zap.Error(err))
		release()
		service.Logger.Sync()
		os.Exit(1)
	}
}

// runLive 启动轮询循环, 可选地同时提供 /metrics
func runLive(ctx context.Context, cfg *service.Config, markets []market) error {
	candidates := make([]strategy.Candidate, 0, len(markets))
	for _, m := range markets {
		candidates = append(candidates, strategy.Candidate{Market: m.market, Symbol: m.symbol, Backend: m.front})
	}

	selector := strategy.NewSelector(service.Logger, candidates...)
	fetcher := data.NewFirstBarFetcher(cfg.BarWidth(), service.Logger)
	loop := strategy.NewLoop(selector, fetcher, cfg.Live.Interval, service.Logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(ctx)
	})

	if cfg.Live.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              cfg.Live.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			service.Logger.Info("Metrics server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// printClock 打印每个市场的交易状态
func printClock(ctx context.Context, markets []market) {
	now := time.Now().UTC()
	for _, m := range markets {
		state := "closed"
		if m.front.IsMarketOpen(ctx) {
			state = "open"
		}
		next := "unknown"
		if t, ok := m.front.NextOpenTime(ctx); ok {
			next = t.UTC().Format(time.RFC3339)
		}
		fmt.Printf("[UTC %s] %s (%s via %s): %s, next open %s\n",
			now.Format(time.RFC3339), m.market, m.symbol, m.front.Name(), state, next)
	}
}

// flatten 对指定市场执行一键平仓
func flatten(ctx context.Context, markets []market, args []string) error {
	if len(args) != 1 {
		return errors.New("flatten requires exactly one market (US or CN)")
	}
	want := model.Market(strings.ToUpper(args[0]))

	for _, m := range markets {
		if m.market != want {
			continue
		}
		res := m.front.CloseAllPositions(ctx)
		fmt.Println(res.Message)
		if !res.Success {
			return fmt.Errorf("flatten %s: %s", want, res.Message)
		}
		if len(res.Failed) > 0 {
			return fmt.Errorf("flatten %s: %d close orders failed: %v", want, len(res.Failed), res.Failed)
		}
		return nil
	}
	return fmt.Errorf("market %q is not tracked", args[0])
}
