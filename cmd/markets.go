package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"market-session-trader/internal/broker"
	"market-session-trader/internal/broker/alpaca"
	"market-session-trader/internal/broker/ibkr"
	"market-session-trader/internal/model"
	"market-session-trader/internal/service"
)

// market 一个被跟踪的市场: 代理标的 + 带校验的后端
type market struct {
	market model.Market
	symbol string
	front  *broker.Front
}

// buildMarkets 按优先级构造各市场的后端 (美股在前)
// 返回的 release 释放所有已建立的连接, 可以重复调用
func buildMarkets(ctx context.Context, cfg *service.Config, logger *zap.Logger) ([]market, func(), error) {
	var closers []func()
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	us, err := alpaca.New(alpaca.Config{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		BaseURL:   cfg.Alpaca.BaseURL,
		DataURL:   cfg.Alpaca.DataURL,
		Feed:      cfg.Alpaca.Feed,
		Timeout:   cfg.Live.CallTimeout,
	}, logger)
	if err != nil {
		return nil, release, fmt.Errorf("%w: %v", service.ErrConfiguration, err)
	}
	closers = append(closers, us.Close)

	markets := []market{{
		market: model.MarketUS,
		symbol: cfg.Alpaca.ProxySymbol,
		front:  broker.NewFront(us, cfg.Live.CallTimeout, logger),
	}}

	if !cfg.China.Enabled {
		return markets, release, nil
	}

	cn, err := buildChina(ctx, cfg, logger, &closers)
	if err != nil {
		release()
		return nil, release, err
	}
	markets = append(markets, market{
		market: model.MarketCN,
		symbol: cfg.China.ProxySymbol,
		front:  broker.NewFront(cn, cfg.Live.CallTimeout, logger),
	})
	return markets, release, nil
}

// buildChina 配置了网关桥时使用 IBKR 后端, 否则使用占位后端
func buildChina(ctx context.Context, cfg *service.Config, logger *zap.Logger, closers *[]func()) (broker.Backend, error) {
	if cfg.China.BridgeURL == "" {
		logger.Warn("China.BridgeURL not set, CN market uses a placeholder backend")
		return broker.NewPlaceholder("CN", "IBKR bridge not configured"), nil
	}

	calendar, err := ibkr.NewCalendar(cfg.China.Holidays)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrConfiguration, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Live.CallTimeout)
	defer cancel()
	bridge, err := ibkr.DialBridge(dialCtx, cfg.China.BridgeURL, logger)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, func() { _ = bridge.Close() })

	backend, err := ibkr.New(bridge, calendar, ibkr.Defaults{
		SecType:  cfg.China.SecType,
		Exchange: cfg.China.Exchange,
		Currency: cfg.China.Currency,
	}, logger)
	if err != nil {
		return nil, err
	}
	return backend, nil
}
