package strategy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"market-session-trader/internal/data"
	"market-session-trader/internal/metrics"
	"market-session-trader/internal/model"
	"market-session-trader/internal/service"
)

// DefaultInterval 两次轮询之间的间隔
const DefaultInterval = 30 * time.Second

// Status 一次轮询的结果. 每个 tick 都是独立的, 不在 tick 之间保存
type Status struct {
	At     time.Time
	Pick   model.MarketPick
	Width  time.Duration
	Candle model.Candle
}

// Outcome "OK" 或 "FAIL"
func (s Status) Outcome() string {
	if s.Candle.OK {
		return "OK"
	}
	return "FAIL"
}

// String 状态行, 例如
// [UTC 2026-03-02T14:35:00Z] US open. First 5m candle (SPY): OK {...}
func (s Status) String() string {
	ts := s.At.UTC().Format(time.RFC3339)
	if s.Pick.IsNone() {
		return fmt.Sprintf("[UTC %s] No tracked market open.", ts)
	}
	return fmt.Sprintf("[UTC %s] %s open. First %s candle (%s): %s %s",
		ts, s.Pick.Market, service.FormatInterval(s.Width), s.Pick.Symbol, s.Outcome(), s.Candle.Raw)
}

// Loop 轮询循环: 选市场 -> 取首根 K 线 -> 输出状态行 -> 休眠
type Loop struct {
	selector *Selector
	fetcher  *data.FirstBarFetcher
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// LoopOption 配置 Loop
type LoopOption func(*Loop)

// WithLoopClock 替换时间源 (测试用)
func WithLoopClock(now func() time.Time) LoopOption {
	return func(l *Loop) { l.now = now }
}

// NewLoop interval<=0 时使用 DefaultInterval
func NewLoop(selector *Selector, fetcher *data.FirstBarFetcher, interval time.Duration, logger *zap.Logger, opts ...LoopOption) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := &Loop{
		selector: selector,
		fetcher:  fetcher,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Tick 执行一次轮询. 取数失败只体现在状态行里
func (l *Loop) Tick(ctx context.Context) Status {
	st := Status{At: l.now().UTC(), Width: l.fetcher.Width()}

	pick, backend := l.selector.Pick(ctx)
	st.Pick = pick
	metrics.TicksTotal.WithLabelValues(pick.Market.String()).Inc()

	if pick.IsNone() {
		l.logger.Info(st.String(), zap.Stringer("market", model.MarketNone))
		return st
	}

	st.Candle = l.fetcher.Fetch(ctx, backend, pick.Symbol)
	metrics.FirstBarFetches.WithLabelValues(pick.Market.String(), metrics.Outcome(st.Candle.OK)).Inc()

	fields := []zap.Field{
		zap.Stringer("market", pick.Market),
		zap.String("symbol", pick.Symbol),
		zap.Bool("ok", st.Candle.OK),
	}
	if st.Candle.OK {
		l.logger.Info(st.String(), fields...)
	} else {
		l.logger.Warn(st.String(), fields...)
	}
	return st
}

// Run 循环执行 Tick 直到 ctx 被取消. 上一次 tick 和休眠结束后才开始下一次
func (l *Loop) Run(ctx context.Context) error {
	tracked := make([]string, 0, len(l.selector.Candidates()))
	for _, c := range l.selector.Candidates() {
		tracked = append(tracked, fmt.Sprintf("%s:%s@%s", c.Market, c.Symbol, c.Backend.Name()))
	}
	l.logger.Info("Live loop started", zap.Duration("interval", l.interval), zap.Strings("markets", tracked))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Live loop stopped", zap.Error(ctx.Err()))
			return nil
		case <-timer.C:
		}

		l.Tick(ctx)
		timer.Reset(l.interval)
	}
}
