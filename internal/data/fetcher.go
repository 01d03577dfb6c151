// Package data 获取开盘后的第一根 K 线
package data

import (
	"context"
	"time"

	"go.uber.org/zap"

	"market-session-trader/internal/broker"
	"market-session-trader/internal/model"
)

// DefaultBarWidth 首根 K 线的默认周期
const DefaultBarWidth = 5 * time.Minute

// FirstBarFetcher 从当日 UTC 零点开始取一根 K 线
// 行情接口只返回交易时段内的 K 线, 因此这根就是开盘后的第一根
type FirstBarFetcher struct {
	width  time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// Option 配置 FirstBarFetcher
type Option func(*FirstBarFetcher)

// WithClock 替换时间源 (测试用)
func WithClock(now func() time.Time) Option {
	return func(f *FirstBarFetcher) { f.now = now }
}

// NewFirstBarFetcher width<=0 时使用 DefaultBarWidth
func NewFirstBarFetcher(width time.Duration, logger *zap.Logger, opts ...Option) *FirstBarFetcher {
	if width <= 0 {
		width = DefaultBarWidth
	}
	f := &FirstBarFetcher{
		width:  width,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Width K 线周期
func (f *FirstBarFetcher) Width() time.Duration {
	return f.width
}

// SessionDayStart 返回 t 所在 UTC 日的零点
func SessionDayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Fetch 取 symbol 当日的第一根 K 线. 失败不是致命错误, 由 Candle.OK 表示
func (f *FirstBarFetcher) Fetch(ctx context.Context, src broker.BarSource, symbol string) model.Candle {
	start := SessionDayStart(f.now())
	c := src.FetchFirstBar(ctx, symbol, f.width, start)
	if c.Symbol == "" {
		c.Symbol = symbol
	}

	if c.OK {
		f.logger.Debug("First bar fetched", zap.String("symbol", symbol), zap.Time("start", start), zap.Stringer("candle", c))
	} else {
		f.logger.Warn("First bar fetch failed", zap.String("symbol", symbol), zap.Time("start", start), zap.String("raw", c.Raw))
	}
	return c
}
