package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"market-session-trader/internal/metrics"
	"market-session-trader/internal/model"
)

// DefaultCallTimeout 每次后端调用的默认超时
const DefaultCallTimeout = 10 * time.Second

var (
	validate     *validator.Validate
	onceValidate sync.Once
)

func getValidator() *validator.Validate {
	onceValidate.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Front 在任意 Backend 前做通用前置校验, 后端因此永远不会收到非法订单
// 校验失败时直接返回 *ValidationError, 不产生任何后端调用
type Front struct {
	backend Backend
	timeout time.Duration
	logger  *zap.Logger
}

// NewFront 包装一个后端. timeout<=0 时使用 DefaultCallTimeout
func NewFront(backend Backend, timeout time.Duration, logger *zap.Logger) *Front {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Front{
		backend: backend,
		timeout: timeout,
		logger:  logger.With(zap.String("backend", backend.Name())),
	}
}

// Name 返回被包装后端的名称
func (f *Front) Name() string {
	return f.backend.Name()
}

func (f *Front) PlaceMarketOrder(ctx context.Context, o model.MarketOrder) (model.OrderResult, error) {
	if err := f.check("market", o); err != nil {
		return model.OrderResult{}, err
	}
	return f.dispatch(ctx, "market", func(ctx context.Context) model.OrderResult {
		return f.backend.PlaceMarketOrder(ctx, o)
	}), nil
}

func (f *Front) PlaceLimitOrder(ctx context.Context, o model.LimitOrder) (model.OrderResult, error) {
	if err := f.check("limit", o); err != nil {
		return model.OrderResult{}, err
	}
	return f.dispatch(ctx, "limit", func(ctx context.Context) model.OrderResult {
		return f.backend.PlaceLimitOrder(ctx, o)
	}), nil
}

func (f *Front) PlaceStopOrder(ctx context.Context, o model.StopOrder) (model.OrderResult, error) {
	if err := f.check("stop", o); err != nil {
		return model.OrderResult{}, err
	}
	return f.dispatch(ctx, "stop", func(ctx context.Context) model.OrderResult {
		return f.backend.PlaceStopOrder(ctx, o)
	}), nil
}

func (f *Front) PlaceShortOrder(ctx context.Context, o model.ShortOrder) (model.OrderResult, error) {
	if err := f.check("short", o); err != nil {
		return model.OrderResult{}, err
	}
	return f.dispatch(ctx, "short", func(ctx context.Context) model.OrderResult {
		return f.backend.PlaceShortOrder(ctx, o)
	}), nil
}

// CloseAllPositions 一键平仓
// 超时作用于每一次后端调用 (快照和每个平仓单), 而不是整个操作
func (f *Front) CloseAllPositions(ctx context.Context) model.PositionCloseResult {
	ctx = WithCallTimeout(ctx, f.timeout)

	start := time.Now()
	res := f.backend.CloseAllPositions(ctx)
	metrics.BackendCallLatency.WithLabelValues(f.backend.Name(), "close_all").Observe(time.Since(start).Seconds())

	if !res.Success {
		f.logger.Error("CloseAllPositions failed", zap.String("message", res.Message))
	} else {
		f.logger.Info("CloseAllPositions done",
			zap.Int("sent", res.CloseOrdersSent),
			zap.Strings("failed", res.Failed))
	}
	return res
}

// IsMarketOpen 查询交易日历
func (f *Front) IsMarketOpen(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	open := f.backend.IsMarketOpen(ctx)
	metrics.BackendCallLatency.WithLabelValues(f.backend.Name(), "is_open").Observe(time.Since(start).Seconds())
	return open
}

// NextOpenTime 查询下一次开盘时间
func (f *Front) NextOpenTime(ctx context.Context) (time.Time, bool) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.backend.NextOpenTime(ctx)
}

// FetchFirstBar 转发给实现了 BarSource 的后端, 否则返回 not implemented
func (f *Front) FetchFirstBar(ctx context.Context, symbol string, width time.Duration, start time.Time) model.Candle {
	src, ok := f.backend.(BarSource)
	if !ok {
		return NotImplementedCandle(f.backend.Name(), symbol)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	begin := time.Now()
	c := src.FetchFirstBar(ctx, symbol, width, start)
	metrics.BackendCallLatency.WithLabelValues(f.backend.Name(), "first_bar").Observe(time.Since(begin).Seconds())
	return c
}

// check 用 validator 校验订单, 把第一个违规字段转换为 ValidationError
func (f *Front) check(kind string, order any) error {
	err := getValidator().Struct(order)
	if err == nil {
		return nil
	}

	verr := &ValidationError{Kind: kind, Field: "order", Reason: err.Error()}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		verr.Field = fe.Field()
		verr.Reason = describe(fe)
	}

	metrics.ValidationRejects.WithLabelValues(kind).Inc()
	f.logger.Warn("Order rejected by validation", zap.String("kind", kind), zap.Error(verr))
	return verr
}

func describe(fe validator.FieldError) string {
	switch fe.Field() {
	case "Symbol":
		return "symbol must not be empty"
	case "Qty":
		return "qty must be > 0"
	case "LimitPrice":
		return "limitPrice must be > 0"
	case "StopPrice":
		return "stopPrice must be > 0"
	case "Side":
		return "side must be buy or sell"
	case "TIF":
		return "tif must be one of day, gtc, ioc, fok"
	}
	return fe.Error()
}

func (f *Front) dispatch(ctx context.Context, kind string, call func(context.Context) model.OrderResult) model.OrderResult {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	res := call(ctx)
	metrics.BackendCallLatency.WithLabelValues(f.backend.Name(), "place_"+kind).Observe(time.Since(start).Seconds())
	metrics.OrdersTotal.WithLabelValues(f.backend.Name(), kind, metrics.Outcome(res.Accepted)).Inc()

	if res.Accepted {
		f.logger.Info("Order accepted", zap.String("kind", kind), zap.Stringer("result", res))
	} else {
		f.logger.Warn("Order not accepted", zap.String("kind", kind), zap.Stringer("result", res))
	}
	return res
}
