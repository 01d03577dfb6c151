// Package broker 定义了所有券商后端必须满足的能力接口, 以及在接口前做通用校验的前端
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-session-trader/internal/model"
)

// Backend 是券商后端的通用接口 (美股 Alpaca、A 股 IBKR 或将来的其他后端)
//
// 下单方法不返回 error: 业务拒单 (资金不足、休市、合约无效) 和传输失败
// (连不上、返回格式错误) 都折叠成 Accepted=false + 描述信息
type Backend interface {
	// Name 返回后端标识, 用于日志和指标
	Name() string

	PlaceMarketOrder(ctx context.Context, o model.MarketOrder) model.OrderResult
	PlaceLimitOrder(ctx context.Context, o model.LimitOrder) model.OrderResult
	PlaceStopOrder(ctx context.Context, o model.StopOrder) model.OrderResult
	PlaceShortOrder(ctx context.Context, o model.ShortOrder) model.OrderResult

	// CloseAllPositions 对持仓快照中的每个非零持仓发出反向市价单 (best effort)
	CloseAllPositions(ctx context.Context) model.PositionCloseResult

	// IsMarketOpen 和 NextOpenTime 只查询交易日历, 可以频繁调用, 对账户没有副作用
	IsMarketOpen(ctx context.Context) bool
	// NextOpenTime 未知时返回 false
	NextOpenTime(ctx context.Context) (time.Time, bool)
}

// BarSource 是可选能力: 从 start 开始按 width 周期取第一根 K 线
// 不支持行情的后端返回 OK=false 的 "not implemented" 结果, 这不是致命错误
type BarSource interface {
	FetchFirstBar(ctx context.Context, symbol string, width time.Duration, start time.Time) model.Candle
}

var (
	// ErrInvalidArgument 订单违反前置条件, 在调用后端之前返回
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotImplemented 后端不支持该能力
	ErrNotImplemented = errors.New("not implemented")
)

// ValidationError 描述一个被前端拦截的订单
type ValidationError struct {
	Kind   string // "market", "limit", "stop", "short"
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s order: %s", e.Kind, e.Reason)
}

// Is 让 errors.Is(err, ErrInvalidArgument) 成立
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidArgument
}

type callTimeoutKey struct{}

// WithCallTimeout 在 ctx 中记录单次后端调用的超时
// 由多个后端调用组成的操作 (一键平仓) 用它为每一次调用单独计时
func WithCallTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, callTimeoutKey{}, d)
}

// CallContext 为一次后端调用派生 ctx. 没有记录超时时只继承父 ctx 的取消
func CallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d, ok := ctx.Value(callTimeoutKey{}).(time.Duration); ok && d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// TransportFailure 将传输层错误折叠成拒单结果
func TransportFailure(op string, err error) model.OrderResult {
	return model.Rejected("%s failed: transport error: %v", op, err)
}

// NotImplementedCandle 不支持行情的后端返回的 K 线
func NotImplementedCandle(backend, symbol string) model.Candle {
	return model.Candle{
		Symbol: symbol,
		OK:     false,
		Raw:    fmt.Sprintf("%s market data %v yet", backend, ErrNotImplemented),
	}
}
