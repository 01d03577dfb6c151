package broker

import (
	"context"
	"time"

	"market-session-trader/internal/model"
)

// Placeholder 是尚未接入的市场的后端: 永远休市, 所有下单都被拒绝
// 它是一个正常的 Backend 实现, 选择器和轮询循环不需要特殊处理
type Placeholder struct {
	name   string
	reason string
}

// NewPlaceholder 创建占位后端. reason 会出现在所有拒单信息中
func NewPlaceholder(name, reason string) *Placeholder {
	return &Placeholder{name: name, reason: reason}
}

func (p *Placeholder) Name() string { return p.name }

func (p *Placeholder) reject() model.OrderResult {
	return model.Rejected("%s: %v (%s)", p.name, ErrNotImplemented, p.reason)
}

func (p *Placeholder) PlaceMarketOrder(context.Context, model.MarketOrder) model.OrderResult {
	return p.reject()
}

func (p *Placeholder) PlaceLimitOrder(context.Context, model.LimitOrder) model.OrderResult {
	return p.reject()
}

func (p *Placeholder) PlaceStopOrder(context.Context, model.StopOrder) model.OrderResult {
	return p.reject()
}

func (p *Placeholder) PlaceShortOrder(context.Context, model.ShortOrder) model.OrderResult {
	return p.reject()
}

func (p *Placeholder) CloseAllPositions(context.Context) model.PositionCloseResult {
	return model.PositionCloseResult{Success: false, Message: p.reject().Message}
}

func (p *Placeholder) IsMarketOpen(context.Context) bool { return false }

func (p *Placeholder) NextOpenTime(context.Context) (time.Time, bool) { return time.Time{}, false }

func (p *Placeholder) FetchFirstBar(_ context.Context, symbol string, _ time.Duration, _ time.Time) model.Candle {
	return NotImplementedCandle(p.name, symbol)
}
