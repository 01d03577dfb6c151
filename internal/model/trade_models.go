package model

import (
	"fmt"
	"math"
)

// Side 定义了订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) String() string {
	return string(s)
}

// TimeInForce 定义了订单有效期. 空值按 Day 处理
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// OrDefault 返回有效的 TIF (空值 -> Day)
func (t TimeInForce) OrDefault() TimeInForce {
	if t == "" {
		return TIFDay
	}
	return t
}

// Instrument 可交易标的. 构造后不再修改
// 股票/ETF 通常只需要 Symbol; 期货需要合约月份、交易类别和乘数
type Instrument struct {
	Symbol        string `validate:"required"`
	SecType       string // "STK", "FUT", "ETF"
	Exchange      string // "SSE", "CFFEX", "SMART"
	Currency      string // "CNH", "USD"
	ContractMonth string // FUT: "202603" 或 "20260315"
	TradingClass  string
	Multiplier    string
}

// NewInstrument 创建只有 Symbol 的标的 (美股常用)
func NewInstrument(symbol string) Instrument {
	return Instrument{Symbol: symbol}
}

// MarketOrder 市价单
type MarketOrder struct {
	Instrument Instrument
	Side       Side        `validate:"required,oneof=buy sell"`
	Qty        float64     `validate:"gt=0"`
	TIF        TimeInForce `validate:"omitempty,oneof=day gtc ioc fok"`
}

// LimitOrder 限价单
type LimitOrder struct {
	Instrument Instrument
	Side       Side        `validate:"required,oneof=buy sell"`
	Qty        float64     `validate:"gt=0"`
	LimitPrice float64     `validate:"gt=0"`
	TIF        TimeInForce `validate:"omitempty,oneof=day gtc ioc fok"`
}

// StopOrder 止损单 (多头止损通常是 SELL)
type StopOrder struct {
	Instrument Instrument
	Side       Side        `validate:"required,oneof=buy sell"`
	Qty        float64     `validate:"gt=0"`
	StopPrice  float64     `validate:"gt=0"`
	TIF        TimeInForce `validate:"omitempty,oneof=day gtc ioc fok"`
}

// ShortOrder 卖空单. 在后端等价于 SELL 市价单, 由账户权限决定能否开空
type ShortOrder struct {
	Instrument Instrument
	Qty        float64     `validate:"gt=0"`
	TIF        TimeInForce `validate:"omitempty,oneof=day gtc ioc fok"`
}

// OrderResult 一次下单尝试的结果. OrderID 只有在 Accepted=true 时有意义
type OrderResult struct {
	Accepted bool
	OrderID  string
	Message  string
}

// Rejected 构造一个被拒绝的结果
func Rejected(format string, args ...any) OrderResult {
	return OrderResult{Accepted: false, Message: fmt.Sprintf(format, args...)}
}

func (r OrderResult) String() string {
	if r.Accepted {
		return fmt.Sprintf("ACCEPTED [%s] %s", r.OrderID, r.Message)
	}
	return "REJECTED " + r.Message
}

// PositionCloseResult 一键平仓的结果 (best effort)
// 只要持仓快照拿到了 Success 就是 true, 即使部分平仓单失败
type PositionCloseResult struct {
	Success         bool
	CloseOrdersSent int      // 被接受的平仓单数量
	OrderIDs        []string // 被接受的平仓单 ID
	Failed          []string // 平仓失败的 Symbol
	Message         string
}

// Position 持仓快照中的一项. Qty > 0 为多头, < 0 为空头
type Position struct {
	Instrument Instrument
	Qty        float64
	AvgCost    float64
}

// positionEpsilon 以下的持仓视为已平
const positionEpsilon = 1e-12

// IsFlat 持仓是否为 0
func (p Position) IsFlat() bool {
	return math.Abs(p.Qty) < positionEpsilon
}

// CloseSide 返回平仓方向: 空头买入平仓, 多头卖出平仓
func (p Position) CloseSide() Side {
	if p.Qty < 0 {
		return SideBuy
	}
	return SideSell
}
