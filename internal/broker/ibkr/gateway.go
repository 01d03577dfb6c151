// Package ibkr 实现 A 股后端: 把标的映射成 IBKR 合约, 通过网关下单和读取持仓
package ibkr

import (
	"context"
	"errors"
)

// ErrNilGateway 构造后端时没有提供网关
var ErrNilGateway = errors.New("ibkr: gateway is nil")

// Contract IBKR 合约描述
type Contract struct {
	Symbol                       string `json:"symbol"`
	SecType                      string `json:"secType"`
	Exchange                     string `json:"exchange"`
	Currency                     string `json:"currency"`
	LastTradeDateOrContractMonth string `json:"lastTradeDateOrContractMonth,omitempty"`
	TradingClass                 string `json:"tradingClass,omitempty"`
	Multiplier                   string `json:"multiplier,omitempty"`
}

// Order IBKR 订单. 止损价放在 AuxPrice
type Order struct {
	Action        string  `json:"action"`    // "BUY" / "SELL"
	OrderType     string  `json:"orderType"` // "MKT" / "LMT" / "STP"
	TotalQuantity float64 `json:"totalQuantity"`
	LmtPrice      float64 `json:"lmtPrice,omitempty"`
	AuxPrice      float64 `json:"auxPrice,omitempty"`
	TIF           string  `json:"tif"`
}

// OpenPosition 网关返回的持仓快照
type OpenPosition struct {
	Contract Contract `json:"contract"`
	Position float64  `json:"position"`
	AvgCost  float64  `json:"avgCost"`
}

// Gateway 是后端对 IBKR 连接的全部需求
// 下单只表示请求已发出, 成交和拒单由网关异步回报
type Gateway interface {
	NextOrderID(ctx context.Context) (int64, error)
	PlaceOrder(ctx context.Context, orderID int64, c Contract, o Order) error
	OpenPositions(ctx context.Context) ([]OpenPosition, error)
}
