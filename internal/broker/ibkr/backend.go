package ibkr

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"market-session-trader/internal/broker"
	"market-session-trader/internal/model"
)

var (
	_ broker.Backend   = (*Backend)(nil)
	_ broker.BarSource = (*Backend)(nil)
)

// Defaults 标的缺省字段的补全值 (A 股 ETF: STK / SSE / CNH)
type Defaults struct {
	SecType  string
	Exchange string
	Currency string
}

// Backend A 股后端. 交易日历在本地计算, 不依赖网关
type Backend struct {
	gw       Gateway
	calendar *Calendar
	defaults Defaults
	logger   *zap.Logger
}

// New 创建后端. gw 不能为空
func New(gw Gateway, calendar *Calendar, defaults Defaults, logger *zap.Logger) (*Backend, error) {
	if gw == nil {
		return nil, ErrNilGateway
	}
	if calendar == nil {
		calendar = DefaultCalendar()
	}
	if defaults.SecType == "" {
		defaults.SecType = "STK"
	}
	return &Backend{
		gw:       gw,
		calendar: calendar,
		defaults: defaults,
		logger:   logger.With(zap.String("backend", "ibkr")),
	}, nil
}

func (b *Backend) Name() string {
	return "ibkr"
}

// BuildContract 标的 -> 合约. 只有期货携带合约月份、交易类别和乘数
func (b *Backend) BuildContract(i model.Instrument) Contract {
	c := Contract{
		Symbol:   i.Symbol,
		SecType:  orDefault(i.SecType, b.defaults.SecType),
		Exchange: orDefault(i.Exchange, b.defaults.Exchange),
		Currency: orDefault(i.Currency, b.defaults.Currency),
	}
	if c.SecType == "FUT" {
		c.LastTradeDateOrContractMonth = i.ContractMonth
		c.TradingClass = i.TradingClass
		c.Multiplier = i.Multiplier
	}
	return c
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func action(side model.Side) string {
	if side == model.SideBuy {
		return "BUY"
	}
	return "SELL"
}

func tif(t model.TimeInForce) string {
	return strings.ToUpper(string(t.OrDefault()))
}

// SendOrder 从网关取订单号并发出订单
// Accepted=true 只表示订单已送达网关, 成交结果异步回报
func (b *Backend) SendOrder(ctx context.Context, c Contract, o Order) model.OrderResult {
	if o.TotalQuantity <= 0 {
		return model.Rejected("Quantity must be > 0")
	}

	id, err := b.gw.NextOrderID(ctx)
	if err != nil {
		return model.Rejected("Failed to send order: %v", err)
	}
	if err := b.gw.PlaceOrder(ctx, id, c, o); err != nil {
		b.logger.Error("PlaceOrder failed", zap.String("symbol", c.Symbol), zap.Int64("order_id", id), zap.Error(err))
		return model.Rejected("Failed to send order: %v", err)
	}

	b.logger.Info("Order sent to IBKR",
		zap.String("symbol", c.Symbol),
		zap.String("action", o.Action),
		zap.String("type", o.OrderType),
		zap.Float64("qty", o.TotalQuantity),
		zap.Int64("order_id", id))
	return model.OrderResult{
		Accepted: true,
		OrderID:  strconv.FormatInt(id, 10),
		Message:  "Order sent to IBKR (acceptance/fill is reported asynchronously)",
	}
}

func (b *Backend) PlaceMarketOrder(ctx context.Context, o model.MarketOrder) model.OrderResult {
	return b.SendOrder(ctx, b.BuildContract(o.Instrument), Order{
		Action:        action(o.Side),
		OrderType:     "MKT",
		TotalQuantity: o.Qty,
		TIF:           tif(o.TIF),
	})
}

// PlaceShortOrder 卖空 = SELL 市价单, 能否开空由账户权限决定
func (b *Backend) PlaceShortOrder(ctx context.Context, o model.ShortOrder) model.OrderResult {
	return b.SendOrder(ctx, b.BuildContract(o.Instrument), Order{
		Action:        "SELL",
		OrderType:     "MKT",
		TotalQuantity: o.Qty,
		TIF:           tif(o.TIF),
	})
}

func (b *Backend) PlaceStopOrder(ctx context.Context, o model.StopOrder) model.OrderResult {
	if o.StopPrice <= 0 {
		return model.Rejected("StopPrice must be > 0")
	}
	return b.SendOrder(ctx, b.BuildContract(o.Instrument), Order{
		Action:        action(o.Side),
		OrderType:     "STP",
		TotalQuantity: o.Qty,
		AuxPrice:      o.StopPrice,
		TIF:           tif(o.TIF),
	})
}

func (b *Backend) PlaceLimitOrder(ctx context.Context, o model.LimitOrder) model.OrderResult {
	if o.LimitPrice <= 0 {
		return model.Rejected("LimitPrice must be > 0")
	}
	return b.SendOrder(ctx, b.BuildContract(o.Instrument), Order{
		Action:        action(o.Side),
		OrderType:     "LMT",
		TotalQuantity: o.Qty,
		LmtPrice:      o.LimitPrice,
		TIF:           tif(o.TIF),
	})
}

// CloseAllPositions 读取网关的持仓快照并逐个反向平仓
func (b *Backend) CloseAllPositions(ctx context.Context) model.PositionCloseResult {
	snapCtx, cancel := broker.CallContext(ctx)
	snapshot, err := b.gw.OpenPositions(snapCtx)
	cancel()
	if err != nil {
		b.logger.Error("Position snapshot failed", zap.Error(err))
		return broker.SnapshotFailed(err)
	}

	positions := make([]model.Position, 0, len(snapshot))
	for _, p := range snapshot {
		positions = append(positions, model.Position{
			Instrument: instrumentOf(p.Contract),
			Qty:        p.Position,
			AvgCost:    p.AvgCost,
		})
	}
	return broker.CloseAll(ctx, positions, b.PlaceMarketOrder)
}

func instrumentOf(c Contract) model.Instrument {
	return model.Instrument{
		Symbol:        c.Symbol,
		SecType:       c.SecType,
		Exchange:      c.Exchange,
		Currency:      c.Currency,
		ContractMonth: c.LastTradeDateOrContractMonth,
		TradingClass:  c.TradingClass,
		Multiplier:    c.Multiplier,
	}
}

func (b *Backend) IsMarketOpen(context.Context) bool {
	return b.calendar.IsOpen(b.calendar.Now())
}

func (b *Backend) NextOpenTime(context.Context) (time.Time, bool) {
	return b.calendar.NextOpen(b.calendar.Now())
}

// FetchFirstBar 行情尚未接入
func (b *Backend) FetchFirstBar(_ context.Context, symbol string, _ time.Duration, _ time.Time) model.Candle {
	return broker.NotImplementedCandle("CN", symbol)
}
