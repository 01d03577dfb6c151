package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"market-session-trader/internal/broker"
	"market-session-trader/internal/model"
	"market-session-trader/internal/service"
)

var (
	_ broker.Backend   = (*Backend)(nil)
	_ broker.BarSource = (*Backend)(nil)
)

// orderRequest POST /v2/orders 的请求体. decimal 序列化为字符串, 与 Alpaca 示例一致
type orderRequest struct {
	Symbol        string           `json:"symbol"`
	Qty           decimal.Decimal  `json:"qty"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	ClientOrderID string           `json:"client_order_id"`
}

type orderResponse struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
}

type clockResponse struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type positionResponse struct {
	Symbol        string          `json:"symbol"`
	Exchange      string          `json:"exchange"`
	Side          string          `json:"side"` // "long" 或 "short"
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

// barsResponse GET /v2/stocks/bars 的返回 {"bars":{"SPY":[{t,o,h,l,c,v}]}}
type barsResponse struct {
	Bars map[string][]struct {
		T time.Time `json:"t"`
		O float64   `json:"o"`
		H float64   `json:"h"`
		L float64   `json:"l"`
		C float64   `json:"c"`
		V int64     `json:"v"`
	} `json:"bars"`
}

// wireScale Alpaca 接受的最大小数位数
const wireScale = 9

// wireDecimal 去掉浮点运算带来的尾差, 例如 0.1+0.2 -> "0.3"
func wireDecimal(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(wireScale)
}

func newOrder(symbol string, side model.Side, qty float64, orderType string, tif model.TimeInForce) orderRequest {
	return orderRequest{
		Symbol:        symbol,
		Qty:           wireDecimal(qty),
		Side:          side.String(),
		Type:          orderType,
		TimeInForce:   string(tif.OrDefault()),
		ClientOrderID: uuid.NewString(),
	}
}

func (b *Backend) PlaceMarketOrder(ctx context.Context, o model.MarketOrder) model.OrderResult {
	return b.submit(ctx, newOrder(o.Instrument.Symbol, o.Side, o.Qty, "market", o.TIF))
}

// PlaceShortOrder 在 Alpaca 中卖空就是对未持有的标的下卖单 (受保证金和可卖空限制)
func (b *Backend) PlaceShortOrder(ctx context.Context, o model.ShortOrder) model.OrderResult {
	return b.submit(ctx, newOrder(o.Instrument.Symbol, model.SideSell, o.Qty, "market", o.TIF))
}

func (b *Backend) PlaceStopOrder(ctx context.Context, o model.StopOrder) model.OrderResult {
	req := newOrder(o.Instrument.Symbol, o.Side, o.Qty, "stop", o.TIF)
	stop := wireDecimal(o.StopPrice)
	req.StopPrice = &stop
	return b.submit(ctx, req)
}

func (b *Backend) PlaceLimitOrder(ctx context.Context, o model.LimitOrder) model.OrderResult {
	req := newOrder(o.Instrument.Symbol, o.Side, o.Qty, "limit", o.TIF)
	limit := wireDecimal(o.LimitPrice)
	req.LimitPrice = &limit
	return b.submit(ctx, req)
}

func (b *Backend) submit(ctx context.Context, req orderRequest) model.OrderResult {
	status, body, err := b.doRequest(ctx, http.MethodPost, b.cfg.BaseURL+"/v2/orders", req)
	if err != nil {
		b.logger.Error("Order request failed", zap.String("symbol", req.Symbol), zap.Error(err))
		return broker.TransportFailure("order", err)
	}
	if !isSuccess(status) {
		return model.Rejected("Order failed: %s", describeFailure(status, body))
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return broker.TransportFailure("order", fmt.Errorf("malformed response: %w", err))
	}
	if resp.ID == "" {
		return broker.TransportFailure("order", fmt.Errorf("malformed response: missing order id"))
	}

	b.logger.Info("Order accepted by Alpaca",
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side),
		zap.String("type", req.Type),
		zap.String("qty", req.Qty.String()),
		zap.String("order_id", resp.ID),
		zap.String("status", resp.Status))
	return model.OrderResult{Accepted: true, OrderID: resp.ID, Message: "Accepted"}
}

// CloseAllPositions 读取持仓快照, 对每个非零持仓发反向市价单
func (b *Backend) CloseAllPositions(ctx context.Context) model.PositionCloseResult {
	snapCtx, cancel := broker.CallContext(ctx)
	positions, err := b.positions(snapCtx)
	cancel()
	if err != nil {
		b.logger.Error("Position snapshot failed", zap.Error(err))
		return broker.SnapshotFailed(err)
	}
	return broker.CloseAll(ctx, positions, b.PlaceMarketOrder)
}

func (b *Backend) positions(ctx context.Context) ([]model.Position, error) {
	status, body, err := b.doRequest(ctx, http.MethodGet, b.cfg.BaseURL+"/v2/positions", nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, fmt.Errorf("positions: %s", describeFailure(status, body))
	}

	var resp []positionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("positions: malformed response: %w", err)
	}

	out := make([]model.Position, 0, len(resp))
	for _, p := range resp {
		qty := p.Qty
		// 空头的 qty 通常已经是负数, 这里兼容返回正数的情况
		if p.Side == "short" && qty.IsPositive() {
			qty = qty.Neg()
		}
		out = append(out, model.Position{
			Instrument: model.Instrument{Symbol: p.Symbol, Exchange: p.Exchange, SecType: "STK", Currency: "USD"},
			Qty:        qty.InexactFloat64(),
			AvgCost:    p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return out, nil
}

func (b *Backend) clock(ctx context.Context) (*clockResponse, error) {
	status, body, err := b.doRequest(ctx, http.MethodGet, b.cfg.BaseURL+"/v2/clock", nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, fmt.Errorf("clock: %s", describeFailure(status, body))
	}

	var resp clockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("clock: malformed response: %w", err)
	}
	return &resp, nil
}

// IsMarketOpen 使用 Alpaca 的 /v2/clock (已处理夏令时和节假日)
// 查询失败按休市处理
func (b *Backend) IsMarketOpen(ctx context.Context) bool {
	c, err := b.clock(ctx)
	if err != nil {
		b.logger.Warn("Clock request failed, treating market as closed", zap.Error(err))
		return false
	}
	return c.IsOpen
}

// NextOpenTime 返回 /v2/clock 的 next_open
func (b *Backend) NextOpenTime(ctx context.Context) (time.Time, bool) {
	c, err := b.clock(ctx)
	if err != nil {
		b.logger.Warn("Clock request failed", zap.Error(err))
		return time.Time{}, false
	}
	if c.NextOpen.IsZero() {
		return time.Time{}, false
	}
	return c.NextOpen, true
}

// FetchFirstBar 从 start 开始取 1 根 width 周期的 K 线
// 行情接口只返回交易时段的 K 线, 所以从 UTC 零点开始取第一根就是开盘后的第一根
func (b *Backend) FetchFirstBar(ctx context.Context, symbol string, width time.Duration, start time.Time) model.Candle {
	out := model.Candle{Symbol: symbol}

	timeframe, err := service.AlpacaTimeframe(width)
	if err != nil {
		out.Raw = err.Error()
		return out
	}

	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("timeframe", timeframe)
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("limit", "1")
	params.Set("feed", b.cfg.Feed)

	status, body, err := b.doRequest(ctx, http.MethodGet, b.cfg.DataURL+"/v2/stocks/bars?"+params.Encode(), nil)
	if err != nil {
		out.Raw = fmt.Sprintf("bars request failed: %v", err)
		return out
	}

	out.Raw = string(body)
	out.OK = isSuccess(status)
	if out.OK {
		b.parseBar(&out, body)
	}
	return out
}

// parseBar 解析失败时只保留 Raw, 不影响 OK
func (b *Backend) parseBar(c *model.Candle, body []byte) {
	var resp barsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		b.logger.Debug("Bars payload not parseable", zap.Error(err))
		return
	}
	bars := resp.Bars[c.Symbol]
	if len(bars) == 0 {
		return
	}
	bar := bars[0]
	c.Time = bar.T
	c.Open = bar.O
	c.High = bar.H
	c.Low = bar.L
	c.Close = bar.C
	c.Volume = bar.V
}
