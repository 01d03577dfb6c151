package ibkr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"market-session-trader/internal/model"
)

type placed struct {
	id       int64
	contract Contract
	order    Order
}

type fakeGateway struct {
	nextID     int64
	idErr      error
	placeErr   map[string]error
	positions  []OpenPosition
	posErr     error
	placements []placed
}

func (g *fakeGateway) NextOrderID(context.Context) (int64, error) {
	if g.idErr != nil {
		return 0, g.idErr
	}
	g.nextID++
	return g.nextID, nil
}

func (g *fakeGateway) PlaceOrder(_ context.Context, id int64, c Contract, o Order) error {
	g.placements = append(g.placements, placed{id: id, contract: c, order: o})
	return g.placeErr[c.Symbol]
}

func (g *fakeGateway) OpenPositions(context.Context) ([]OpenPosition, error) {
	return g.positions, g.posErr
}

func newTestBackend(t *testing.T, gw Gateway) *Backend {
	t.Helper()
	b, err := New(gw, nil, Defaults{SecType: "STK", Exchange: "SSE", Currency: "CNH"}, zap.NewNop())
	require.NoError(t, err)
	return b
}

func TestNew_NilGateway(t *testing.T) {
	_, err := New(nil, nil, Defaults{}, zap.NewNop())
	require.ErrorIs(t, err, ErrNilGateway)
}

func TestBuildContract(t *testing.T) {
	b := newTestBackend(t, &fakeGateway{})

	stock := b.BuildContract(model.NewInstrument("510300"))
	assert.Equal(t, Contract{Symbol: "510300", SecType: "STK", Exchange: "SSE", Currency: "CNH"}, stock)

	fut := b.BuildContract(model.Instrument{
		Symbol: "IF", SecType: "FUT", Exchange: "CFFEX", Currency: "CNY",
		ContractMonth: "202603", TradingClass: "IF", Multiplier: "300",
	})
	assert.Equal(t, "202603", fut.LastTradeDateOrContractMonth)
	assert.Equal(t, "IF", fut.TradingClass)
	assert.Equal(t, "300", fut.Multiplier)
	assert.Equal(t, "CFFEX", fut.Exchange)

	// 非期货不携带合约月份
	etf := b.BuildContract(model.Instrument{Symbol: "510500", ContractMonth: "202603"})
	assert.Empty(t, etf.LastTradeDateOrContractMonth)
}

func TestOrderMapping(t *testing.T) {
	gw := &fakeGateway{}
	b := newTestBackend(t, gw)
	ctx := context.Background()
	inst := model.NewInstrument("510300")

	require.True(t, b.PlaceMarketOrder(ctx, model.MarketOrder{Instrument: inst, Side: model.SideBuy, Qty: 100}).Accepted)
	require.True(t, b.PlaceLimitOrder(ctx, model.LimitOrder{Instrument: inst, Side: model.SideSell, Qty: 100, LimitPrice: 3.95, TIF: model.TIFGTC}).Accepted)
	require.True(t, b.PlaceStopOrder(ctx, model.StopOrder{Instrument: inst, Side: model.SideSell, Qty: 100, StopPrice: 3.80}).Accepted)
	res := b.PlaceShortOrder(ctx, model.ShortOrder{Instrument: inst, Qty: 200})
	require.True(t, res.Accepted)
	assert.Equal(t, "4", res.OrderID)

	require.Len(t, gw.placements, 4)
	assert.Equal(t, Order{Action: "BUY", OrderType: "MKT", TotalQuantity: 100, TIF: "DAY"}, gw.placements[0].order)
	assert.Equal(t, Order{Action: "SELL", OrderType: "LMT", TotalQuantity: 100, LmtPrice: 3.95, TIF: "GTC"}, gw.placements[1].order)
	assert.Equal(t, Order{Action: "SELL", OrderType: "STP", TotalQuantity: 100, AuxPrice: 3.80, TIF: "DAY"}, gw.placements[2].order)
	assert.Equal(t, Order{Action: "SELL", OrderType: "MKT", TotalQuantity: 200, TIF: "DAY"}, gw.placements[3].order)
}

func TestSendOrder_Failures(t *testing.T) {
	ctx := context.Background()
	inst := model.NewInstrument("510300")

	gw := &fakeGateway{idErr: errors.New("not connected")}
	res := newTestBackend(t, gw).PlaceMarketOrder(ctx, model.MarketOrder{Instrument: inst, Side: model.SideBuy, Qty: 1})
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Message, "not connected")
	assert.Empty(t, gw.placements)

	gw = &fakeGateway{placeErr: map[string]error{"510300": errors.New("contract not found")}}
	res = newTestBackend(t, gw).PlaceMarketOrder(ctx, model.MarketOrder{Instrument: inst, Side: model.SideBuy, Qty: 1})
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Message, "contract not found")

	res = newTestBackend(t, &fakeGateway{}).SendOrder(ctx, Contract{Symbol: "510300"}, Order{Action: "BUY", OrderType: "MKT"})
	assert.False(t, res.Accepted)
	assert.Equal(t, "Quantity must be > 0", res.Message)
}

func TestCloseAllPositions(t *testing.T) {
	gw := &fakeGateway{
		positions: []OpenPosition{
			{Contract: Contract{Symbol: "510300", SecType: "STK", Exchange: "SSE", Currency: "CNH"}, Position: 1000},
			{Contract: Contract{Symbol: "IF", SecType: "FUT", Exchange: "CFFEX", LastTradeDateOrContractMonth: "202603", Multiplier: "300"}, Position: -2},
			{Contract: Contract{Symbol: "510500"}, Position: 0},
			{Contract: Contract{Symbol: "588000"}, Position: 500},
		},
		placeErr: map[string]error{"588000": errors.New("halted")},
	}
	b := newTestBackend(t, gw)

	res := b.CloseAllPositions(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.CloseOrdersSent)
	assert.Equal(t, []string{"1", "2"}, res.OrderIDs)
	assert.Equal(t, []string{"588000"}, res.Failed)

	require.Len(t, gw.placements, 3)
	assert.Equal(t, "SELL", gw.placements[0].order.Action)
	assert.Equal(t, 1000.0, gw.placements[0].order.TotalQuantity)
	assert.Equal(t, "BUY", gw.placements[1].order.Action)
	assert.Equal(t, 2.0, gw.placements[1].order.TotalQuantity)
	assert.Equal(t, "202603", gw.placements[1].contract.LastTradeDateOrContractMonth)
}

func TestCloseAllPositions_SnapshotFailure(t *testing.T) {
	gw := &fakeGateway{posErr: errors.New("bridge down")}
	res := newTestBackend(t, gw).CloseAllPositions(context.Background())

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "bridge down")
	assert.Empty(t, gw.placements)
}

func TestSessionQueriesUseCalendar(t *testing.T) {
	now := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC) // 周一 10:00 北京时间
	cal, err := NewCalendar(nil, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	b, err := New(&fakeGateway{}, cal, Defaults{}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, b.IsMarketOpen(ctx))
	next, ok := b.NextOpenTime(ctx)
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)))

	now = time.Date(2026, 3, 7, 2, 0, 0, 0, time.UTC) // 周六
	assert.False(t, b.IsMarketOpen(ctx))
}

func TestFetchFirstBar_NotImplemented(t *testing.T) {
	c := newTestBackend(t, &fakeGateway{}).FetchFirstBar(context.Background(), "510300", 5*time.Minute, time.Now())
	assert.False(t, c.OK)
	assert.Equal(t, "CN market data not implemented yet", c.Raw)
}
