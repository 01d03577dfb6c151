package ibkr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBridge 一个按 op 应答的网关, 每个响应前先推送一个异步事件
type fakeBridge struct {
	received chan bridgeRequest
	reply    func(req bridgeRequest) map[string]any
}

func (f *fakeBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req bridgeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		f.received <- req

		_ = conn.WriteJSON(map[string]any{"event": "orderStatus", "data": map[string]any{"status": "Submitted"}})
		resp := f.reply(req)
		if resp == nil {
			continue
		}
		resp["id"] = req.ID
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func dialFake(t *testing.T, f *fakeBridge) *Bridge {
	b, _ := dialFakeServer(t, f)
	return b
}

func dialFakeServer(t *testing.T, f *fakeBridge) (*Bridge, *httptest.Server) {
	t.Helper()
	f.received = make(chan bridgeRequest, 16)
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	b, err := DialBridge(context.Background(), url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, srv
}

func TestBridge_RoundTrips(t *testing.T) {
	f := &fakeBridge{reply: func(req bridgeRequest) map[string]any {
		switch req.Op {
		case opNextOrderID:
			return map[string]any{"ok": true, "result": map[string]any{"orderId": 42}}
		case opPlaceOrder:
			return map[string]any{"ok": true}
		case opPositions:
			return map[string]any{"ok": true, "result": []map[string]any{
				{"contract": map[string]any{"symbol": "510300", "secType": "STK", "exchange": "SSE", "currency": "CNH"}, "position": 1000, "avgCost": 3.9},
			}}
		}
		return map[string]any{"ok": false, "error": "unknown op"}
	}}
	b := dialFake(t, f)
	ctx := context.Background()

	id, err := b.NextOrderID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	err = b.PlaceOrder(ctx, id, Contract{Symbol: "510300", SecType: "STK"}, Order{Action: "BUY", OrderType: "LMT", TotalQuantity: 100, LmtPrice: 3.95, TIF: "DAY"})
	require.NoError(t, err)

	positions, err := b.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "510300", positions[0].Contract.Symbol)
	assert.Equal(t, 1000.0, positions[0].Position)

	first := <-f.received
	assert.Equal(t, opNextOrderID, first.Op)
	second := <-f.received
	assert.Equal(t, opPlaceOrder, second.Op)
	assert.Greater(t, second.ID, first.ID)

	raw, err := json.Marshal(second.Params)
	require.NoError(t, err)
	var params placeOrderParams
	require.NoError(t, json.Unmarshal(raw, &params))
	assert.Equal(t, int64(42), params.OrderID)
	assert.Equal(t, "LMT", params.Order.OrderType)
	assert.Equal(t, 3.95, params.Order.LmtPrice)
}

func TestBridge_GatewayError(t *testing.T) {
	b := dialFake(t, &fakeBridge{reply: func(bridgeRequest) map[string]any {
		return map[string]any{"ok": false, "error": "not connected to TWS"}
	}})

	_, err := b.NextOrderID(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected to TWS")
}

func TestBridge_RedialsAfterTimeout(t *testing.T) {
	var requests atomic.Int32
	b := dialFake(t, &fakeBridge{reply: func(bridgeRequest) map[string]any {
		// 第一个请求不应答, 让客户端超时
		if requests.Add(1) == 1 {
			return nil
		}
		return map[string]any{"ok": true, "result": map[string]any{"orderId": 7}}
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := b.OpenPositions(ctx)
	require.Error(t, err)

	id, err := b.NextOrderID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, int32(2), requests.Load())
}

func TestBridge_RedialFailureReportsClosed(t *testing.T) {
	b, srv := dialFakeServer(t, &fakeBridge{reply: func(bridgeRequest) map[string]any { return nil }})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := b.OpenPositions(ctx)
	require.Error(t, err)

	srv.Close()

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = b.NextOrderID(ctx)
	require.ErrorIs(t, err, ErrBridgeClosed)
}

func TestBridge_ClosedRejectsCalls(t *testing.T) {
	b := dialFake(t, &fakeBridge{reply: func(bridgeRequest) map[string]any { return map[string]any{"ok": true} }})
	require.NoError(t, b.Close())

	err := b.PlaceOrder(context.Background(), 1, Contract{}, Order{})
	require.ErrorIs(t, err, ErrBridgeClosed)
}

func TestDialBridge_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := DialBridge(ctx, "ws://127.0.0.1:1/bridge", zap.NewNop())
	require.Error(t, err)
}
