package ibkr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	opNextOrderID = "next_order_id"
	opPlaceOrder  = "place_order"
	opPositions   = "positions"

	defaultBridgeTimeout = 10 * time.Second
)

// ErrBridgeClosed 连接已关闭
var ErrBridgeClosed = errors.New("ibkr bridge: connection closed")

var _ Gateway = (*Bridge)(nil)

// bridgeRequest 发给网关的请求 {"id":1,"op":"place_order","params":{...}}
type bridgeRequest struct {
	ID     uint64 `json:"id"`
	Op     string `json:"op"`
	Params any    `json:"params,omitempty"`
}

// bridgeResponse 网关的响应. 没有 id 的消息是异步事件 (订单状态回报等)
type bridgeResponse struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Event  string          `json:"event"`
	Result json.RawMessage `json:"result"` // 按 op 延迟解析
}

type placeOrderParams struct {
	OrderID  int64    `json:"orderId"`
	Contract Contract `json:"contract"`
	Order    Order    `json:"order"`
}

// Bridge 通过 websocket 连接本地的 IBKR 网关进程 (TWS API 的 JSON 桥)
// 请求和响应一一对应, 同一时间只有一个请求在途
type Bridge struct {
	mu     sync.Mutex
	url    string
	dialer websocket.Dialer
	conn   *websocket.Conn
	seq    uint64
	closed bool
	broken error // 读写失败后旧连接不可再用, 下一次调用时重连
	logger *zap.Logger
}

// DialBridge 连接网关
func DialBridge(ctx context.Context, url string, logger *zap.Logger) (*Bridge, error) {
	b := &Bridge{
		url: url,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultBridgeTimeout,
		},
		logger: logger,
	}
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	b.conn = conn
	logger.Info("Connected to IBKR bridge", zap.String("url", url))
	return b, nil
}

func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial ibkr bridge %s: %w", b.url, err)
	}
	return conn, nil
}

// reconnect 替换已损坏的连接. 调用方持有 mu
func (b *Bridge) reconnect(ctx context.Context) error {
	b.logger.Warn("Reconnecting to IBKR bridge", zap.String("url", b.url), zap.NamedError("cause", b.broken))
	_ = b.conn.Close()

	conn, err := b.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeClosed, err)
	}
	b.conn = conn
	b.broken = nil
	b.logger.Info("Reconnected to IBKR bridge", zap.String("url", b.url))
	return nil
}

// Close 关闭连接
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return b.conn.Close()
}

func (b *Bridge) NextOrderID(ctx context.Context) (int64, error) {
	var out struct {
		OrderID int64 `json:"orderId"`
	}
	if err := b.call(ctx, opNextOrderID, nil, &out); err != nil {
		return 0, err
	}
	return out.OrderID, nil
}

func (b *Bridge) PlaceOrder(ctx context.Context, orderID int64, c Contract, o Order) error {
	return b.call(ctx, opPlaceOrder, placeOrderParams{OrderID: orderID, Contract: c, Order: o}, nil)
}

func (b *Bridge) OpenPositions(ctx context.Context) ([]OpenPosition, error) {
	var out []OpenPosition
	if err := b.call(ctx, opPositions, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// call 发送请求并等待同 id 的响应, 中间收到的异步事件只记录日志
func (b *Bridge) call(ctx context.Context, op string, params any, out any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBridgeClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultBridgeTimeout)
	}

	if b.broken != nil {
		dialCtx, cancel := context.WithDeadline(ctx, deadline)
		err := b.reconnect(dialCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	b.seq++
	req := bridgeRequest{ID: b.seq, Op: op, Params: params}

	_ = b.conn.SetWriteDeadline(deadline)
	if err := b.conn.WriteJSON(req); err != nil {
		b.broken = err
		return fmt.Errorf("%s: write: %w", op, err)
	}

	_ = b.conn.SetReadDeadline(deadline)
	for {
		_, message, err := b.conn.ReadMessage()
		if err != nil {
			b.broken = err
			return fmt.Errorf("%s: read: %w", op, err)
		}

		var resp bridgeResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			b.logger.Warn("Unparseable bridge message", zap.ByteString("message", message))
			continue
		}
		if resp.Event != "" {
			b.logger.Debug("Bridge event", zap.String("event", resp.Event), zap.ByteString("message", message))
			continue
		}
		if resp.ID != req.ID {
			b.logger.Warn("Stale bridge response", zap.Uint64("id", resp.ID), zap.Uint64("want", req.ID))
			continue
		}

		if !resp.OK {
			return fmt.Errorf("%s: %s", op, resp.Error)
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: malformed result: %w", op, err)
		}
		return nil
	}
}
