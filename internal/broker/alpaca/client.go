// Package alpaca 实现美股后端: 通过 Alpaca REST 接口下单、查询交易日历和行情
package alpaca

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://paper-api.alpaca.markets"
	defaultDataURL = "https://data.alpaca.markets"
	defaultFeed    = "iex"
	defaultTimeout = 30 * time.Second
)

// ErrMissingCredentials 构造后端时缺少凭证, 启动时致命
var ErrMissingCredentials = errors.New("alpaca: api key and secret are required")

// Config 定义 Alpaca 后端所需的全部配置
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // 交易接口, paper: https://paper-api.alpaca.markets
	DataURL   string // 行情接口: https://data.alpaca.markets
	Feed      string // "iex" 或 "sip"
	Timeout   time.Duration
}

// Backend 实现了 broker.Backend 和 broker.BarSource
type Backend struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New 创建 Alpaca 后端. 缺少凭证时返回 ErrMissingCredentials
func New(cfg Config, logger *zap.Logger) (*Backend, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.DataURL == "" {
		cfg.DataURL = defaultDataURL
	}
	if cfg.Feed == "" {
		cfg.Feed = defaultFeed
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.DataURL = strings.TrimRight(cfg.DataURL, "/")

	return &Backend{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.Timeout),
		logger:     logger.With(zap.String("backend", "alpaca")),
	}, nil
}

// newHTTPClient 带连接池和分段超时的 HTTP 客户端
func newHTTPClient(total time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ResponseHeaderTimeout: 10 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: total}
}

// Name 后端标识
func (b *Backend) Name() string {
	return "alpaca"
}

// Close 释放空闲连接. 进程退出时调用
func (b *Backend) Close() {
	b.httpClient.CloseIdleConnections()
}

// doRequest 发送请求并读取完整响应体
// 返回的 error 只表示传输层失败; 非 2xx 的状态码由调用方判断
func (b *Backend) doRequest(ctx context.Context, method, url string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("APCA-API-KEY-ID", b.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", b.cfg.APISecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// apiError Alpaca 的错误返回 {"code":40310000,"message":"insufficient buying power"}
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// describeFailure 优先使用结构化的错误信息, 否则返回原始响应
func describeFailure(status int, body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", status, e.Message)
	}
	return fmt.Sprintf("HTTP %d %s", status, strings.TrimSpace(string(body)))
}
