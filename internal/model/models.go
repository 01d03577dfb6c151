package model

import (
	"fmt"
	"time"
)

// Market 标识一个被跟踪的市场
type Market string

const (
	MarketUS   Market = "US"
	MarketCN   Market = "CN"
	MarketNone Market = "NONE"
)

func (m Market) String() string {
	return string(m)
}

// MarketPick 市场选择器在每个 tick 的决策结果, 不持久化
type MarketPick struct {
	Market Market
	Symbol string // 代表该市场指数的代理标的, 例如 SPY
}

// NoMarket 没有市场开盘时的哨兵值
var NoMarket = MarketPick{Market: MarketNone}

// IsNone 是否没有市场被选中
func (p MarketPick) IsNone() bool {
	return p.Market == MarketNone || p.Market == ""
}

// Candle 一根 OHLCV K 线
// Raw 保留后端原始返回 (失败时是错误内容), 结构化字段在解析成功时填充
type Candle struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	OK     bool
	Raw    string
}

// Parsed 结构化字段是否已填充
func (c Candle) Parsed() bool {
	return !c.Time.IsZero()
}

func (c Candle) String() string {
	if !c.Parsed() {
		return fmt.Sprintf("CANDLE [%s] ok=%t", c.Symbol, c.OK)
	}
	return fmt.Sprintf("CANDLE [%s] %s O:%.2f H:%.2f L:%.2f C:%.2f V:%d",
		c.Symbol, c.Time.UTC().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}
