package strategy

import (
	"context"

	"go.uber.org/zap"

	"market-session-trader/internal/broker"
	"market-session-trader/internal/model"
)

// SessionBackend 选择器和轮询循环对后端的需求: 交易日历 + 首根 K 线
// *broker.Front 满足该接口
type SessionBackend interface {
	Name() string
	IsMarketOpen(ctx context.Context) bool
	broker.BarSource
}

// Candidate 一个被跟踪的市场及其代理标的
type Candidate struct {
	Market  model.Market
	Symbol  string
	Backend SessionBackend
}

// Selector 按固定优先级依次询问各市场是否开盘, 第一个开盘的胜出
// 必须顺序询问: 并行询问无法保证高优先级市场在时段重叠时胜出
type Selector struct {
	candidates []Candidate
	logger     *zap.Logger
}

// NewSelector candidates 的顺序就是优先级 (美股在前, A 股在后)
func NewSelector(logger *zap.Logger, candidates ...Candidate) *Selector {
	return &Selector{candidates: candidates, logger: logger}
}

// Candidates 返回按优先级排列的候选市场
func (s *Selector) Candidates() []Candidate {
	return s.candidates
}

// Pick 返回当前开盘的最高优先级市场. 没有市场开盘时返回 model.NoMarket 和 nil
func (s *Selector) Pick(ctx context.Context) (model.MarketPick, SessionBackend) {
	for _, c := range s.candidates {
		if c.Backend.IsMarketOpen(ctx) {
			return model.MarketPick{Market: c.Market, Symbol: c.Symbol}, c.Backend
		}
		s.logger.Debug("Market closed", zap.Stringer("market", c.Market), zap.String("backend", c.Backend.Name()))
	}
	return model.NoMarket, nil
}
