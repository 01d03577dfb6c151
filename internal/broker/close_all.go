package broker

import (
	"context"
	"fmt"
	"math"

	"market-session-trader/internal/model"
)

// CloseAll 对持仓快照逐个发出反向市价单
// 空头 (Qty<0) 买入平仓, 多头卖出平仓, 数量取绝对值; 单个失败不影响其余持仓
// 每个平仓单单独计时 (见 CallContext), 前面的慢单不会耗尽后面的时间
// 调用方在拿不到快照时应直接返回 Success=false, 不要调用本函数
func CloseAll(
	ctx context.Context,
	positions []model.Position,
	place func(ctx context.Context, o model.MarketOrder) model.OrderResult,
) model.PositionCloseResult {
	out := model.PositionCloseResult{Success: true}

	for _, p := range positions {
		if p.IsFlat() {
			continue
		}

		orderCtx, cancel := CallContext(ctx)
		res := place(orderCtx, model.MarketOrder{
			Instrument: p.Instrument,
			Side:       p.CloseSide(),
			Qty:        math.Abs(p.Qty),
			TIF:        model.TIFDay,
		})
		cancel()
		if !res.Accepted {
			out.Failed = append(out.Failed, p.Instrument.Symbol)
			continue
		}

		out.CloseOrdersSent++
		out.OrderIDs = append(out.OrderIDs, res.OrderID)
	}

	out.Message = fmt.Sprintf("CloseAllPositions: sent %d market close orders.", out.CloseOrdersSent)
	if len(out.Failed) > 0 {
		out.Message += fmt.Sprintf(" %d failed: %v", len(out.Failed), out.Failed)
	}
	return out
}

// SnapshotFailed 拿不到持仓快照时的结果
func SnapshotFailed(err error) model.PositionCloseResult {
	return model.PositionCloseResult{
		Success: false,
		Message: fmt.Sprintf("Failed to fetch positions: %v", err),
	}
}
