package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"market-session-trader/internal/model"
)

type barCall struct {
	symbol string
	width  time.Duration
	start  time.Time
}

type stubBars struct {
	calls  []barCall
	candle model.Candle
}

func (s *stubBars) FetchFirstBar(_ context.Context, symbol string, width time.Duration, start time.Time) model.Candle {
	s.calls = append(s.calls, barCall{symbol: symbol, width: width, start: start})
	return s.candle
}

func TestSessionDayStart(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*60*60)
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"utc afternoon", time.Date(2026, 3, 2, 14, 35, 12, 99, time.UTC), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{"exact midnight", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		// 北京时间 3 月 2 日 06:00 仍是 UTC 3 月 1 日
		{"non-utc input", time.Date(2026, 3, 2, 6, 0, 0, 0, shanghai), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SessionDayStart(tt.at)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestFetch_RequestsOneBarFromUTCMidnight(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 36, 0, 0, time.UTC)
	src := &stubBars{candle: model.Candle{Symbol: "SPY", OK: true, Raw: `{"bars":{}}`}}
	f := NewFirstBarFetcher(0, zap.NewNop(), WithClock(func() time.Time { return now }))

	c := f.Fetch(context.Background(), src, "SPY")

	require.Len(t, src.calls, 1)
	assert.Equal(t, barCall{symbol: "SPY", width: 5 * time.Minute, start: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}, src.calls[0])
	assert.True(t, c.OK)
	assert.Equal(t, `{"bars":{}}`, c.Raw)
	assert.Equal(t, DefaultBarWidth, f.Width())
}

func TestFetch_FailureIsReturnedNotRaised(t *testing.T) {
	src := &stubBars{candle: model.Candle{OK: false, Raw: `{"message":"forbidden"}`}}
	f := NewFirstBarFetcher(15*time.Minute, zap.NewNop())

	c := f.Fetch(context.Background(), src, "SPY")

	assert.False(t, c.OK)
	assert.Equal(t, "SPY", c.Symbol)
	assert.Equal(t, `{"message":"forbidden"}`, c.Raw)
	assert.Equal(t, 15*time.Minute, src.calls[0].width)
}
