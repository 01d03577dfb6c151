package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestIntervalRoundTrip(t *testing.T) {
	for _, s := range []string{"1m", "5m", "15m", "1h", "4h", "1d"} {
		d, err := ParseIntervalDuration(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, FormatInterval(d))
	}
}

func TestParseIntervalDuration_Invalid(t *testing.T) {
	for _, s := range []string{"", "m", "5s", "0m", "-5m", "xm"} {
		_, err := ParseIntervalDuration(s)
		assert.Error(t, err, s)
	}
}

func TestAlpacaTimeframe(t *testing.T) {
	tests := map[time.Duration]string{
		5 * time.Minute:  "5Min",
		15 * time.Minute: "15Min",
		time.Hour:        "1Hour",
		24 * time.Hour:   "1Day",
	}
	for d, want := range tests {
		got, err := AlpacaTimeframe(d)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := AlpacaTimeframe(30 * time.Second)
	assert.Error(t, err)
}

func TestSetLogLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLogLevel("info") })

	require.NoError(t, SetLogLevel("debug"))
	assert.True(t, logLevel.Enabled(zapcore.DebugLevel))
	require.NoError(t, SetLogLevel(""))
	assert.Error(t, SetLogLevel("loud"))
}
