package service

import (
	"fmt"
	"strconv"
	"time"
)

// FormatInterval 将 time.Duration 格式化为标准的 K 线周期字符串，如 "1m", "5m", "1h"
func FormatInterval(d time.Duration) string {
	// 优先处理天、小时 (h)
	if d >= 24*time.Hour && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}

	// 接着处理分钟 (m)
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}

	// 无法识别的返回原始 String()
	return d.String()
}

// ParseIntervalDuration 将 K 线周期字符串解析为 time.Duration
// 例如 "5m" -> 5*time.Minute
func ParseIntervalDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval format: %q", s)
	}

	unit := s[len(s)-1:]
	valueStr := s[:len(s)-1]

	var unitDuration time.Duration
	switch unit {
	case "m":
		unitDuration = time.Minute
	case "h":
		unitDuration = time.Hour
	case "d":
		unitDuration = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unsupported interval unit: %s", unit)
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid interval value: %s", valueStr)
	}

	return time.Duration(value) * unitDuration, nil
}

// AlpacaTimeframe 将周期转换为 Alpaca 数据接口的 timeframe 参数
// 5m -> "5Min", 1h -> "1Hour", 1d -> "1Day"
func AlpacaTimeframe(d time.Duration) (string, error) {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dDay", d/(24*time.Hour)), nil
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dHour", d/time.Hour), nil
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dMin", d/time.Minute), nil
	}
	return "", fmt.Errorf("unsupported bar width: %s", d)
}
