// Package metrics 定义交易核心的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trader"

// ============ 轮询循环 ============

// TicksTotal 每个 tick 选中的市场 (NONE 表示无市场开盘)
var TicksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "live",
		Name:      "ticks_total",
		Help:      "Polling ticks by selected market",
	},
	[]string{"market"},
)

// FirstBarFetches 首根 K 线获取结果
var FirstBarFetches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "live",
		Name:      "first_bar_fetches_total",
		Help:      "First-bar fetches by market and outcome",
	},
	[]string{"market", "outcome"},
)

// ============ 下单 ============

// OrdersTotal 下单结果 (accepted / rejected)
var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "orders_total",
		Help:      "Order submissions by backend, order kind and outcome",
	},
	[]string{"backend", "kind", "outcome"},
)

// ValidationRejects 在到达后端之前被拦截的订单
var ValidationRejects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "validation_rejects_total",
		Help:      "Orders rejected by the validating front-end before dispatch",
	},
	[]string{"kind"},
)

// BackendCallLatency 后端调用耗时 (秒)
var BackendCallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "call_latency_seconds",
		Help:      "Latency of backend calls in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"backend", "op"},
)

// Outcome 把布尔结果转换成标签值
func Outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
