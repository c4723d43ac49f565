// Package metrics 提供撮合与结算相关的 Prometheus 指标
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exchange"

// Metrics 指标集合
type Metrics struct {
	// 按市场、方向统计提交到引擎的订单
	OrdersSubmitted *prometheus.CounterVec
	// 按市场统计成交笔数
	TradesTotal *prometheus.CounterVec
	// 按市场统计撤单
	OrdersCanceled *prometheus.CounterVec
	// 引擎因不变量破坏停机次数
	EngineHalts *prometheus.CounterVec
	// 单笔成交结算耗时
	SettlementDuration *prometheus.HistogramVec
	// 订单簿挂单数量
	BookDepth *prometheus.GaugeVec
	// 提现状态迁移次数
	WithdrawTransitions *prometheus.CounterVec
}

// New 创建指标实例
func New(subsystem string) *Metrics {
	return &Metrics{
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orders_submitted_total",
			Help:      "Orders submitted to the matching engine",
		}, []string{"market", "side"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "trades_total",
			Help:      "Trades executed",
		}, []string{"market"}),
		OrdersCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orders_canceled_total",
			Help:      "Orders canceled by request or exhausted market orders",
		}, []string{"market"}),
		EngineHalts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "engine_halts_total",
			Help:      "Market engines halted on invariant violation",
		}, []string{"market"}),
		SettlementDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "settlement_duration_seconds",
			Help:      "Trade settlement transaction latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"market"}),
		BookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "book_orders",
			Help:      "Resting orders per market and side",
		}, []string{"market", "side"}),
		WithdrawTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "withdraw_transitions_total",
			Help:      "Withdraw state machine transitions",
		}, []string{"currency", "event"}),
	}
}

// Register 注册到指定 registerer，重复注册不视为错误
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.OrdersSubmitted,
		m.TradesTotal,
		m.OrdersCanceled,
		m.EngineHalts,
		m.SettlementDuration,
		m.BookDepth,
		m.WithdrawTransitions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
