// Package observability 定义监控服务的Prometheus指标
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "spc_monitor"

// 快照结果
const (
	OutcomeOk    = "ok"
	OutcomeError = "error"
)

// 校正结果
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// 后台循环名称
const (
	LoopResolve = "resolve"
	LoopFollow  = "follow"
	LoopRefresh = "refresh"
	LoopRetain  = "retention"
	LoopLineTap = "linetap"
)

// Metrics 的方法允许nil接收者，此时不记录任何指标
type Metrics struct {
	SnapshotsTotal        *prometheus.CounterVec
	SkuSwitchesTotal      prometheus.Counter
	CorrectionsTotal      *prometheus.CounterVec
	BackgroundErrorsTotal *prometheus.CounterVec
}

// NewMetrics 在reg上注册所有指标。同一个reg只能调用一次。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SnapshotsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "snapshots_total",
			Help:      "Snapshots written to the store by outcome",
		}, []string{"outcome"}),
		SkuSwitchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sku_switches_total",
			Help:      "Number of times the active SKU changed",
		}),
		CorrectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "corrections_total",
			Help:      "Correction requests by result",
		}, []string{"result"}),
		BackgroundErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "background_errors_total",
			Help:      "Swallowed errors of background loops",
		}, []string{"loop"}),
	}
}

func (m *Metrics) ObserveSnapshot(failed bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOk
	if failed {
		outcome = OutcomeError
	}
	m.SnapshotsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SkuSwitched() {
	if m == nil {
		return
	}
	m.SkuSwitchesTotal.Inc()
}

func (m *Metrics) Correction(err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.CorrectionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) BackgroundError(loop string) {
	if m == nil {
		return
	}
	m.BackgroundErrorsTotal.WithLabelValues(loop).Inc()
}
