package observability

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics captures vault activity for dashboards and alerting: operation
// counts segmented by outcome, rejected requests by reason, handler latency,
// and gauges tracking the vault's principal and elastic supply.
type VaultMetrics struct {
	operations *prometheus.CounterVec
	rejections *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	accruals   prometheus.Counter
	deposited  prometheus.Gauge
	supply     prometheus.Gauge
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Vault returns the lazily-initialised vault metrics registry.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "elastivault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Total vault operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "elastivault",
				Subsystem: "vault",
				Name:      "rejections_total",
				Help:      "Count of vault requests rejected before execution, by reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "elastivault",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault operation handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			accruals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "elastivault",
				Subsystem: "vault",
				Name:      "accruals_total",
				Help:      "Count of completed interest accrual rounds.",
			}),
			deposited: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "elastivault",
				Subsystem: "vault",
				Name:      "total_deposited_wei",
				Help:      "Base-asset principal held by the vault, in wei.",
			}),
			supply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "elastivault",
				Subsystem: "vault",
				Name:      "token_supply_wei",
				Help:      "Elastic token total supply, in wei.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.rejections,
			vaultRegistry.latency,
			vaultRegistry.accruals,
			vaultRegistry.deposited,
			vaultRegistry.supply,
		)
	})
	return vaultRegistry
}

// Observe records a completed vault operation and its handler latency.
func (m *VaultMetrics) Observe(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRejection increments the rejection counter. Reasons should be stable
// strings such as "min_deposit" or "tvl_cap" so dashboards stay consistent.
func (m *VaultMetrics) RecordRejection(operation, reason string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

// RecordAccrual counts a completed accrual round.
func (m *VaultMetrics) RecordAccrual() {
	if m == nil {
		return
	}
	m.accruals.Inc()
}

// SetTotals updates the principal and supply gauges. Values beyond float64
// range saturate rather than wrap.
func (m *VaultMetrics) SetTotals(deposited, supply *big.Int) {
	if m == nil {
		return
	}
	m.deposited.Set(gaugeValue(deposited))
	m.supply.Set(gaugeValue(supply))
}

func gaugeValue(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 1) {
		return math.MaxFloat64
	}
	if f < 0 {
		return 0
	}
	return f
}
