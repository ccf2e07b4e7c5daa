package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record HTTP module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cdp",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// VaultMetrics captures vault engine activity and system-wide solvency gauges.
type VaultMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidations *prometheus.CounterVec
	totals       *prometheus.GaugeVec
	ratio        prometheus.Gauge
	paused       prometheus.Gauge
}

// Vault returns the singleton metrics registry for vault engine operations.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Count of vault operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cdp",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "vault",
				Name:      "liquidations_total",
				Help:      "Completed liquidations segmented by settlement kind.",
			}, []string{"kind"}),
			totals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "vault",
				Name:      "system_totals",
				Help:      "System totals in whole token units segmented by field.",
			}, []string{"field"}),
			ratio: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "vault",
				Name:      "system_collateral_ratio",
				Help:      "Aggregate collateralisation percentage across all vaults.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "vault",
				Name:      "pause_engaged",
				Help:      "Indicates whether the vault module pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.latency,
			vaultRegistry.liquidations,
			vaultRegistry.totals,
			vaultRegistry.ratio,
			vaultRegistry.paused,
		)
	})
	return vaultRegistry
}

// Observe records the execution metrics for a vault operation.
func (m *VaultMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordLiquidation increments the liquidation counter. Kind is "partial" or
// "full".
func (m *VaultMetrics) RecordLiquidation(kind string) {
	if m == nil {
		return
	}
	if kind = strings.TrimSpace(kind); kind == "" {
		kind = "unspecified"
	}
	m.liquidations.WithLabelValues(kind).Inc()
}

// RecordTotals publishes the supplied base-unit totals scaled to whole tokens.
func (m *VaultMetrics) RecordTotals(collateral, debt, parked, ratio *uint256.Int) {
	if m == nil {
		return
	}
	m.totals.WithLabelValues("collateral").Set(tokenUnits(collateral))
	m.totals.WithLabelValues("debt").Set(tokenUnits(debt))
	m.totals.WithLabelValues("parked").Set(tokenUnits(parked))
	if ratio != nil && ratio.IsUint64() {
		m.ratio.Set(float64(ratio.Uint64()))
	} else {
		m.ratio.Set(math.Inf(1))
	}
}

// SetPause toggles the pause_engaged gauge.
func (m *VaultMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// OracleMetrics bundles collectors for price aggregation and freshness tracking.
type OracleMetrics struct {
	ticks     *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	price     prometheus.Gauge
	freshness prometheus.Gauge
}

// Oracle returns the metrics registry for the oracle aggregation loop.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "oracle",
				Name:      "ticks_total",
				Help:      "Aggregation ticks segmented by outcome.",
			}, []string{"outcome"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "oracle",
				Name:      "quotes_dropped_total",
				Help:      "Source quotes discarded during aggregation segmented by source and reason.",
			}, []string{"source", "reason"}),
			price: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "oracle",
				Name:      "price",
				Help:      "Latest published collateral price in debt token units.",
			}),
			freshness: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "oracle",
				Name:      "freshness_seconds",
				Help:      "Age in seconds of the oldest quote that contributed to the latest median.",
			}),
		}
		prometheus.MustRegister(oracleRegistry.ticks, oracleRegistry.dropped, oracleRegistry.price, oracleRegistry.freshness)
	})
	return oracleRegistry
}

// RecordTick counts an aggregation attempt.
func (m *OracleMetrics) RecordTick(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ticks.WithLabelValues("error").Inc()
		return
	}
	m.ticks.WithLabelValues("published").Inc()
}

// RecordDropped counts a quote rejected for the supplied reason.
func (m *OracleMetrics) RecordDropped(source, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(labelSource(source), reason).Inc()
}

// RecordPublish updates the price and freshness gauges.
func (m *OracleMetrics) RecordPublish(price *uint256.Int, age time.Duration) {
	if m == nil {
		return
	}
	m.price.Set(tokenUnits(price))
	if age < 0 {
		age = 0
	}
	m.freshness.Set(age.Seconds())
}

func labelSource(source string) string {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

var tokenScale = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// tokenUnits converts an 18-decimal base-unit amount into a float of whole tokens.
func tokenUnits(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	scaled := new(big.Float).Quo(new(big.Float).SetInt(value.ToBig()), tokenScale)
	floatVal, acc := scaled.Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
