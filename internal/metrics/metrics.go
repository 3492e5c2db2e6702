// Package metrics holds the prometheus instruments of the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rebalancer"

// Metrics groups every engine instrument. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	priceFetches    *prometheus.CounterVec
	cacheRefreshes  *prometheus.CounterVec
	swapQuotes      *prometheus.CounterVec
	swapSelections  *prometheus.CounterVec
	bridgeSelection *prometheus.CounterVec
	actions         *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	dustConversions *prometheus.CounterVec
}

// New constructs the instruments and registers them against reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		priceFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "prices",
				Name:      "fetches_total",
				Help:      "Price lookups by outcome.",
			},
			[]string{"result"},
		),
		cacheRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "prices",
				Name:      "cache_refreshes_total",
				Help:      "Price table refreshes by outcome.",
			},
			[]string{"result"},
		),
		swapQuotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "swap",
				Name:      "quotes_total",
				Help:      "Swap quotes per provider by outcome.",
			},
			[]string{"provider", "result"},
		),
		swapSelections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "swap",
				Name:      "selections_total",
				Help:      "Winning swap quotes per provider.",
			},
			[]string{"provider"},
		),
		bridgeSelection: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "selections_total",
				Help:      "Selected bridges.",
			},
			[]string{"bridge"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "portfolio",
				Name:      "actions_total",
				Help:      "Portfolio actions by outcome.",
			},
			[]string{"action", "result"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "portfolio",
				Name:      "action_duration_seconds",
				Help:      "Time spent assembling a portfolio action.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		dustConversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dust",
				Name:      "conversions_total",
				Help:      "Dust token conversions by outcome.",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(
		m.priceFetches,
		m.cacheRefreshes,
		m.swapQuotes,
		m.swapSelections,
		m.bridgeSelection,
		m.actions,
		m.actionDuration,
		m.dustConversions,
	)
	return m
}

// ObservePriceFetch counts a single token lookup.
func (m *Metrics) ObservePriceFetch(result string) {
	if m == nil {
		return
	}
	m.priceFetches.WithLabelValues(result).Inc()
}

// ObserveCacheRefresh counts a price table refresh.
func (m *Metrics) ObserveCacheRefresh(err error) {
	if m == nil {
		return
	}
	m.cacheRefreshes.WithLabelValues(outcome(err)).Inc()
}

// ObserveSwapQuote counts a provider quote.
func (m *Metrics) ObserveSwapQuote(provider, result string) {
	if m == nil {
		return
	}
	m.swapQuotes.WithLabelValues(provider, result).Inc()
}

// ObserveSwapSelection counts a winning provider.
func (m *Metrics) ObserveSwapSelection(provider string) {
	if m == nil {
		return
	}
	m.swapSelections.WithLabelValues(provider).Inc()
}

// ObserveBridgeSelection counts a chosen bridge.
func (m *Metrics) ObserveBridgeSelection(bridge string) {
	if m == nil {
		return
	}
	m.bridgeSelection.WithLabelValues(bridge).Inc()
}

// ObserveAction records the outcome and duration of a portfolio action.
func (m *Metrics) ObserveAction(action string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, outcome(err)).Inc()
	if d >= 0 {
		m.actionDuration.WithLabelValues(action).Observe(d.Seconds())
	}
}

// ObserveDustConversion counts a dust token conversion attempt.
func (m *Metrics) ObserveDustConversion(err error) {
	if m == nil {
		return
	}
	m.dustConversions.WithLabelValues(outcome(err)).Inc()
}

// SwapQuotesCounter exposes a quote counter for tests.
func (m *Metrics) SwapQuotesCounter(provider, result string) prometheus.Counter {
	return m.swapQuotes.WithLabelValues(provider, result)
}

// ActionsCounter exposes an action counter for tests.
func (m *Metrics) ActionsCounter(action, result string) prometheus.Counter {
	return m.actions.WithLabelValues(action, result)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
