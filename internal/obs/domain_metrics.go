package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutSubmitTotal counts checkout submissions by outcome.
	CheckoutSubmitTotal *prometheus.CounterVec
	// CheckoutStepTotal counts step transitions of checkout sessions.
	CheckoutStepTotal *prometheus.CounterVec
	// PaymentRecordTotal counts payment record attempts by method and outcome.
	PaymentRecordTotal *prometheus.CounterVec
	// InvoiceRenderTotal counts rendered invoices by variant and format.
	InvoiceRenderTotal *prometheus.CounterVec
	// UpstreamCallTotal counts calls to the business API by operation and outcome.
	UpstreamCallTotal *prometheus.CounterVec
	// UpstreamCallLatency records business API latency in milliseconds.
	UpstreamCallLatency *prometheus.HistogramVec
	// OptionsCacheTotal counts option list cache hits and misses.
	OptionsCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutSubmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_submit_total",
			Help:      "Count of checkout submissions by outcome.",
		}, []string{"result"})
		CheckoutStepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_step_transitions_total",
			Help:      "Count of checkout step transitions.",
		}, []string{"from", "to"})
		PaymentRecordTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_record_total",
			Help:      "Count of payment record attempts by method and outcome.",
		}, []string{"method", "result"})
		InvoiceRenderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_render_total",
			Help:      "Count of rendered invoices by variant and format.",
		}, []string{"variant", "format"})
		UpstreamCallTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Count of business API calls by operation and outcome.",
		}, []string{"op", "result"})
		UpstreamCallLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_ms",
			Help:      "Latency of business API calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"op"})
		OptionsCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "options_cache_total",
			Help:      "Option list cache lookups by kind and outcome.",
		}, []string{"kind", "result"})

		for _, vec := range []**prometheus.CounterVec{
			&CheckoutSubmitTotal, &CheckoutStepTotal, &PaymentRecordTotal,
			&InvoiceRenderTotal, &UpstreamCallTotal, &OptionsCacheTotal,
		} {
			target := vec
			mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*target = v
				}
			})
		}
		mustRegisterCollector(reg, UpstreamCallLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				UpstreamCallLatency = v
			}
		})
	})
}

// ObserveCounter increments a labelled counter when the collector has been registered.
func ObserveCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
