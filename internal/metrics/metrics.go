package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SaleMetrics counts checkout, refund and quote sweep outcomes.
type SaleMetrics struct {
	checkouts        *prometheus.CounterVec
	checkoutRejected *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
	saleTotal        prometheus.Histogram
	refunds          prometheus.Counter
	persistenceFails *prometheus.CounterVec
	quotesPurged     prometheus.Counter
	sweepFailures    prometheus.Counter
	openCarts        prometheus.Gauge
}

func NewSaleMetrics() *SaleMetrics {
	return NewSaleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewSaleMetricsWithRegisterer(registerer prometheus.Registerer) *SaleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SaleMetrics{
		checkouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "assistec_checkouts_total",
			Help: "Checkouts persisted, by resulting sale status",
		}, []string{"status"}),
		checkoutRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "assistec_checkout_rejections_total",
			Help: "Checkouts rejected before any write, by reason",
		}, []string{"reason"}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "assistec_checkout_duration_seconds",
			Help:    "Duration of checkout processing in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		saleTotal: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "assistec_sale_total_cents",
			Help:    "Total of completed sales in cents",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 8),
		}),
		refunds: registerCounter(registerer, prometheus.CounterOpts{
			Name: "assistec_refunds_total",
			Help: "Sales refunded",
		}),
		persistenceFails: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "assistec_persistence_failures_total",
			Help: "Write failures surfaced to callers, by operation",
		}, []string{"op"}),
		quotesPurged: registerCounter(registerer, prometheus.CounterOpts{
			Name: "assistec_quotes_purged_total",
			Help: "Expired quotes deleted by the sweeper",
		}),
		sweepFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "assistec_quote_sweep_failures_total",
			Help: "Quote deletions that failed during a sweep",
		}),
		openCarts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "assistec_open_carts",
			Help: "Carts currently held in checkout sessions",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCheckout counts a persisted checkout. Only completed sales feed the
// sale total histogram.
func (m *SaleMetrics) RecordCheckout(status string, totalCents int64, duration time.Duration) {
	m.checkouts.WithLabelValues(status).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
	if status == "completed" {
		m.saleTotal.Observe(float64(totalCents))
	}
}

func (m *SaleMetrics) RecordCheckoutRejected(reason string) {
	m.checkoutRejected.WithLabelValues(reason).Inc()
}

func (m *SaleMetrics) RecordRefund() {
	m.refunds.Inc()
}

func (m *SaleMetrics) RecordPersistenceFailure(op string) {
	m.persistenceFails.WithLabelValues(op).Inc()
}

func (m *SaleMetrics) RecordQuoteSweep(purged int, failed int) {
	m.quotesPurged.Add(float64(purged))
	m.sweepFailures.Add(float64(failed))
}

func (m *SaleMetrics) SetOpenCarts(n int) {
	m.openCarts.Set(float64(n))
}
