package httpserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/erwait-web/internal/sampler"
)

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "erwait",
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "erwait",
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "erwait",
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "erwait",
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "erwait",
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total WebSocket messages dropped due to backpressure.",
		}, func() float64 {
			return float64(s.wsDropped.Load())
		}),
	}

	if samplerCollector := newSamplerCollector(s.sampler); samplerCollector != nil {
		collectors = append(collectors, samplerCollector)
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

type samplerCollector struct {
	sampler *sampler.Manager
	gauges  []sampleMetric
	ticks   *prometheus.Desc
	errors  *prometheus.Desc
	appends *prometheus.Desc
	failed  *prometheus.Desc
}

type sampleMetric struct {
	desc    *prometheus.Desc
	extract func(sample sampler.Sample) (float64, bool)
}

func newSamplerCollector(manager *sampler.Manager) prometheus.Collector {
	if manager == nil {
		return nil
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("erwait", "sampler", name),
			help,
			nil,
			nil,
		)
	}

	collector := &samplerCollector{
		sampler: manager,
		ticks:   desc("ticks_total", "Total sampling ticks attempted since start."),
		errors:  desc("tick_errors_total", "Total fetch failures since start."),
		appends: desc("appends_total", "Total successful sink appends since start."),
		failed:  desc("append_errors_total", "Total sink append failures since start."),
	}

	collector.gauges = []sampleMetric{
		{
			desc: desc("patient_count", "Patient count from the latest sample."),
			extract: func(sample sampler.Sample) (float64, bool) {
				return float64(sample.PatientCount), true
			},
		},
		{
			desc: desc("avg_wait_minutes", "Average wait in minutes from the latest sample."),
			extract: func(sample sampler.Sample) (float64, bool) {
				return sample.AvgWaitMinutes, true
			},
		},
		{
			desc: desc("longest_wait_minutes", "Longest wait in minutes from the latest sample."),
			extract: func(sample sampler.Sample) (float64, bool) {
				return sample.LongestWaitMinutes, true
			},
		},
		{
			desc: desc("sample_timestamp_seconds", "Unix timestamp of the latest sample."),
			extract: func(sample sampler.Sample) (float64, bool) {
				if sample.Timestamp.IsZero() {
					return 0, false
				}
				return float64(sample.Timestamp.Unix()), true
			},
		},
		{
			desc: desc("sample_age_seconds", "Seconds elapsed since the latest sample was collected."),
			extract: func(sample sampler.Sample) (float64, bool) {
				if sample.Timestamp.IsZero() {
					return 0, false
				}
				age := time.Since(sample.Timestamp).Seconds()
				if age < 0 {
					age = 0
				}
				return age, true
			},
		},
	}

	return collector
}

func (c *samplerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.gauges {
		ch <- metric.desc
	}
	ch <- c.ticks
	ch <- c.errors
	ch <- c.appends
	ch <- c.failed
}

func (c *samplerCollector) Collect(ch chan<- prometheus.Metric) {
	if c.sampler == nil {
		return
	}

	stats := c.sampler.Stats()
	ch <- prometheus.MustNewConstMetric(c.ticks, prometheus.CounterValue, float64(stats.Ticks))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(stats.TickErrors))
	ch <- prometheus.MustNewConstMetric(c.appends, prometheus.CounterValue, float64(stats.Appends))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(stats.AppendErrors))

	sample, ok := c.sampler.Latest()
	if !ok {
		return
	}
	for _, metric := range c.gauges {
		value, ok := metric.extract(sample)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, value)
	}
}
