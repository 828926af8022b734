package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newswire_engine"

var unmeteredRoutes = map[string]struct{}{
	"/livez":   {},
	"/readyz":  {},
	"/metrics": {},
}

// Metrics stores Prometheus collectors used by the API, scheduler and orchestrator.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	runsTotal            *prometheus.CounterVec
	contentFetchDuration *prometheus.HistogramVec
	sendDuration         *prometheus.HistogramVec
	sendsTotal           *prometheus.CounterVec
	deliveriesInflight   prometheus.Gauge
	claimsExpiredTotal   prometheus.Counter
	claimsLostTotal      prometheus.Counter
	tierEventsTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_runs_total",
				Help:      "Delivery runs recorded by terminal status and trigger kind.",
			},
			[]string{"status", "trigger"},
		),
		contentFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "content_fetch_duration_seconds",
				Help:      "Content provider call duration in seconds by outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"outcome"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transport_send_duration_seconds",
				Help:      "Transport send duration in seconds by outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"outcome"},
		),
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_sends_total",
				Help:      "Messages handed to the transport by purpose and outcome.",
			},
			[]string{"purpose", "outcome"},
		),
		deliveriesInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deliveries_inflight",
				Help:      "Delivery runs currently executing in this process.",
			},
		),
		claimsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claims_expired_total",
				Help:      "Schedule claims reclaimed after exceeding the lease timeout.",
			},
		),
		claimsLostTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claims_lost_total",
				Help:      "Runs that finished after another worker took over their claim.",
			},
		),
		tierEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tier_events_total",
				Help:      "Tier change events by source and result.",
			},
			[]string{"source", "result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.runsTotal,
		m.contentFetchDuration,
		m.sendDuration,
		m.sendsTotal,
		m.deliveriesInflight,
		m.claimsExpiredTotal,
		m.claimsLostTotal,
		m.tierEventsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records API traffic by route template. Probe and scrape
// endpoints are left out.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()
		err := c.Next()

		route := "unmatched"
		if r := c.Route(); r != nil && strings.TrimSpace(r.Path) != "" {
			route = r.Path
		}
		if _, skip := unmeteredRoutes[route]; skip {
			return err
		}

		m.observeHTTP(c.Method(), route, responseStatus(c, err), time.Since(started))
		return err
	}
}

func (m *Metrics) IncRun(status, trigger string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(normalizeLabel(status), normalizeLabel(trigger)).Inc()
}

func (m *Metrics) ObserveContentFetch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.contentFetchDuration.WithLabelValues(normalizeLabel(outcome)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) ObserveSend(purpose, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	outcomeLabel := normalizeLabel(outcome)
	m.sendDuration.WithLabelValues(outcomeLabel).Observe(nonNegativeSeconds(duration))
	m.sendsTotal.WithLabelValues(normalizeLabel(purpose), outcomeLabel).Inc()
}

func (m *Metrics) IncDeliveriesInFlight() {
	if m == nil {
		return
	}
	m.deliveriesInflight.Inc()
}

func (m *Metrics) DecDeliveriesInFlight() {
	if m == nil {
		return
	}
	m.deliveriesInflight.Dec()
}

func (m *Metrics) IncClaimExpired() {
	if m == nil {
		return
	}
	m.claimsExpiredTotal.Inc()
}

func (m *Metrics) IncClaimLost() {
	if m == nil {
		return
	}
	m.claimsLostTotal.Inc()
}

func (m *Metrics) IncTierEvent(source, result string) {
	if m == nil {
		return
	}
	m.tierEventsTotal.WithLabelValues(normalizeLabel(source), normalizeLabel(result)).Inc()
}

func (m *Metrics) observeHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	method = strings.ToUpper(method)
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// responseStatus resolves the status the error handler will write for err.
func responseStatus(c *fiber.Ctx, err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case err != nil:
		return fiber.StatusInternalServerError
	}
	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func nonNegativeSeconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

func normalizeLabel(label string) string {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
