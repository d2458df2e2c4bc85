// Package metrics собирает метрики сервиса для Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/chatgate/internal/models"
)

const namespace = "chatgate"

// Исходы чата для метки outcome.
const (
	OutcomeOK           = "ok"
	OutcomeDenied       = "denied"
	OutcomeInsufficient = "insufficient_credits"
	OutcomeLLMError     = "llm_error"
)

// Metrics набор метрик и реестр, в котором они зарегистрированы.
type Metrics struct {
	registry *prometheus.Registry

	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ChatsTotal      *prometheus.CounterVec
	CreditsDebited  *prometheus.CounterVec
	TrialsGranted   prometheus.Counter
	OrdersTotal     *prometheus.CounterVec
}

// New создает метрики в отдельном реестре вместе со стандартными коллекторами процесса.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ChatsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chat",
				Name:      "requests_total",
				Help:      "Chat requests by plan and outcome",
			},
			[]string{"plan", "outcome"},
		),
		CreditsDebited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "credits",
				Name:      "debited_total",
				Help:      "Credits debited by plan",
			},
			[]string{"plan"},
		),
		TrialsGranted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "trials",
				Name:      "granted_total",
				Help:      "Free trials granted",
			},
		),
		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "events_total",
				Help:      "Order lifecycle events by type",
			},
			[]string{"event"},
		),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestCount,
		m.RequestDuration,
		m.ChatsTotal,
		m.CreditsDebited,
		m.TrialsGranted,
		m.OrdersTotal,
	)
	return m
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveChat учитывает запрос к чату.
func (m *Metrics) ObserveChat(plan models.Plan, outcome string) {
	m.ChatsTotal.WithLabelValues(string(plan), outcome).Inc()
}

// ObserveCreditsDebited учитывает списанные кредиты.
func (m *Metrics) ObserveCreditsDebited(plan models.Plan, amount int) {
	m.CreditsDebited.WithLabelValues(string(plan)).Add(float64(amount))
}

// ObserveTrialGranted учитывает выданный пробный период.
func (m *Metrics) ObserveTrialGranted() {
	m.TrialsGranted.Inc()
}

// PublishOrderEvent учитывает событие заказа. Подключается к цепочке публикаторов заказов.
func (m *Metrics) PublishOrderEvent(_ context.Context, ev models.OrderEvent) error {
	m.OrdersTotal.WithLabelValues(ev.Type).Inc()
	return nil
}

// Middleware считает запросы и время их обработки по шаблону маршрута chi.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestCount.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
