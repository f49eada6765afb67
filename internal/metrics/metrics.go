package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "propmarket"

// Payments - метрики платежного ядра. Регистрируются в своем реестре,
// чтобы тесты не конфликтовали с глобальным DefaultRegisterer.
type Payments struct {
	registry *prometheus.Registry

	OrdersCreated       *prometheus.CounterVec
	Verifications       *prometheus.CounterVec
	SubscriptionsActive *prometheus.CounterVec
	AddonsGranted       prometheus.Counter
	SweptPayments       *prometheus.CounterVec
	Refunds             *prometheus.CounterVec
	GatewayCalls        *prometheus.HistogramVec
	HTTPRequests        *prometheus.CounterVec
}

func NewPayments() *Payments {
	reg := prometheus.NewRegistry()
	m := &Payments{
		registry: reg,
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "orders_created_total",
			Help:      "Payment orders created at the gateway",
		}, []string{"type", "result"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "verifications_total",
			Help:      "Payment verification attempts by outcome",
		}, []string{"type", "outcome"}),
		SubscriptionsActive: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "activated_total",
			Help:      "Subscriptions activated per plan",
		}, []string{"plan"}),
		AddonsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "addons_granted_total",
			Help:      "Addon entitlements merged into subscriptions",
		}),
		SweptPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "payments_total",
			Help:      "Expired pending payments processed by the sweeper",
		}, []string{"result"}),
		Refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "refunds_total",
			Help:      "Refund attempts by result",
		}, []string{"result"}),
		GatewayCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Duration of payment gateway calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status_code"}),
	}

	reg.MustRegister(
		m.OrdersCreated,
		m.Verifications,
		m.SubscriptionsActive,
		m.AddonsGranted,
		m.SweptPayments,
		m.Refunds,
		m.GatewayCalls,
		m.HTTPRequests,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Payments) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveGateway - длительность вызова шлюза
func (m *Payments) ObserveGateway(operation string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.GatewayCalls.WithLabelValues(operation, result).Observe(time.Since(started).Seconds())
}

// Handler - /metrics
func (m *Payments) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// GinMiddleware считает запросы по шаблону маршрута, а не по сырому пути
func (m *Payments) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
