package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route", "status"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_notifications_total",
			Help: "Task notifications published per topic, by event and result.",
		},
		[]string{"event", "result"},
	)

	StoreTxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_store_tx_total",
			Help: "Store transactions by result.",
		},
		[]string{"result"},
	)

	PushSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "push_sessions_active",
		Help: "Currently connected push sessions.",
	})

	PushTopicsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "push_topics_active",
		Help: "Topics with at least one joined session.",
	})

	PushEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_events_dropped_total",
		Help: "Events dropped because a session buffer was full.",
	})
)

func RecordNotification(event string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	NotificationsTotal.WithLabelValues(event, result).Inc()
}

func RecordTx(err error) {
	result := "commit"
	if err != nil {
		result = "rollback"
	}
	StoreTxTotal.WithLabelValues(result).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware observes request duration labelled by the matched chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
