package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rl1809/keyvault/internal/pkg/metrics"
)

func NewRouter(h *HTTPHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/payment", h.PaymentWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", h.Checkout)
		r.Get("/inventory/{productId}", h.GetInventory)
	})

	return otelhttp.NewHandler(r, "keyvault.http")
}

// MetricsMiddleware records RED metrics per route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		routeCtx := chi.RouteContext(r.Context())
		path := r.URL.Path
		if routeCtx != nil && routeCtx.RoutePattern() != "" {
			path = routeCtx.RoutePattern()
		}

		status := strconv.Itoa(ww.Status())
		metrics.HTTPDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
		metrics.HTTPRequests.WithLabelValues(path, r.Method, status).Inc()
	})
}
