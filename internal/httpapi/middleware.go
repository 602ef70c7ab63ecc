package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/metrics"
)

// Заголовки, которые выставляет доверенный шлюз после проверки токена.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRoles = "X-User-Roles"
)

// identity один раз собирает актора из заголовков шлюза и кладёт его в контекст.
// Без заголовка X-User-Id запрос анонимный.
func identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.NewActor(r.Header.Get(HeaderUserID), r.Header.Get(HeaderUserRoles))
		next.ServeHTTP(w, r.WithContext(domain.ContextWithActor(r.Context(), actor)))
	})
}

// instrument пишет метрики и журнал запроса. Маршрут берётся из шаблона chi,
// чтобы идентификаторы заказов не попадали в метки.
func instrument(m *metrics.HTTPMetrics, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			if m != nil {
				m.Started(r.Method)
			}

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			// otelhttp стоит снаружи chi и не знает шаблон маршрута.
			trace.SpanFromContext(r.Context()).SetAttributes(semconv.HTTPRoute(route))
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			if m != nil {
				m.Finished(r.Method, route, status, elapsed)
			}
			logger.WithFields(log.Fields{
				"method":      r.Method,
				"route":       route,
				"status":      status,
				"duration_ms": elapsed.Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Debug("http request served")
		})
	}
}
