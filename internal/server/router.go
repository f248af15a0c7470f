package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/qbong1010/printer-server/internal/printer"
)

// NewRouter wires the operator API. An empty apiToken leaves the API open,
// which is the expected setup on a POS terminal's loopback interface.
func NewRouter(h *Handler, apiToken string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))
	r.Use(requestLogger(logger))

	r.Get("/healthz", h.Healthz)

	r.Group(func(r chi.Router) {
		if apiToken != "" {
			r.Use(bearerAuth(apiToken))
		}

		r.Get("/orders", h.ListOrders)
		r.Post("/orders/refresh", h.RefreshOrders)
		r.Post("/orders/{orderId}/print", h.PrintOrder)
		r.Post("/orders/{orderId}/print/customer", h.PrintRole(printer.RoleCustomer))
		r.Post("/orders/{orderId}/print/kitchen", h.PrintRole(printer.RoleKitchen))

		r.Get("/preview", h.Preview)

		r.Get("/config/printers", h.GetPrinters)
		r.Put("/config/printers", h.PutPrinters)
		r.Get("/config/autoprint", h.GetAutoPrint)
		r.Put("/config/autoprint", h.PutAutoPrint)

		r.Post("/printers/kitchen/test", h.TestKitchenPrinter)
		r.Post("/cache/refresh", h.RefreshCache)
	})

	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
