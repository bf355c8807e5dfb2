// Package server exposes the collector's HTTP surface: the batch-chain
// protocol endpoints from the wire contract plus the ambient /healthz and
// /metrics pair, routed with gorilla/mux the way the rest of the retrieved
// pack routes its HTTP servers.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/admission"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/logger"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/metrics"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/storage"
)

// Context bundles everything the collector's handlers depend on — the
// injected-context shape the design notes call for, so handlers stay thin
// and testable without a live process.
type Context struct {
	Pipeline      *admission.Pipeline
	Store         *storage.Store
	Metrics       *metrics.Collector
	Log           zerolog.Logger
	MetricsPath   string
	MetricsEnable bool
}

// apiError is the JSON body returned for every rejected or failed request.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRouter builds the collector's mux.Router.
func NewRouter(c *Context) http.Handler {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(c.Log))

	r.HandleFunc("/healthz", c.handleHealthz).Methods(http.MethodGet)
	if c.MetricsEnable {
		path := c.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(c.Metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.HandleFunc("/submit", c.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/agents/register", c.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/agents/rotate", c.handleRotate).Methods(http.MethodPost)
	r.HandleFunc("/batches", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/batches/checkpoints", c.handleCheckpoints).Methods(http.MethodGet)
	r.HandleFunc("/batches/export", c.handleExport).Methods(http.MethodGet)
	r.HandleFunc("/batches/{id}", c.handleByID).Methods(http.MethodGet)

	return r
}

func (c *Context) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		r = r.WithContext(withRequestID(r.Context(), id))
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.WithRequestID(log, requestIDFrom(r.Context())).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("request handled")
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = writeJSON(w, apiError{Code: code, Message: message})
}

func rejectStatus(kind admission.Kind) (int, string) {
	switch kind {
	case admission.KindRateLimited:
		return http.StatusTooManyRequests, "rate_limited"
	case admission.KindUnauthorized:
		return http.StatusUnauthorized, "unauthorized"
	case admission.KindBadRequest:
		return http.StatusBadRequest, "bad_request"
	case admission.KindConflict:
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
