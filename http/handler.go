package http

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	metrics "github.com/hashicorp/go-metrics/compat"
	"golang.org/x/time/rate"

	"github.com/stephnangue/jwtsecrets/core"
	"github.com/stephnangue/jwtsecrets/helper"
	"github.com/stephnangue/jwtsecrets/logger"
)

// DefaultMaxRequestSize bounds request bodies.
const DefaultMaxRequestSize = 32 * 1024 * 1024

func init() {
	chi.RegisterMethod("LIST")
}

// HandlerProperties contains configuration for the HTTP handler
type HandlerProperties struct {
	Core   *core.Core
	Logger *logger.GatedLogger

	// Metrics, when set, is served under /v1/sys/metrics.
	Metrics *metrics.InmemSink

	// MaxRequestSize bounds request bodies. Zero uses DefaultMaxRequestSize.
	MaxRequestSize int64

	// RateLimit caps mount requests per second across all clients. Zero
	// disables limiting. RateBurst defaults to one second worth of requests.
	RateLimit float64
	RateBurst int
}

// Handler creates and returns the main HTTP handler.
func Handler(props *HandlerProperties) http.Handler {
	log := props.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	maxSize := props.MaxRequestSize
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "unsupported path")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method "+req.Method+" not allowed")
	})

	r.Method(http.MethodGet, "/v1/sys/health", handleSysHealth(props.Core))
	if props.Metrics != nil {
		r.Method(http.MethodGet, "/v1/sys/metrics", handleSysMetrics(props.Metrics))
	}

	var logicalHandler http.Handler = handleLogical(props.Core, log, maxSize)
	if props.RateLimit > 0 {
		logicalHandler = rateLimited(logicalHandler, props.RateLimit, props.RateBurst)
	}
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, "LIST"} {
		r.Method(method, "/v1/*", logicalHandler)
	}

	return wrapGenericHandler(r, log)
}

func rateLimited(next http.Handler, limit float64, burst int) http.Handler {
	if burst <= 0 {
		burst = int(math.Ceil(limit))
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wrapGenericHandler rejects paths outside /v1/, tags the request with an
// id, disables caching and logs the outcome.
func wrapGenericHandler(handler http.Handler, log *logger.GatedLogger) http.Handler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			respondError(w, http.StatusNotFound, "path must begin with /v1/")
			return
		}

		id := helper.GenerateRequestID()
		r = r.WithContext(context.WithValue(r.Context(), middleware.RequestIDKey, id))
		w.Header().Set("X-Request-Id", id)
		w.Header().Set("Cache-Control", "no-store")

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		handler.ServeHTTP(sw, r)

		log.Debug("request handled",
			logger.String("request_id", id),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", sw.Status()),
			logger.Duration("duration", time.Since(start)),
		)
	})
}

// statusWriter records the status code sent to the client.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Status is the recorded code, or 200 when nothing was written.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
