package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"rune-holders/internal/features/rank"
	"rune-holders/internal/features/run"
	logging "rune-holders/internal/infra/log"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	ModeSync       = "sync"
	ModeBackground = "background"
)

// Runner is the part of *run.Supervisor the HTTP layer drives.
type Runner interface {
	Trigger() (run.Status, bool)
	RunNow(ctx context.Context) (*run.Result, error)
	Status() run.Status
}

type RankLookup interface {
	RankOf(ctx context.Context, address string) (rank.Rank, bool, error)
}

type Options struct {
	Runner              Runner
	Lookup              RankLookup
	Mode                string
	RefreshBeforeLookup bool
	Gatherer            prometheus.Gatherer // nil serves the default registry
}

type Controller struct {
	runner              Runner
	lookup              RankLookup
	mode                string
	refreshBeforeLookup bool
	gatherer            prometheus.Gatherer
}

func NewController(opts Options) *Controller {
	mode := opts.Mode
	if mode != ModeSync {
		mode = ModeBackground
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Controller{
		runner:              opts.Runner,
		lookup:              opts.Lookup,
		mode:                mode,
		refreshBeforeLookup: opts.RefreshBeforeLookup,
		gatherer:            gatherer,
	}
}

// NewRouter returns a new router with all the routes defined in this package.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", c.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/update_holders", c.HandleUpdateHolders).Methods(http.MethodGet)
	r.HandleFunc("/status", c.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/check_holder_rank", c.HandleCheckHolderRank).Methods(http.MethodPost)

	return r
}

// NewServer wraps the router with CORS and request logging.
func NewServer(addr string, c *Controller) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           WithCORS(withRequestLog(c.NewRouter())),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			return
		}
		logging.LogDebug("HTTP request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.LogWarn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Status: "error", Message: message})
}
