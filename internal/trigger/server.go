// Package trigger exposes the sync pipeline over HTTP so a scheduler or a
// Pub/Sub push subscription can start runs.
package trigger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/sheetsync/internal/metrics"
	"github.com/sells-group/sheetsync/internal/model"
	"github.com/sells-group/sheetsync/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// Runner executes one sync run.
type Runner interface {
	Execute(ctx context.Context, trigger string) pipeline.Report
}

// Options configures the server.
type Options struct {
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

// Server serves run triggers. Runs are serialized: a request that arrives
// while a run is in progress waits for it to finish.
type Server struct {
	runner Runner
	opts   Options
	mu     sync.Mutex
	router chi.Router
}

// New creates a Server.
func New(runner Runner, opts Options) *Server {
	s := &Server{runner: runner, opts: opts}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Post("/", s.handleRun)
	r.Post("/run", s.handleRun)
	if s.opts.Metrics.IsEnabled() {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}
	return r
}

// RunResponse is the body returned for a run trigger.
type RunResponse struct {
	Status   string   `json:"status"`
	RunID    string   `json:"run_id"`
	Message  string   `json:"message"`
	Lines    []string `json:"lines"`
	Duration float64  `json:"duration"`
	Done     int      `json:"done"`
	NoData   int      `json:"no_data"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
}

// pushEnvelope is the body of a Pub/Sub push delivery.
type pushEnvelope struct {
	Message struct {
		Data       string            `json:"data"`
		MessageID  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	trigger := "http"
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "unreadable request body"})
		return
	}
	if env, ok := decodePush(body); ok {
		trigger = "pubsub"
		zap.L().Info("trigger: push message received",
			zap.String("message_id", env.Message.MessageID),
			zap.String("subscription", env.Subscription),
			zap.String("data", payload(env.Message.Data)),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A dropped connection must not cancel a run that is replacing tables.
	rep := s.runner.Execute(context.WithoutCancel(r.Context()), trigger)

	resp := RunResponse{
		Status:   "success",
		RunID:    rep.RunID,
		Message:  rep.Result.String(),
		Lines:    rep.Result.Lines(),
		Duration: rep.Duration.Round(time.Millisecond).Seconds(),
		Done:     rep.Result.Count(model.UnitDone),
		NoData:   rep.Result.Count(model.UnitNoData),
		Failed:   rep.Result.Count(model.UnitFailed),
		Skipped:  rep.Result.Count(model.UnitSkipped),
	}
	status := http.StatusOK
	if rep.SetupFailed {
		resp.Status = "error"
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodePush(body []byte) (pushEnvelope, bool) {
	var env pushEnvelope
	if len(body) == 0 || json.Unmarshal(body, &env) != nil {
		return env, false
	}
	return env, env.Message.MessageID != "" || env.Message.Data != ""
}

// payload decodes push data for logging, falling back to the raw value.
func payload(data string) string {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return data
	}
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("trigger: write response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("trigger: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
