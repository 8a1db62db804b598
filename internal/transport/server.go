// Package transport serves the local HTTP bridge surface. Handler failures
// travel inside a 200 payload; HTTP status codes are reserved for
// transport-level problems the controller must handle differently.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/tether/internal/core/bridge"
	"github.com/colonyops/tether/internal/core/command"
	"github.com/colonyops/tether/internal/core/discovery"
)

// commandNamePattern rejects path tricks before a name ever reaches the
// registry.
var commandNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config carries the transport limits advertised on /health.
type Config struct {
	MaxBodyBytes  int64
	SubmitTimeout time.Duration

	RateLimitEnabled bool
	RateRPS          float64
	RateBurst        int
}

// Server is the HTTP front of one tether instance.
type Server struct {
	log      zerolog.Logger
	bridge   *bridge.Bridge
	registry *command.Registry
	metrics  http.Handler
	entry    discovery.Entry
	cfg      Config
	limiter  *clientLimiter
	started  time.Time

	httpSrv *http.Server
}

// NewServer wires the HTTP surface. metrics may be nil to disable the
// scrape endpoint.
func NewServer(log zerolog.Logger, reg *command.Registry, br *bridge.Bridge, metrics http.Handler, entry discovery.Entry, cfg Config) *Server {
	s := &Server{
		log:      log.With().Str("component", "transport").Logger(),
		bridge:   br,
		registry: reg,
		metrics:  metrics,
		entry:    entry,
		cfg:      cfg,
		started:  time.Now(),
	}
	if cfg.RateLimitEnabled {
		s.limiter = newClientLimiter(cfg.RateRPS, cfg.RateBurst)
	}
	return s
}

// Handler builds the full middleware stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /manifest", s.handleManifest)
	mux.HandleFunc("POST /command/{name}", s.handleCommand)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return cors(s.limiter.middleware(mux))
}

// Serve runs the HTTP server on an already-bound listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !commandNamePattern.MatchString(name) {
		writeError(w, http.StatusNotFound, "unknown command")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	res, err := s.bridge.Submit(r.Context(), name, json.RawMessage(body))
	if err != nil {
		s.writeSubmitError(w, name, err)
		return
	}

	// Handler failures are application results, not transport errors.
	writeJSON(w, http.StatusOK, res)
}

// writeSubmitError maps bridge and registry errors onto transport status
// codes.
func (s *Server) writeSubmitError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, command.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, command.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bridge.ErrTimeout):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		s.log.Error().Str("command", name).Err(err).Msg("submit failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"result": map[string]any{
			"instance_id": s.entry.InstanceID,
			"project":     s.entry.ProjectName,
			"commands":    s.registry.Manifest(),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"instance_id":    s.entry.InstanceID,
		"project":        s.entry.ProjectName,
		"port":           s.entry.Port,
		"pid":            os.Getpid(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"queue_depth":    s.bridge.QueueDepth(),
		"limits": map[string]any{
			"max_body_bytes":  s.cfg.MaxBodyBytes,
			"timeout_seconds": int(s.cfg.SubmitTimeout.Seconds()),
		},
	})
}

// cors allows browser-hosted controllers to reach the local bridge.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, command.Failure(msg))
}
