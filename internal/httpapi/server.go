package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/cleo/internal/config"
	"github.com/ent0n29/cleo/internal/cost"
	"github.com/ent0n29/cleo/internal/logging"
	"github.com/ent0n29/cleo/internal/observability"
	"github.com/ent0n29/cleo/internal/protocol"
	"github.com/ent0n29/cleo/internal/relay"
	"github.com/ent0n29/cleo/internal/session"
	"github.com/ent0n29/cleo/internal/store"
)

// Deps are the collaborators the HTTP API serves.
type Deps struct {
	Sessions *session.Manager
	Store    store.Store
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	// SDP defaults to a forwarder with its own HTTP client.
	SDP    *relay.SDPForwarder
	Rates  *cost.Rates
	Tools  []protocol.Tool
	Logger *slog.Logger
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	store     store.Store
	metrics   *observability.Metrics
	gatherer  prometheus.Gatherer
	upstreams relay.Upstreams
	sdp       *relay.SDPForwarder
	proxy     *relay.Proxy
	signal    *relay.SignalHandler
	rates     cost.Rates
	tools     []protocol.Tool
	logger    *slog.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	logger := logging.OrDiscard(deps.Logger)
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewManager(cfg.SessionInactivityTimeout)
	}
	st := deps.Store
	if st == nil {
		st = store.NewInMemoryStore()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	sdp := deps.SDP
	if sdp == nil {
		sdp = relay.NewSDPForwarder(nil, logger)
	}
	rates := cost.DefaultRates()
	if deps.Rates != nil {
		rates = *deps.Rates
	}

	upstreams := relay.FromConfig(cfg.Upstream)
	origin := checkOrigin(cfg.AllowAnyOrigin)
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		store:     st,
		metrics:   deps.Metrics,
		gatherer:  gatherer,
		upstreams: upstreams,
		sdp:       sdp,
		proxy: relay.NewProxy(relay.ProxyOptions{
			Upstreams:   upstreams,
			CheckOrigin: origin,
			Sessions:    sessions,
			Metrics:     deps.Metrics,
			Logger:      logger,
		}),
		signal: relay.NewSignalHandler(relay.SignalOptions{
			Upstreams:   upstreams,
			Forwarder:   sdp,
			CheckOrigin: origin,
			Sessions:    sessions,
			Metrics:     deps.Metrics,
			Logger:      logger,
		}),
		rates:  rates,
		tools:  deps.Tools,
		logger: logger.With("component", "httpapi"),
	}
}

// checkOrigin only lets browsers open sockets from the same origin unless
// any origin is allowed.
func checkOrigin(allowAny bool) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if allowAny {
			return true
		}
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			// Non-browser clients often omit Origin. Allow them.
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", observability.MetricsHandler(s.gatherer))

	r.Route("/voice", func(r chi.Router) {
		r.Post("/config", s.handleConfig)
		r.Post("/session", s.handleRegisterSession)
		r.Post("/session/{sessionId}", s.handleEndSession)
		r.Post("/transcript", s.handleTranscript)
		r.Post("/rtc/offer", s.handleOffer)
		r.Handle("/relay", s.proxy)
		r.Handle("/signal", s.signal)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"store_mode":      s.store.Mode(),
		"active_sessions": s.sessions.ActiveCount(),
		"fallback":        s.cfg.Upstream.HasFallback(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.store.Mode(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
