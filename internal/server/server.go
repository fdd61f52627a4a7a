package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazz-dev/reachprobe/internal/config"
	"github.com/hazz-dev/reachprobe/internal/prober"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

// Store defines the storage queries the server needs.
type Store interface {
	AllLatest(ctx context.Context) ([]storage.Check, error)
	EndpointHistory(ctx context.Context, endpoint string, limit, offset int) ([]storage.Check, int, error)
	Transitions(ctx context.Context, limit, offset int) ([]storage.Transition, int, error)
	UptimePercent(ctx context.Context, last int) (float64, error)
}

// Prober is the part of *prober.Prober the API drives.
type Prober interface {
	State() prober.State
	InFlight() bool
	Config() config.ProbeConfig
	Tick(ctx context.Context) bool
	Subscribe(fn func(prober.Event)) (unsubscribe func())
	SetCheckInterval(d time.Duration) error
	SetRequestTimeout(d time.Duration) error
	SetRetryCount(n int) error
	AddURL(endpoint string) error
	RemoveURL(endpoint string) bool
}

// Server holds the chi router and its dependencies.
type Server struct {
	store  Store
	prober Prober
	router chi.Router
	logger *slog.Logger

	// ctx bounds probes started through the API.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Server and registers all routes.
func New(store Store, p Prober, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:  store,
		prober: p,
		router: chi.NewRouter(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

// Wait blocks until probes started through the API have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close cancels probes started through the API and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/endpoints", s.handleListEndpoints)
	r.Get("/api/endpoints/history", s.handleEndpointHistory)
	r.Get("/api/transitions", s.handleTransitions)
	r.Get("/api/config", s.handleGetConfig)
	r.Patch("/api/config", s.handlePatchConfig)
	r.Post("/api/config/urls", s.handleAddURL)
	r.Delete("/api/config/urls", s.handleRemoveURL)
	r.Post("/api/probe", s.handleProbe)
	r.Get("/api/events", s.handleEvents)
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

const maxLimit = 1000

// parsePage reads limit and offset query parameters.
func parsePage(r *http.Request, defaultLimit int) (limit, offset int, msg string) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, "invalid limit parameter"
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, "invalid offset parameter"
		}
		offset = n
	}
	return limit, offset, ""
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statusResponse struct {
	Reachable        bool       `json:"reachable"`
	LastConnected    *time.Time `json:"last_connected"`
	LastDisconnected *time.Time `json:"last_disconnected"`
	InFlight         bool       `json:"in_flight"`
	UptimePct        float64    `json:"uptime_percent"`
	CheckInterval    string     `json:"check_interval"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.prober.State()
	pct, err := s.store.UptimePercent(r.Context(), 100)
	if err != nil {
		s.logger.Error("UptimePercent", "error", err)
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Reachable:        st.Reachable,
		LastConnected:    timePtr(st.LastConnected),
		LastDisconnected: timePtr(st.LastDisconnected),
		InFlight:         s.prober.InFlight(),
		UptimePct:        pct,
		CheckInterval:    s.prober.Config().CheckInterval.String(),
	})
}

type endpointDetail struct {
	URL         string     `json:"url"`
	Scheme      string     `json:"scheme"`
	Position    int        `json:"position"`
	Status      string     `json:"status"`
	ResponseMs  int64      `json:"response_ms"`
	Error       string     `json:"error,omitempty"`
	LastChecked *time.Time `json:"last_checked"`
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	latestChecks, err := s.store.AllLatest(r.Context())
	if err != nil {
		s.logger.Error("AllLatest", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	byEndpoint := make(map[string]storage.Check, len(latestChecks))
	for _, c := range latestChecks {
		byEndpoint[c.Endpoint] = c
	}

	urls := s.prober.Config().URLs
	details := make([]endpointDetail, 0, len(urls))
	for i, endpoint := range urls {
		d := endpointDetail{URL: endpoint, Position: i, Status: "unknown"}
		if u, err := url.Parse(endpoint); err == nil {
			d.Scheme = u.Scheme
		}
		if c, ok := byEndpoint[endpoint]; ok {
			d.Status = c.Status
			d.ResponseMs = c.ResponseMs
			d.Error = c.Error
			d.LastChecked = timePtr(c.CheckedAt)
		}
		details = append(details, d)
	}

	writeJSON(w, http.StatusOK, details)
}

type historyResponse struct {
	Checks []storage.Check `json:"checks"`
	Total  int             `json:"total"`
}

func (s *Server) handleEndpointHistory(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("url")
	if endpoint == "" {
		writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}
	if !s.configured(endpoint) {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	limit, offset, msg := parsePage(r, 50)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	checks, total, err := s.store.EndpointHistory(r.Context(), endpoint, limit, offset)
	if err != nil {
		s.logger.Error("EndpointHistory", "url", endpoint, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Checks: checks,
		Total:  total,
	})
}

func (s *Server) configured(endpoint string) bool {
	for _, u := range s.prober.Config().URLs {
		if u == endpoint {
			return true
		}
	}
	return false
}

type transitionsResponse struct {
	Transitions []storage.Transition `json:"transitions"`
	Total       int                  `json:"total"`
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	limit, offset, msg := parsePage(r, 50)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	list, total, err := s.store.Transitions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("Transitions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, transitionsResponse{Transitions: list, Total: total})
}

type configResponse struct {
	CheckInterval  string   `json:"check_interval"`
	RequestTimeout string   `json:"request_timeout"`
	RetryCount     int      `json:"retry_count"`
	URLs           []string `json:"urls"`
}

func (s *Server) currentConfig() configResponse {
	cfg := s.prober.Config()
	return configResponse{
		CheckInterval:  cfg.CheckInterval.String(),
		RequestTimeout: cfg.RequestTimeout.String(),
		RetryCount:     cfg.RetryCount,
		URLs:           cfg.URLs,
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentConfig())
}

type configPatch struct {
	CheckInterval  *string `json:"check_interval"`
	RequestTimeout *string `json:"request_timeout"`
	RetryCount     *int    `json:"retry_count"`
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	var patch configPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Validate everything before applying anything.
	var interval, timeout time.Duration
	if patch.CheckInterval != nil {
		d, err := time.ParseDuration(*patch.CheckInterval)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid check_interval")
			return
		}
		interval = d
	}
	if patch.RequestTimeout != nil {
		d, err := time.ParseDuration(*patch.RequestTimeout)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid request_timeout")
			return
		}
		timeout = d
	}
	if patch.RetryCount != nil && (*patch.RetryCount < 0 || *patch.RetryCount > config.MaxRetryCount) {
		writeError(w, http.StatusBadRequest, "invalid retry_count")
		return
	}

	if interval > 0 {
		if err := s.prober.SetCheckInterval(interval); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if timeout > 0 {
		if err := s.prober.SetRequestTimeout(timeout); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if patch.RetryCount != nil {
		if err := s.prober.SetRetryCount(*patch.RetryCount); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, s.currentConfig())
}

type urlRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleAddURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"url\": \"...\"}")
		return
	}
	if err := s.prober.AddURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, s.currentConfig())
}

func (s *Server) handleRemoveURL(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("url")
	if endpoint == "" {
		writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}
	if !s.prober.RemoveURL(endpoint) {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, s.currentConfig())
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if s.prober.InFlight() {
		writeError(w, http.StatusConflict, "probe already in flight")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.prober.Tick(s.ctx)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// --- Middleware ---

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// The chi wrapper keeps http.Hijacker so websocket upgrades pass through.
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
