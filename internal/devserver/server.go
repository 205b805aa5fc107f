package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/clock"
	"github.com/roach88/adminsync/internal/pushchannel"
	"github.com/roach88/adminsync/internal/query"
	"github.com/roach88/adminsync/internal/store"
)

// Config holds the dev server routes and credentials.
type Config struct {
	CollectionPath string
	StatsPath      string
	HealthPath     string
	PushPath       string
	Secret         []byte
	ServiceHeader  string
	ServiceKey     string
	PageSize       int
	MaxBodyBytes   int64
}

// DefaultConfig mirrors the client defaults.
func DefaultConfig() Config {
	return Config{
		CollectionPath: adminapi.DefaultCollectionPath,
		StatsPath:      adminapi.DefaultStatsPath,
		HealthPath:     adminapi.DefaultHealthPath,
		PushPath:       "/ws",
		ServiceHeader:  adminapi.DefaultServiceHeader,
		PageSize:       query.DefaultPageSize,
		MaxBodyBytes:   1 << 20,
	}
}

// Server serves the admin API over a store.
type Server struct {
	store   *store.Store
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	hub     *hub
	healthy atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used for token validation, stats and frame
// timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server. Zero fields in cfg take DefaultConfig values.
func New(st *store.Store, cfg Config, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.CollectionPath == "" {
		cfg.CollectionPath = def.CollectionPath
	}
	if cfg.StatsPath == "" {
		cfg.StatsPath = def.StatsPath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = def.HealthPath
	}
	if cfg.PushPath == "" {
		cfg.PushPath = def.PushPath
	}
	if cfg.ServiceHeader == "" {
		cfg.ServiceHeader = def.ServiceHeader
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	s := &Server{store: st, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.OrReal(s.clock)
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.hub = newHub(s.logger)
	s.healthy.Store(true)
	return s
}

// SetHealthy forces the health endpoint up or down, for outage drills.
func (s *Server) SetHealthy(ok bool) {
	s.healthy.Store(ok)
	s.logger.Info("health forced", "healthy", ok)
}

// Subscribers returns the number of connected push clients.
func (s *Server) Subscribers() int {
	return s.hub.Len()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.HealthPath, s.handleHealth)
	mux.HandleFunc("GET "+s.cfg.CollectionPath, s.withAuth(s.handleList))
	mux.HandleFunc("POST "+s.cfg.CollectionPath+"/{op}", s.withAuth(s.handleBulk))
	mux.HandleFunc("GET "+s.cfg.StatsPath, s.withAuth(s.handleStats))
	mux.HandleFunc("GET "+s.cfg.PushPath, s.withAuth(s.handlePush))
	return mux
}

// Notify broadcasts the invalidations a mutation causes.
func (s *Server) Notify(ctx context.Context, topics ...pushchannel.Topic) {
	now := s.clock.Now()
	for _, t := range topics {
		var data any
		if t == pushchannel.TopicStats {
			if st, err := s.store.Stats(ctx, now); err == nil {
				data = st
			}
		}
		s.hub.broadcast(newEvent(string(t), data, now))
	}
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, authErr := s.authorize(r); authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.healthy.Load() {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service marked unhealthy")
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := query.FromValues(r.URL.Query(), s.cfg.PageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	page, err := s.store.ListUsers(r.Context(), q)
	if err != nil {
		s.writeStoreError(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, adminapi.ListEnvelope{Data: adminapi.ListData{
		Records: page.Records,
		Pagination: adminapi.Pagination{
			TotalPages: page.TotalPages(q.PageSize),
			Total:      page.Total,
			Page:       q.Page,
			Limit:      q.PageSize,
		},
	}})
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	op := r.PathValue("op")
	name, ok := strings.CutPrefix(op, "bulk-")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown operation "+op)
		return
	}
	action, err := adminapi.ParseBulkAction(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	var req adminapi.BulkRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "validation", "ids must not be empty")
		return
	}

	res, err := s.store.ApplyBulk(r.Context(), action, req.IDs)
	if err != nil {
		s.writeStoreError(w, "bulk", err)
		return
	}
	s.logger.Info("bulk applied",
		"action", action,
		"success", res.SuccessCount,
		"failed", res.FailureCount)

	writeJSON(w, http.StatusOK, adminapi.BulkEnvelope{Success: true, Data: res})

	if res.SuccessCount > 0 {
		s.Notify(context.WithoutCancel(r.Context()), pushchannel.TopicUsers, pushchannel.TopicStats)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context(), s.clock.Now())
	if err != nil {
		s.writeStoreError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, adminapi.StatsEnvelope{Data: st})
}

// handlePush upgrades to a websocket subscription. A REQUEST_CURRENT_STATE
// frame is answered with a STATS_UPDATE carrying the current stats; other
// client frames are ignored.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("push upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn}
	s.hub.add(c)
	defer func() {
		s.hub.remove(c)
		conn.Close(websocket.StatusNormalClosure, "")
	}()
	s.logger.Debug("push subscriber connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			s.logger.Debug("push subscriber gone", "error", err)
			return
		}
		ev, err := pushchannel.DecodeFrame(raw)
		if err != nil {
			s.logger.Debug("ignoring malformed client frame", "error", err)
			continue
		}
		if ev.Type != pushchannel.RequestCurrentState {
			continue
		}
		now := s.clock.Now()
		st, err := s.store.Stats(ctx, now)
		if err != nil {
			s.logger.Warn("current state unavailable", "error", err)
			continue
		}
		if err := c.send(ctx, newEvent(string(pushchannel.TopicStats), st, now)); err != nil {
			return
		}
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	var fe *adminapi.FetchError
	if errors.As(err, &fe) && fe.Kind == adminapi.KindValidation {
		writeError(w, http.StatusBadRequest, "validation", fe.Message)
		return
	}
	s.logger.Error("store failure", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, adminapi.ErrorEnvelope{Success: false, Code: code, Message: message})
}
