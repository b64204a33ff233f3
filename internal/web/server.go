// Package web is the HTTP host that runs alongside the bot: a health
// probe, a status endpoint and owner registration.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/alekspetrov/nova/internal/audio"
	"github.com/alekspetrov/nova/internal/health"
	"github.com/alekspetrov/nova/internal/logging"
	"github.com/alekspetrov/nova/internal/platform"
	"github.com/alekspetrov/nova/internal/reconcile"
	"github.com/alekspetrov/nova/internal/scheduler"
	"github.com/alekspetrov/nova/internal/store"
)

const maxBodyBytes = 1 << 16

// Bot is the runtime view the status endpoint reports on.
type Bot interface {
	Running() bool
	Uptime() time.Duration
	Self() platform.User
}

// Tasks reports background task state.
type Tasks interface {
	Status() []scheduler.TaskStatus
}

// Passes reports the latest reconciliation results.
type Passes interface {
	Last() map[string]reconcile.Result
}

// Deps are the server's collaborators. Nil status sources are omitted
// from the status response.
type Deps struct {
	Repo       store.Repository
	Bot        Bot
	Tasks      Tasks
	Passes     Passes
	Sessions   *audio.Sessions
	Health     func() *health.Report
	OwnerToken func() string
	Version    string
}

// Server handles HTTP requests
type Server struct {
	deps Deps
	log  *slog.Logger
	http *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr string, d Deps) *Server {
	s := &Server{deps: d, log: logging.WithComponent("web")}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the HTTP router
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.healthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/owners", s.registerOwner)
	})

	return r
}

// ListenAndServe serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.log.Info("Web server listening", slog.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Middleware

const requestIDHeader = "X-Request-ID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logging.WithContext(r.Context()).With(slog.String("component", "web")).Debug("Request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("remote", r.RemoteAddr),
			slog.Duration("took", time.Since(start)),
		)
	})
}

// Handlers

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type botStatus struct {
	Running bool   `json:"running"`
	User    string `json:"user,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Uptime  string `json:"uptime"`
}

type statusResponse struct {
	Version  string                      `json:"version,omitempty"`
	Bot      *botStatus                  `json:"bot,omitempty"`
	Tasks    []scheduler.TaskStatus      `json:"tasks,omitempty"`
	Passes   map[string]reconcile.Result `json:"passes,omitempty"`
	Sessions map[string]int              `json:"sessions,omitempty"`
	Health   *health.Report              `json:"health,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Version: s.deps.Version}

	if b := s.deps.Bot; b != nil {
		self := b.Self()
		resp.Bot = &botStatus{
			Running: b.Running(),
			User:    self.Username,
			UserID:  self.ID,
			Uptime:  b.Uptime().Truncate(time.Second).String(),
		}
	}
	if s.deps.Tasks != nil {
		resp.Tasks = s.deps.Tasks.Status()
	}
	if s.deps.Passes != nil {
		resp.Passes = s.deps.Passes.Last()
	}
	if ss := s.deps.Sessions; ss != nil {
		resp.Sessions = map[string]int{
			audio.KindAudio.String(): ss.Len(audio.KindAudio),
			audio.KindTTS.String():   ss.Len(audio.KindTTS),
		}
	}

	if s.deps.Health != nil {
		resp.Health = s.deps.Health()
	}

	writeJSON(w, http.StatusOK, resp)
}

type ownerRequest struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

func (s *Server) registerOwner(w http.ResponseWriter, r *http.Request) {
	log := logging.WithContext(r.Context()).With(slog.String("component", "web"))

	var input ownerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	input.UserID = strings.TrimSpace(input.UserID)
	input.UserName = strings.TrimSpace(input.UserName)
	if input.Token == "" || input.UserID == "" || input.UserName == "" {
		writeError(w, http.StatusBadRequest, "token, user_id and user_name are required")
		return
	}

	if s.deps.OwnerToken == nil || s.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "owner registration is not available")
		return
	}
	want := s.deps.OwnerToken()
	if subtle.ConstantTimeCompare([]byte(input.Token), []byte(want)) != 1 {
		log.Warn("Owner registration with a wrong token", slog.String("user_id", input.UserID))
		writeError(w, http.StatusForbidden, "invalid token")
		return
	}

	owner := &store.Owner{UserID: input.UserID, UserName: input.UserName}
	if err := s.deps.Repo.CreateOwner(r.Context(), owner); err != nil {
		log.Error("Failed to register owner", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to register owner")
		return
	}

	log.Info("Owner registered", slog.String("user_id", owner.UserID), slog.String("user", owner.UserName))
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": owner.UserID, "user_name": owner.UserName})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
