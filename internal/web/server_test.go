package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alekspetrov/nova/internal/audio"
	"github.com/alekspetrov/nova/internal/health"
	"github.com/alekspetrov/nova/internal/platform"
	"github.com/alekspetrov/nova/internal/reconcile"
	"github.com/alekspetrov/nova/internal/scheduler"
	"github.com/alekspetrov/nova/internal/store"
	"github.com/alekspetrov/nova/internal/testutil"
)

type fakeBot struct{}

func (fakeBot) Running() bool         { return true }
func (fakeBot) Uptime() time.Duration { return 90 * time.Second }
func (fakeBot) Self() platform.User   { return platform.User{ID: "bot", Username: "nova"} }

type fakeTasks []scheduler.TaskStatus

func (f fakeTasks) Status() []scheduler.TaskStatus { return f }

type fakePasses map[string]reconcile.Result

func (f fakePasses) Last() map[string]reconcile.Result { return f }

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()
	repo, err := store.Open(context.Background(), store.DriverPureGo, filepath.Join(t.TempDir(), "nova.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	sessions := audio.NewSessions(nil)
	_ = sessions.Open(&audio.Session{Kind: audio.KindTTS, GuildID: "g1"})

	s := NewServer("127.0.0.1:0", Deps{
		Repo:       repo,
		Bot:        fakeBot{},
		Tasks:      fakeTasks{{Name: "status_loop", State: "running", Runs: 3}},
		Passes:     fakePasses{reconcile.KindPopulate: {PassID: "p1", Kind: reconcile.KindPopulate, Applied: 4}},
		Sessions:   sessions,
		Health: func() *health.Report {
			return &health.Report{Features: []health.FeatureStatus{{Name: "Web", Enabled: true, Status: health.StatusOK}}}
		},
		OwnerToken: func() string { return testutil.FakeOwnerToken },
		Version:    "1.0.0",
	})
	return s, repo
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q", got)
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Bot == nil || !got.Bot.Running || got.Bot.User != "nova" || got.Bot.Uptime != "1m30s" {
		t.Errorf("bot = %+v", got.Bot)
	}
	if len(got.Tasks) != 1 || got.Tasks[0].Runs != 3 {
		t.Errorf("tasks = %+v", got.Tasks)
	}
	if got.Passes[reconcile.KindPopulate].Applied != 4 {
		t.Errorf("passes = %+v", got.Passes)
	}
	if got.Health == nil || len(got.Health.Features) != 1 || got.Health.Features[0].Status != health.StatusOK {
		t.Errorf("health = %+v", got.Health)
	}
	if got.Sessions["tts"] != 1 || got.Sessions["audio"] != 0 {
		t.Errorf("sessions = %+v", got.Sessions)
	}
}

func TestRegisterOwner(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantOwner  bool
	}{
		{"valid", `{"token":"` + testutil.FakeOwnerToken + `","user_id":"u1","user_name":"alice"}`, http.StatusCreated, true},
		{"wrong token", `{"token":"nope","user_id":"u1","user_name":"alice"}`, http.StatusForbidden, false},
		{"missing user", `{"token":"` + testutil.FakeOwnerToken + `","user_name":"alice"}`, http.StatusBadRequest, false},
		{"malformed", `{"token":`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, repo := newTestServer(t)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/owners", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			_, err := repo.GetOwner(context.Background(), "u1")
			if tt.wantOwner && err != nil {
				t.Errorf("owner not stored: %v", err)
			}
			if !tt.wantOwner && err == nil {
				t.Error("owner stored on a rejected request")
			}
		})
	}
}

func TestListenAndShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	time.Sleep(50 * time.Millisecond)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("ListenAndServe = %v, want nil after shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
