package audio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alekspetrov/nova/internal/testutil"
)

type fakeNode struct{ closed atomic.Bool }

func (n *fakeNode) SessionID() string { return "fake" }
func (n *fakeNode) Close() error      { n.closed.Store(true); return nil }

type scriptedDialer struct {
	errs  []error // one per attempt; nil means success
	calls int
}

func (d *scriptedDialer) Dial(context.Context) (Node, error) {
	i := d.calls
	d.calls++
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	if i >= len(d.errs) {
		return nil, errors.New("no script")
	}
	return &fakeNode{}, nil
}

func TestConnectorRetries(t *testing.T) {
	refused := errors.New("connection refused")

	tests := []struct {
		name          string
		errs          []error
		maxRetries    int
		wantConnected bool
		wantCalls     int
		wantSleeps    int
		wantExhausted int32
	}{
		{"first attempt", []error{nil}, 5, true, 1, 0, 0},
		{"third attempt", []error{refused, ErrBackendRejected, nil}, 5, true, 3, 2, 0},
		{"exhausted", []error{refused, refused, refused}, 3, false, 3, 2, 1},
		{"exhausted on rejection", []error{ErrBackendRejected, ErrBackendRejected}, 2, false, 2, 1, 1},
		{"single attempt", []error{refused}, 1, false, 1, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var exhausted atomic.Int32
			sleeps := 0
			d := &scriptedDialer{errs: tt.errs}
			c := NewConnector(d, ConnectorConfig{
				MaxRetries:  tt.maxRetries,
				RetryDelay:  time.Second,
				OnExhausted: func(context.Context) { exhausted.Add(1) },
				Sleep: func(_ context.Context, d time.Duration) error {
					if d != time.Second {
						t.Errorf("sleep %v, want 1s", d)
					}
					sleeps++
					return nil
				},
			})

			if got := c.Connect(context.Background()); got != tt.wantConnected {
				t.Errorf("Connect() = %v, want %v", got, tt.wantConnected)
			}
			if d.calls != tt.wantCalls {
				t.Errorf("dial calls = %d, want %d", d.calls, tt.wantCalls)
			}
			if sleeps != tt.wantSleeps {
				t.Errorf("sleeps = %d, want %d", sleeps, tt.wantSleeps)
			}
			if exhausted.Load() != tt.wantExhausted {
				t.Errorf("OnExhausted calls = %d, want %d", exhausted.Load(), tt.wantExhausted)
			}
			if tt.wantConnected && c.Node() == nil {
				t.Error("Node() is nil after success")
			}
		})
	}
}

func TestConnectorExhaustedHookRunsOnce(t *testing.T) {
	var exhausted atomic.Int32
	d := &scriptedDialer{errs: []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}}
	c := NewConnector(d, ConnectorConfig{
		MaxRetries:  2,
		OnExhausted: func(context.Context) { exhausted.Add(1) },
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})

	c.Connect(context.Background())
	c.Connect(context.Background())

	if d.calls != 4 {
		t.Errorf("dial calls = %d, want 4", d.calls)
	}
	if exhausted.Load() != 1 {
		t.Errorf("OnExhausted calls = %d, want 1", exhausted.Load())
	}
}

func TestConnectorCancelledDuringSleep(t *testing.T) {
	var exhausted atomic.Int32
	d := &scriptedDialer{errs: []error{errors.New("a"), errors.New("b")}}
	c := NewConnector(d, ConnectorConfig{
		MaxRetries:  5,
		RetryDelay:  time.Hour,
		OnExhausted: func(context.Context) { exhausted.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if c.Connect(ctx) {
		t.Fatal("Connect succeeded")
	}
	if d.calls != 1 {
		t.Errorf("dial calls = %d, want 1", d.calls)
	}
	if exhausted.Load() != 0 {
		t.Error("OnExhausted ran after cancellation")
	}
}

func TestConnectorClose(t *testing.T) {
	c := NewConnector(&scriptedDialer{errs: []error{nil}}, ConnectorConfig{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close before connect: %v", err)
	}
	if !c.Connect(context.Background()) {
		t.Fatal("Connect failed")
	}
	node := c.Node().(*fakeNode)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !node.closed.Load() || c.Node() != nil {
		t.Error("node not released")
	}
}

func newLavalinkServer(t *testing.T, password string, ready bool) (*httptest.Server, chan http.Header) {
	t.Helper()
	headers := make(chan http.Header, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/websocket" {
			http.NotFound(w, r)
			return
		}
		headers <- r.Header.Clone()
		if r.Header.Get("Authorization") != password {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		if ready {
			_ = conn.WriteJSON(map[string]any{"op": "ready", "resumed": false, "sessionId": "ll-1"})
		} else {
			_ = conn.WriteJSON(map[string]any{"op": "stats"})
		}
		_ = conn.WriteJSON(map[string]any{"op": "stats", "players": 0})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, headers
}

func dialerFor(t *testing.T, srv *httptest.Server, password string) *LavalinkDialer {
	t.Helper()
	hostPort := strings.TrimPrefix(srv.URL, "http://")
	host, portStr, _ := strings.Cut(hostPort, ":")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return NewLavalinkDialer(LavalinkConfig{
		Host:       host,
		Port:       port,
		Password:   password,
		UserID:     "bot-1",
		ClientName: "nova/test",
	})
}

func TestLavalinkDialer(t *testing.T) {
	srv, headers := newLavalinkServer(t, testutil.FakeLavalinkPassword, true)
	d := dialerFor(t, srv, testutil.FakeLavalinkPassword)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	node, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = node.Close() }()

	if node.SessionID() != "ll-1" {
		t.Errorf("SessionID = %q", node.SessionID())
	}
	h := <-headers
	if h.Get("Authorization") != testutil.FakeLavalinkPassword {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
	if h.Get("User-Id") != "bot-1" || h.Get("Client-Name") != "nova/test" {
		t.Errorf("headers = %v", h)
	}
}

func TestLavalinkDialerRejected(t *testing.T) {
	srv, _ := newLavalinkServer(t, testutil.FakeLavalinkPassword, true)
	d := dialerFor(t, srv, "wrong")

	_, err := d.Dial(context.Background())
	if !errors.Is(err, ErrBackendRejected) {
		t.Fatalf("Dial error = %v, want ErrBackendRejected", err)
	}
}

func TestLavalinkDialerNoReady(t *testing.T) {
	srv, _ := newLavalinkServer(t, testutil.FakeLavalinkPassword, false)
	d := dialerFor(t, srv, testutil.FakeLavalinkPassword)

	_, err := d.Dial(context.Background())
	if !errors.Is(err, ErrBackendRejected) {
		t.Fatalf("Dial error = %v, want ErrBackendRejected", err)
	}
}

func TestLavalinkURL(t *testing.T) {
	tests := []struct {
		cfg  LavalinkConfig
		want string
	}{
		{LavalinkConfig{Host: "localhost", Port: 2333}, "ws://localhost:2333/v4/websocket"},
		{LavalinkConfig{Host: "lava.example", Port: 443, Secure: true}, "wss://lava.example:443/v4/websocket"},
	}
	for _, tt := range tests {
		if got := tt.cfg.URL(); got != tt.want {
			t.Errorf("URL() = %q, want %q", got, tt.want)
		}
	}
}
