package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alekspetrov/nova/internal/logging"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opPresenceUpdate = 3
	opVoiceState     = 4
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Close code the gateway sends for a rejected token.
const closeAuthenticationFailed = 4004

const maxReconnects = 5

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int            `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type outbound struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type identifyData struct {
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
	Properties map[string]string `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
}

type hello struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// GatewayURLSource resolves the gateway address, usually RESTClient.
type GatewayURLSource interface {
	GatewayURL(ctx context.Context) (string, error)
}

// GatewayConfig configures a Gateway session.
type GatewayConfig struct {
	Token   string
	Intents int
	// URL skips the REST lookup when set.
	URL    string
	Source GatewayURLSource
}

// Gateway is a websocket session to the platform gateway. It implements
// Session and resumes transparently after a dropped connection.
type Gateway struct {
	cfg    GatewayConfig
	dialer websocket.Dialer
	log    *slog.Logger

	events chan Event
	stopCh chan struct{}
	closed sync.Once

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	sessionID string
	resumeURL string
	seq       *int
}

// NewGateway creates a gateway session. Call Open to connect.
func NewGateway(cfg GatewayConfig) *Gateway {
	return &Gateway{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    logging.WithComponent("platform.gateway"),
		events: make(chan Event, 64),
		stopCh: make(chan struct{}),
	}
}

// Events returns the dispatch stream. It is closed after Close or when the
// session cannot be recovered.
func (g *Gateway) Events() <-chan Event {
	return g.events
}

// Open connects, identifies, and starts the read loop.
func (g *Gateway) Open(ctx context.Context) error {
	url := g.cfg.URL
	if url == "" {
		if g.cfg.Source == nil {
			return fmt.Errorf("gateway: no URL and no URL source")
		}
		u, err := g.cfg.Source.GatewayURL(ctx)
		if err != nil {
			return fmt.Errorf("get gateway url: %w", err)
		}
		url = u
	}

	conn, interval, err := g.connect(ctx, url, false)
	if err != nil {
		return err
	}

	go g.run(ctx, conn, interval, url)
	return nil
}

// connect dials the gateway, reads HELLO and sends IDENTIFY or RESUME.
func (g *Gateway) connect(ctx context.Context, url string, resume bool) (*websocket.Conn, time.Duration, error) {
	conn, _, err := g.dialer.DialContext(ctx, url+"?v=10&encoding=json", nil)
	if err != nil {
		return nil, 0, fmt.Errorf("dial gateway: %w", err)
	}

	interval, err := g.handshake(conn, resume)
	if err != nil {
		_ = conn.Close()
		return nil, 0, fmt.Errorf("handle hello: %w", err)
	}

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()

	g.log.Info("Connected to Discord Gateway", slog.Bool("resume", resume))
	return conn, interval, nil
}

func (g *Gateway) handshake(conn *websocket.Conn, resume bool) (time.Duration, error) {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var p gatewayPayload
	if err := conn.ReadJSON(&p); err != nil {
		return 0, fmt.Errorf("read hello: %w", err)
	}
	if p.Op != opHello {
		return 0, fmt.Errorf("expected hello opcode %d, got %d", opHello, p.Op)
	}

	var h hello
	if err := json.Unmarshal(p.D, &h); err != nil {
		return 0, fmt.Errorf("parse hello: %w", err)
	}

	g.mu.Lock()
	sessionID, seq := g.sessionID, g.seq
	g.mu.Unlock()

	var msg outbound
	if resume && sessionID != "" && seq != nil {
		msg = outbound{Op: opResume, D: resumeData{Token: g.cfg.Token, SessionID: sessionID, Seq: *seq}}
	} else {
		msg = outbound{Op: opIdentify, D: identifyData{
			Token:   g.cfg.Token,
			Intents: g.cfg.Intents,
			Properties: map[string]string{
				"os":      "linux",
				"browser": "nova",
				"device":  "nova",
			},
		}}
	}

	if err := g.write(conn, msg); err != nil {
		return 0, fmt.Errorf("send identify: %w", err)
	}
	return time.Duration(h.HeartbeatInterval) * time.Millisecond, nil
}

func (g *Gateway) write(conn *websocket.Conn, v any) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// run owns the connection: it reads until failure, then resumes.
func (g *Gateway) run(ctx context.Context, conn *websocket.Conn, interval time.Duration, url string) {
	defer close(g.events)

	for reconnects := 0; ; {
		hbStop := make(chan struct{})
		go g.heartbeatLoop(conn, interval, hbStop)

		resume, err := g.readLoop(ctx, conn)
		close(hbStop)
		_ = conn.Close()

		if g.stopping(ctx) {
			return
		}
		if err != nil {
			g.log.Warn("Gateway connection lost", slog.Any("error", err))
		}
		if !resume {
			g.mu.Lock()
			g.sessionID, g.seq = "", nil
			g.mu.Unlock()
		}

		for {
			if reconnects >= maxReconnects {
				g.log.Error("Giving up on gateway", slog.Int("attempts", reconnects))
				return
			}
			reconnects++

			select {
			case <-time.After(time.Duration(reconnects) * time.Second):
			case <-ctx.Done():
				return
			case <-g.stopCh:
				return
			}

			target := url
			g.mu.Lock()
			if resume && g.resumeURL != "" {
				target = g.resumeURL
			}
			g.mu.Unlock()

			conn, interval, err = g.connect(ctx, target, resume)
			if err == nil {
				break
			}
			g.log.Warn("Gateway reconnect failed", slog.Int("attempt", reconnects), slog.Any("error", err))
		}
		reconnects = 0
	}
}

func (g *Gateway) stopping(ctx context.Context) bool {
	select {
	case <-g.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// readLoop returns when the connection must be replaced. resume reports
// whether the session can be resumed on the next connection.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn) (resume bool, err error) {
	for {
		var p gatewayPayload
		if err := conn.ReadJSON(&p); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == closeAuthenticationFailed {
				g.log.Error("Gateway rejected token", slog.Int("code", ce.Code))
				g.shutdown()
				return false, err
			}
			return true, err
		}

		if p.S != nil {
			g.mu.Lock()
			seq := *p.S
			g.seq = &seq
			g.mu.Unlock()
		}

		switch p.Op {
		case opHeartbeat:
			g.sendHeartbeat(conn)
		case opHeartbeatAck:
		case opReconnect:
			g.log.Info("Gateway requested reconnect")
			return true, nil
		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(p.D, &resumable)
			g.log.Warn("Invalid session", slog.Bool("resumable", resumable))
			return resumable, nil
		case opDispatch:
			if p.T == EventReady {
				var ready Ready
				if err := json.Unmarshal(p.D, &ready); err == nil {
					g.mu.Lock()
					g.sessionID = ready.SessionID
					g.resumeURL = ready.ResumeGatewayURL
					g.mu.Unlock()
					g.log.Info("Received READY", slog.String("session_id", ready.SessionID))
				}
			}

			ev := Event{Type: p.T, Data: p.D}
			if p.S != nil {
				ev.Seq = *p.S
			}
			select {
			case g.events <- ev:
			case <-ctx.Done():
				return false, ctx.Err()
			case <-g.stopCh:
				return false, nil
			}
		}
	}
}

func (g *Gateway) heartbeatLoop(conn *websocket.Conn, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.sendHeartbeat(conn)
		}
	}
}

func (g *Gateway) sendHeartbeat(conn *websocket.Conn) {
	g.mu.Lock()
	seq := g.seq
	g.mu.Unlock()

	if err := g.write(conn, outbound{Op: opHeartbeat, D: seq}); err != nil {
		g.log.Debug("Heartbeat failed", slog.Any("error", err))
	}
}

// UpdatePresence sets the bot's status and custom status text.
func (g *Gateway) UpdatePresence(ctx context.Context, p Presence) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("gateway: not connected")
	}

	status := p.Status
	if status == "" {
		status = StatusOnline
	}
	payload := outbound{Op: opPresenceUpdate, D: map[string]any{
		"since": nil,
		"activities": []map[string]any{{
			"name":  "Custom Status",
			"type":  4,
			"state": p.Text,
		}},
		"status": status,
		"afk":    false,
	}}

	if err := g.write(conn, payload); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return nil
}

// UpdateVoiceState joins channelID in guildID, or leaves voice when
// channelID is empty.
func (g *Gateway) UpdateVoiceState(ctx context.Context, guildID, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("gateway: not connected")
	}

	var channel any
	if channelID != "" {
		channel = channelID
	}
	payload := outbound{Op: opVoiceState, D: map[string]any{
		"guild_id":   guildID,
		"channel_id": channel,
		"self_mute":  false,
		"self_deaf":  true,
	}}
	if err := g.write(conn, payload); err != nil {
		return fmt.Errorf("update voice state: %w", err)
	}
	return nil
}

func (g *Gateway) shutdown() {
	g.closed.Do(func() { close(g.stopCh) })
}

// Close closes the WebSocket connection.
func (g *Gateway) Close() error {
	g.shutdown()

	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()

	if conn == nil {
		return nil
	}

	g.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	g.writeMu.Unlock()
	return conn.Close()
}
