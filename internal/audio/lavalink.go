package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alekspetrov/nova/internal/logging"
)

const readyTimeout = 10 * time.Second

// LavalinkConfig addresses a Lavalink v4 node.
type LavalinkConfig struct {
	Host     string
	Port     int
	Password string
	Secure   bool

	// UserID is the bot's user id; the node needs it for voice updates.
	UserID     string
	ClientName string
}

// URL returns the node's websocket endpoint.
func (c LavalinkConfig) URL() string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + "/v4/websocket"
}

// LavalinkDialer opens Lavalink websocket sessions.
type LavalinkDialer struct {
	cfg    LavalinkConfig
	dialer websocket.Dialer
}

// NewLavalinkDialer returns a dialer for cfg.
func NewLavalinkDialer(cfg LavalinkConfig) *LavalinkDialer {
	if cfg.ClientName == "" {
		cfg.ClientName = "nova"
	}
	return &LavalinkDialer{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type lavalinkMessage struct {
	Op        string `json:"op"`
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
	Players   int    `json:"players"`
	Type      string `json:"type"`
	GuildID   string `json:"guildId"`
}

// Dial connects and waits for the node's ready message.
func (d *LavalinkDialer) Dial(ctx context.Context) (Node, error) {
	header := http.Header{}
	header.Set("Authorization", d.cfg.Password)
	header.Set("User-Id", d.cfg.UserID)
	header.Set("Client-Name", d.cfg.ClientName)

	conn, resp, err := d.dialer.DialContext(ctx, d.cfg.URL(), header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: HTTP %d", ErrBackendRejected, resp.StatusCode)
		}
		if errors.Is(err, websocket.ErrBadHandshake) {
			return nil, fmt.Errorf("%w: %v", ErrBackendRejected, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.cfg.URL(), err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(readyTimeout))
	var msg lavalinkMessage
	if err := conn.ReadJSON(&msg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read ready: %w", err)
	}
	if msg.Op != "ready" || msg.SessionID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: expected ready, got op %q", ErrBackendRejected, msg.Op)
	}
	_ = conn.SetReadDeadline(time.Time{})

	n := &lavalinkNode{
		conn:      conn,
		sessionID: msg.SessionID,
		done:      make(chan struct{}),
		log:       logging.WithComponent("audio"),
	}
	n.log.Info("Audio node ready",
		slog.String("session_id", msg.SessionID),
		slog.Bool("resumed", msg.Resumed),
	)
	go n.readLoop()
	return n, nil
}

type lavalinkNode struct {
	conn      *websocket.Conn
	sessionID string
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

func (n *lavalinkNode) SessionID() string { return n.sessionID }

// readLoop drains stats and player events until the connection ends.
func (n *lavalinkNode) readLoop() {
	defer close(n.done)
	for {
		var msg lavalinkMessage
		if err := n.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				n.log.Warn("Audio node connection lost", slog.Any("error", err))
			}
			return
		}
		switch msg.Op {
		case "stats":
			n.log.Debug("Audio node stats", slog.Int("players", msg.Players))
		case "event":
			n.log.Debug("Audio node event", slog.String("type", msg.Type), slog.String("guild_id", msg.GuildID))
		}
	}
}

func (n *lavalinkNode) Close() error {
	var err error
	n.closeOnce.Do(func() {
		_ = n.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = n.conn.Close()
		<-n.done
	})
	return err
}
