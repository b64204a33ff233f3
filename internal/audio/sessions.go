package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alekspetrov/nova/internal/logging"
)

// Kind separates music playback sessions from text-to-speech sessions.
type Kind int

const (
	KindAudio Kind = iota
	KindTTS
)

func (k Kind) String() string {
	if k == KindTTS {
		return "tts"
	}
	return "audio"
}

// ErrSessionExists is returned when a guild already has a session of the
// requested kind.
var ErrSessionExists = errors.New("session already open for guild")

// VoiceLeaver disconnects the bot from a guild's voice channel. The gateway
// implements it.
type VoiceLeaver interface {
	UpdateVoiceState(ctx context.Context, guildID, channelID string) error
}

// Session is one guild's voice session.
type Session struct {
	Kind           Kind
	GuildID        string
	TextChannelID  string
	VoiceChannelID string
	Language       string
	// Blame prefixes spoken messages with the author's name.
	Blame  bool
	Opened time.Time
}

// Sessions holds at most one session per guild per kind.
type Sessions struct {
	voice VoiceLeaver
	log   *slog.Logger

	mu     sync.Mutex
	byKind map[Kind]map[string]*Session
}

// NewSessions returns an empty registry. voice may be nil, in which case
// CloseAll only forgets sessions.
func NewSessions(voice VoiceLeaver) *Sessions {
	return &Sessions{
		voice: voice,
		log:   logging.WithComponent("sessions"),
		byKind: map[Kind]map[string]*Session{
			KindAudio: {},
			KindTTS:   {},
		},
	}
}

// Open registers s.
func (r *Sessions) Open(s *Session) error {
	if s == nil || s.GuildID == "" {
		return fmt.Errorf("session needs a guild id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.byKind[s.Kind]
	if m == nil {
		return fmt.Errorf("unknown session kind %d", s.Kind)
	}
	if _, ok := m[s.GuildID]; ok {
		return fmt.Errorf("%s: %w", s.Kind, ErrSessionExists)
	}
	if s.Opened.IsZero() {
		s.Opened = time.Now()
	}
	m[s.GuildID] = s
	return nil
}

// Get returns the guild's session of kind k.
func (r *Sessions) Get(k Kind, guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byKind[k][guildID]
	return s, ok
}

// Drop forgets the guild's session of kind k without disconnecting.
func (r *Sessions) Drop(k Kind, guildID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKind[k][guildID]; !ok {
		return false
	}
	delete(r.byKind[k], guildID)
	return true
}

// DropGuild forgets the guild's TTS session, or its audio session when no
// TTS session exists. It reports which kind was dropped.
func (r *Sessions) DropGuild(guildID string) (Kind, bool) {
	if r.Drop(KindTTS, guildID) {
		return KindTTS, true
	}
	if r.Drop(KindAudio, guildID) {
		return KindAudio, true
	}
	return 0, false
}

// Len returns the number of open sessions of kind k.
func (r *Sessions) Len(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKind[k])
}

// CloseAll disconnects and forgets every session of kind k. Failures are
// logged and do not stop the sweep. It returns the number closed cleanly.
func (r *Sessions) CloseAll(ctx context.Context, k Kind) int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byKind[k]))
	for _, s := range r.byKind[k] {
		sessions = append(sessions, s)
	}
	r.byKind[k] = map[string]*Session{}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].GuildID < sessions[j].GuildID })

	closed := 0
	for _, s := range sessions {
		if err := r.disconnect(ctx, s); err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.Error("Failed to close session",
					slog.String("kind", k.String()),
					slog.String("guild_id", s.GuildID),
					slog.Any("error", err),
				)
			}
			continue
		}
		closed++
	}

	if len(sessions) > 0 {
		r.log.Info("Closed sessions", slog.String("kind", k.String()), slog.Int("closed", closed), slog.Int("total", len(sessions)))
	}
	return closed
}

func (r *Sessions) disconnect(ctx context.Context, s *Session) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic disconnecting: %v", p)
		}
	}()
	if r.voice == nil {
		return nil
	}
	return r.voice.UpdateVoiceState(ctx, s.GuildID, "")
}
