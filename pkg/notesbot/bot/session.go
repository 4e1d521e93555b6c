// Package bot holds the conversational core: sessions, the identity gate,
// the conversation state machine and the per-channel update supervisor.
package bot

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jholhewres/notesbot/pkg/notesbot/notesapi"
)

// DefaultSessionTTL is how long an idle session is kept before pruning.
const DefaultSessionTTL = 24 * time.Hour

// Identity is a chat identity qualified by the channel it arrived on.
type Identity struct {
	Channel string
	ID      string
}

// String returns "channel:id".
func (id Identity) String() string { return id.Channel + ":" + id.ID }

// Subject converts the identity into the remote API's addressing form.
func (id Identity) Subject() notesapi.Subject {
	return notesapi.Subject{Channel: id.Channel, ID: id.ID}
}

// Draft holds the fields of a note being composed.
type Draft struct {
	Title   string
	Content string
}

// Session is the conversation state of one chat identity.
type Session struct {
	Identity  Identity
	CreatedAt time.Time

	state        State
	draft        Draft
	lastActiveAt time.Time

	mu sync.Mutex
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Draft returns a copy of the current draft.
func (s *Session) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// LastActiveAt returns the time of the last dispatched update.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// Reset returns the session to IDLE and clears the draft.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.draft = Draft{}
}

// begin moves to state with an empty draft. Every conversation starts here.
func (s *Session) begin(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.draft = Draft{}
}

// advance moves to state, keeping the draft.
func (s *Session) advance(state State, edit func(*Draft)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if edit != nil {
		edit(&s.draft)
	}
	s.state = state
}

// takeDraft returns the draft and resets the session. Only terminal
// transitions call it.
func (s *Session) takeDraft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.draft
	s.state = StateIdle
	s.draft = Draft{}
	return d
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}

// SessionMeta is a read-only snapshot of a session.
type SessionMeta struct {
	Channel      string    `json:"channel"`
	ChatID       string    `json:"chat_id"`
	State        string    `json:"state"`
	HasDraft     bool      `json:"has_draft"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// SessionStore keeps one Session per Identity in memory. It is safe for
// concurrent use by several supervisors, the pruner and the gateway.
type SessionStore struct {
	sessions map[Identity]*Session
	ttl      time.Duration
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewSessionStore creates an empty store. A non-positive ttl selects
// DefaultSessionTTL.
func NewSessionStore(ttl time.Duration, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[Identity]*Session),
		ttl:      ttl,
		logger:   logger.With("component", "sessions"),
	}
}

// GetOrCreate returns the session for id, creating an IDLE one on first use.
func (ss *SessionStore) GetOrCreate(id Identity) *Session {
	ss.mu.RLock()
	if s, ok := ss.sessions[id]; ok {
		ss.mu.RUnlock()
		return s
	}
	ss.mu.RUnlock()

	ss.mu.Lock()
	defer ss.mu.Unlock()

	// Double-check after acquiring the write lock.
	if s, ok := ss.sessions[id]; ok {
		return s
	}
	now := time.Now()
	s := &Session{Identity: id, CreatedAt: now, lastActiveAt: now}
	ss.sessions[id] = s
	ss.logger.Debug("session created", "channel", id.Channel, "chat_id", id.ID)
	return s
}

// Get returns the session for id, or nil.
func (ss *SessionStore) Get(id Identity) *Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.sessions[id]
}

// Delete removes the session for id. The next update starts from IDLE.
func (ss *SessionStore) Delete(id Identity) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, ok := ss.sessions[id]; !ok {
		return false
	}
	delete(ss.sessions, id)
	ss.logger.Info("session deleted", "channel", id.Channel, "chat_id", id.ID)
	return true
}

// Count returns the number of sessions.
func (ss *SessionStore) Count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// List returns a snapshot of every session, most recently active first.
func (ss *SessionStore) List() []SessionMeta {
	ss.mu.RLock()
	out := make([]SessionMeta, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		s.mu.Lock()
		out = append(out, SessionMeta{
			Channel:      s.Identity.Channel,
			ChatID:       s.Identity.ID,
			State:        s.state.String(),
			HasDraft:     s.draft != Draft{},
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.lastActiveAt,
		})
		s.mu.Unlock()
	}
	ss.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out
}

// Prune removes sessions idle for longer than the store TTL.
func (ss *SessionStore) Prune() int {
	return ss.pruneBefore(time.Now().Add(-ss.ttl))
}

func (ss *SessionStore) pruneBefore(cutoff time.Time) int {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	pruned := 0
	for id, s := range ss.sessions {
		if s.LastActiveAt().Before(cutoff) {
			delete(ss.sessions, id)
			pruned++
		}
	}
	if pruned > 0 {
		ss.logger.Info("idle sessions pruned",
			"pruned", pruned,
			"remaining", len(ss.sessions),
		)
	}
	return pruned
}
