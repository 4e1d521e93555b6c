package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
	"github.com/jholhewres/notesbot/pkg/notesbot/store"
)

// DefaultReconnectBackoff is the pause between a failed fetch and the
// reconnect attempt.
const DefaultReconnectBackoff = 3 * time.Second

// DefaultRedeliveryWindow is how many recent message ids each supervisor
// remembers to detect redelivered updates.
const DefaultRedeliveryWindow = 1024

// Recorder persists one row per dispatched update.
type Recorder interface {
	RecordDispatch(ctx context.Context, entry store.DispatchEntry) error
}

// SupervisorConfig tunes a Supervisor.
type SupervisorConfig struct {
	// Backoff is the fixed wait before reconnecting after a fault.
	Backoff time.Duration

	// RedeliveryWindow bounds the message-id memory.
	RedeliveryWindow int
}

// SupervisorStats is a snapshot of a supervisor's counters.
type SupervisorStats struct {
	Channel      string    `json:"channel"`
	Running      bool      `json:"running"`
	Processed    int64     `json:"processed"`
	Faults       int64     `json:"faults"`
	Reconnects   int64     `json:"reconnects"`
	Redeliveries int64     `json:"redeliveries"`
	SendFailures int64     `json:"send_failures"`
	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at,omitzero"`
}

// Supervisor pulls updates from one channel, dispatches them one at a time
// and keeps the channel connected. Run only returns when its context ends.
type Supervisor struct {
	channel  channels.Channel
	pipeline *Pipeline
	recorder Recorder
	cfg      SupervisorConfig
	seen     *lru.Cache[string, struct{}]
	logger   *slog.Logger

	running      atomic.Bool
	processed    atomic.Int64
	faults       atomic.Int64
	reconnects   atomic.Int64
	redeliveries atomic.Int64
	sendFailures atomic.Int64

	errMu       sync.Mutex
	lastError   string
	lastErrorAt time.Time
}

// NewSupervisor creates a supervisor for ch. recorder may be nil.
func NewSupervisor(ch channels.Channel, pipeline *Pipeline, recorder Recorder, cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultReconnectBackoff
	}
	if cfg.RedeliveryWindow <= 0 {
		cfg.RedeliveryWindow = DefaultRedeliveryWindow
	}
	seen, err := lru.New[string, struct{}](cfg.RedeliveryWindow)
	if err != nil {
		// Only returned for a non-positive size, which is excluded above.
		panic(err)
	}
	return &Supervisor{
		channel:  ch,
		pipeline: pipeline,
		recorder: recorder,
		cfg:      cfg,
		seen:     seen,
		logger:   logger.With("component", "supervisor", "channel", ch.Name()),
	}
}

// Channel returns the supervised channel.
func (s *Supervisor) Channel() channels.Channel { return s.channel }

// Run connects the channel and processes updates until ctx is cancelled.
// Every fetch failure is followed by the fixed backoff and a reconnect;
// there is no retry limit.
func (s *Supervisor) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)
	defer func() {
		if err := s.channel.Disconnect(); err != nil {
			s.logger.Debug("disconnect on shutdown", "error", err)
		}
	}()

	s.logger.Info("supervisor started", "backoff", s.cfg.Backoff)
	connected := false

	for {
		if ctx.Err() != nil {
			s.logger.Info("supervisor stopped")
			return nil
		}

		if !connected {
			if err := s.channel.Connect(ctx); err != nil {
				s.fault(ctx, "connect", err)
				if s.wait(ctx) {
					s.reconnects.Add(1)
				}
				continue
			}
			connected = true
			s.logger.Info("channel connected")
		}

		msgs, err := s.channel.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.fault(ctx, "poll", err)
			if err := s.channel.Disconnect(); err != nil {
				s.logger.Debug("disconnect after fault", "error", err)
			}
			connected = false
			if s.wait(ctx) {
				s.reconnects.Add(1)
			}
			continue
		}

		for _, msg := range msgs {
			s.handle(ctx, msg)
		}
	}
}

// Stats returns the current counters.
func (s *Supervisor) Stats() SupervisorStats {
	s.errMu.Lock()
	lastErr, lastAt := s.lastError, s.lastErrorAt
	s.errMu.Unlock()
	return SupervisorStats{
		Channel:      s.channel.Name(),
		Running:      s.running.Load(),
		Processed:    s.processed.Load(),
		Faults:       s.faults.Load(),
		Reconnects:   s.reconnects.Load(),
		Redeliveries: s.redeliveries.Load(),
		SendFailures: s.sendFailures.Load(),
		LastError:    lastErr,
		LastErrorAt:  lastAt,
	}
}

// handle dispatches one update and sends at most one reply.
func (s *Supervisor) handle(ctx context.Context, msg *channels.IncomingMessage) {
	if msg.ID != "" {
		// Telegram message ids are only unique within a chat.
		key := msg.ChatID + "/" + msg.ID
		if found, _ := s.seen.ContainsOrAdd(key, struct{}{}); found {
			s.redeliveries.Add(1)
			s.logger.Warn("redelivered update", "msg_id", msg.ID, "chat_id", msg.ChatID)
		}
	}

	dispatchID := uuid.NewString()
	start := time.Now()
	res := s.pipeline.Dispatch(ctx, msg)
	s.processed.Add(1)

	if res.Reply != nil {
		if err := s.channel.Send(ctx, msg.ChatID, res.Reply); err != nil {
			s.sendFailures.Add(1)
			s.logger.Warn("failed to send reply", "chat_id", msg.ChatID, "msg_id", msg.ID, "error", err)
		}
	}

	attrs := []any{
		"dispatch_id", dispatchID,
		"chat_id", res.Identity.ID,
		"msg_id", msg.ID,
		"state_before", res.StateBefore.String(),
		"state_after", res.StateAfter.String(),
		"outcome", res.Outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	}
	s.logger.Info("update dispatched", attrs...)

	if s.recorder == nil {
		return
	}
	entry := store.DispatchEntry{
		DispatchID:  dispatchID,
		Channel:     res.Identity.Channel,
		ChatID:      res.Identity.ID,
		MsgID:       msg.ID,
		StateBefore: res.StateBefore.String(),
		StateAfter:  res.StateAfter.String(),
		Outcome:     res.Outcome,
		CreatedAt:   start,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if err := s.recorder.RecordDispatch(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to record dispatch", "dispatch_id", dispatchID, "error", err)
	}
}

// fault logs a connect or poll failure. A rejected token is logged at ERROR
// but retried like any other fault.
func (s *Supervisor) fault(ctx context.Context, stage string, err error) {
	s.faults.Add(1)
	s.errMu.Lock()
	s.lastError = err.Error()
	s.lastErrorAt = time.Now()
	s.errMu.Unlock()

	level := slog.LevelWarn
	if errors.Is(err, channels.ErrUnauthorized) {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "channel fault, reconnecting",
		"stage", stage,
		"retry_in", s.cfg.Backoff,
		"error", err,
	)
}

// wait sleeps for the backoff. It returns false if ctx ended first.
func (s *Supervisor) wait(ctx context.Context) bool {
	t := time.NewTimer(s.cfg.Backoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
