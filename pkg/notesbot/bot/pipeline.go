package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
)

// Dispatch outcomes recorded per update.
const (
	OutcomeHandled   = "handled"
	OutcomeClarify   = "clarify"
	OutcomeInvalid   = "invalid_input"
	OutcomeRemoteErr = "remote_error"
	OutcomeGated     = "gated"
	OutcomeGateError = "gate_error"
	OutcomePanic     = "panic"
)

// Request is one update travelling through the pipeline. Stages and the
// handler may set Outcome and Err to describe what happened.
type Request struct {
	Identity Identity
	Session  *Session
	Input    Input
	FromName string

	Outcome string
	Err     error
}

func (r *Request) fail(outcome string, err error) {
	r.Outcome = outcome
	r.Err = err
}

// Stage runs before the handler. Returning next=false drops the update and
// sends reply (if non-nil) instead.
type Stage interface {
	Process(ctx context.Context, req *Request) (reply *channels.OutgoingMessage, next bool)
}

// Handler produces the reply for an update that passed every stage.
type Handler interface {
	Handle(ctx context.Context, req *Request) *channels.OutgoingMessage
}

// Result describes one dispatched update.
type Result struct {
	Identity    Identity
	Reply       *channels.OutgoingMessage
	StateBefore State
	StateAfter  State
	Outcome     string
	Err         error
}

// Pipeline resolves the session of an update and runs it through the
// stages and the handler.
type Pipeline struct {
	store   *SessionStore
	stages  []Stage
	handler Handler
	logger  *slog.Logger
}

// NewPipeline composes stages (in order) in front of handler.
func NewPipeline(store *SessionStore, handler Handler, logger *slog.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:   store,
		stages:  stages,
		handler: handler,
		logger:  logger.With("component", "pipeline"),
	}
}

// Store returns the session store the pipeline writes to.
func (p *Pipeline) Store() *SessionStore { return p.store }

// Dispatch processes one update. It never panics: a panic anywhere in the
// stages or handler becomes the generic retry reply.
func (p *Pipeline) Dispatch(ctx context.Context, msg *channels.IncomingMessage) (res Result) {
	id := Identity{Channel: msg.Channel, ID: msg.From}
	sess := p.store.GetOrCreate(id)
	sess.touch()

	req := &Request{
		Identity: id,
		Session:  sess,
		Input:    Classify(msg),
		FromName: msg.FromName,
		Outcome:  OutcomeHandled,
	}
	res.Identity = id
	res.StateBefore = sess.State()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch panicked",
				"channel", id.Channel,
				"chat_id", id.ID,
				"msg_id", msg.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res.Reply = tryAgainReply()
			res.Outcome = OutcomePanic
			res.Err = fmt.Errorf("panic: %v", r)
		}
		res.StateAfter = sess.State()
	}()

	for _, stage := range p.stages {
		reply, next := stage.Process(ctx, req)
		if !next {
			res.Reply, res.Outcome, res.Err = reply, req.Outcome, req.Err
			return res
		}
	}

	res.Reply = p.handler.Handle(ctx, req)
	res.Outcome, res.Err = req.Outcome, req.Err
	return res
}
