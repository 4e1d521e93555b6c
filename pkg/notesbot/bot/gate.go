package bot

import (
	"context"
	"log/slog"

	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
	"github.com/jholhewres/notesbot/pkg/notesbot/notesapi"
)

// LinkChecker reports whether a chat identity is linked to an account.
type LinkChecker interface {
	IsLinked(ctx context.Context, s notesapi.Subject) (bool, error)
}

// Gate lets an update through only when its identity is linked or the
// session is already in the linking conversation. Linked status is asked
// for on every update and never cached.
type Gate struct {
	checker LinkChecker
	logger  *slog.Logger
}

// NewGate creates the identity gate.
func NewGate(checker LinkChecker, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{checker: checker, logger: logger.With("component", "gate")}
}

// Process implements Stage.
func (g *Gate) Process(ctx context.Context, req *Request) (*channels.OutgoingMessage, bool) {
	if req.Session.State() == StateAwaitingEmail {
		return nil, true
	}

	linked, err := g.checker.IsLinked(ctx, req.Identity.Subject())
	if err != nil {
		g.logger.Warn("link check failed",
			"channel", req.Identity.Channel,
			"chat_id", req.Identity.ID,
			"kind", notesapi.KindOf(err).String(),
			"error", err,
		)
		req.fail(OutcomeGateError, err)
		return tryAgainReply(), false
	}
	if linked {
		return nil, true
	}

	req.Session.begin(StateAwaitingEmail)
	req.Outcome = OutcomeGated
	return replyWith(textLinkRequired, linkButton()), false
}
