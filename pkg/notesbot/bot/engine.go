package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"unicode"

	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
	"github.com/jholhewres/notesbot/pkg/notesbot/notesapi"
)

// NotesAPI is the subset of the remote API the engine calls.
type NotesAPI interface {
	LinkAccount(ctx context.Context, s notesapi.Subject, email string) error
	CreateNote(ctx context.Context, s notesapi.Subject, in notesapi.NoteInput) (*notesapi.Note, error)
	UpdateNote(ctx context.Context, s notesapi.Subject, noteID int64, fields notesapi.NoteUpdate) (*notesapi.Note, error)
	ListNotes(ctx context.Context, s notesapi.Subject) ([]notesapi.Note, error)
	SearchByTag(ctx context.Context, s notesapi.Subject, tag string) ([]notesapi.Note, error)
	DeleteNote(ctx context.Context, s notesapi.Subject, noteID int64) error
}

// Engine is the conversation state machine. Every (state, input) pair has
// an outcome; input the current state cannot use gets a clarification and
// leaves the session untouched.
type Engine struct {
	api    NotesAPI
	logger *slog.Logger
}

// NewEngine creates the conversation engine.
func NewEngine(api NotesAPI, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{api: api, logger: logger.With("component", "engine")}
}

// Handle implements Handler.
func (e *Engine) Handle(ctx context.Context, req *Request) *channels.OutgoingMessage {
	if req.Input.Kind == InputCancel {
		req.Session.Reset()
		return replyWith(textCancelled, mainMenu())
	}

	switch state := req.Session.State(); state {
	case StateIdle:
		return e.idle(ctx, req)
	case StateAwaitingEmail:
		return e.awaitingEmail(ctx, req)
	case StateComposingTitle:
		return e.collect(req, func(text string) *channels.OutgoingMessage {
			req.Session.advance(StateComposingContent, func(d *Draft) { d.Title = text })
			return replyWith(textAskContent, cancelButton())
		})
	case StateComposingContent:
		return e.collect(req, func(text string) *channels.OutgoingMessage {
			req.Session.advance(StateComposingTags, func(d *Draft) { d.Content = text })
			return replyWith(textAskTags, cancelButton())
		})
	case StateComposingTags:
		return e.collect(req, func(text string) *channels.OutgoingMessage {
			return e.saveNote(ctx, req, text)
		})
	case StateAwaitingTagQuery:
		return e.collect(req, func(text string) *channels.OutgoingMessage {
			return e.search(ctx, req, text)
		})
	default:
		e.logger.Error("session in unknown state, resetting", "state", int(state), "identity", req.Identity.String())
		req.Session.Reset()
		return replyWith(textChooseAction, mainMenu())
	}
}

// collect runs next for typed text and asks again for anything else.
func (e *Engine) collect(req *Request, next func(text string) *channels.OutgoingMessage) *channels.OutgoingMessage {
	text, ok := req.Input.AsText()
	if !ok {
		req.Outcome = OutcomeClarify
		return replyWith(expectation(req.Session.State()), cancelButton())
	}
	return next(text)
}

func (e *Engine) idle(ctx context.Context, req *Request) *channels.OutgoingMessage {
	if req.Input.Kind != InputCommand {
		req.Outcome = OutcomeClarify
		return replyWith(textChooseAction, mainMenu())
	}

	switch req.Input.Command {
	case CmdStart, CmdHelp:
		return replyWith(greeting(req.FromName), mainMenu())
	case CmdNew:
		req.Session.begin(StateComposingTitle)
		return replyWith(textAskTitle, cancelButton())
	case CmdSearch:
		req.Session.begin(StateAwaitingTagQuery)
		return replyWith(textAskTag, cancelButton())
	case CmdLink:
		req.Session.begin(StateAwaitingEmail)
		return replyWith(textAskEmail, cancelButton())
	case CmdNotes:
		return e.listNotes(ctx, req)
	case CmdDelete:
		return e.deleteNote(ctx, req)
	case CmdRetag:
		return e.retag(ctx, req)
	default:
		req.Outcome = OutcomeClarify
		return replyWith(fmt.Sprintf("Unknown command %q.\n\n%s", req.Input.Command, helpText), mainMenu())
	}
}

func (e *Engine) awaitingEmail(ctx context.Context, req *Request) *channels.OutgoingMessage {
	if req.Input.Kind == InputCommand && req.Input.Command == CmdLink {
		return replyWith(textAskEmail, cancelButton())
	}
	return e.collect(req, func(text string) *channels.OutgoingMessage {
		email, err := validateEmail(text)
		if err != nil {
			req.fail(OutcomeInvalid, err)
			return reply(textInvalidEmail)
		}
		if err := e.api.LinkAccount(ctx, req.Identity.Subject(), email); err != nil {
			e.remoteFailure(req, "link account", err)
			return reply(textLinkFailed)
		}
		req.Session.Reset()
		e.logger.Info("account linked", "identity", req.Identity.String())
		return replyWith(textLinked, mainMenu())
	})
}

func (e *Engine) saveNote(ctx context.Context, req *Request, text string) *channels.OutgoingMessage {
	tags, err := ParseTags(text)
	if err != nil {
		req.fail(OutcomeInvalid, err)
		return replyWith(textInvalidTags, cancelButton())
	}

	draft := req.Session.takeDraft()
	_, err = e.api.CreateNote(ctx, req.Identity.Subject(), notesapi.NoteInput{
		Title:   draft.Title,
		Content: draft.Content,
		Tags:    tags,
	})
	if err != nil {
		e.remoteFailure(req, "create note", err)
		return replyWith(textNoteFailed, mainMenu())
	}
	return replyWith(textNoteSaved, mainMenu())
}

func (e *Engine) search(ctx context.Context, req *Request, tag string) *channels.OutgoingMessage {
	req.Session.Reset()

	notes, err := e.api.SearchByTag(ctx, req.Identity.Subject(), tag)
	if err != nil {
		e.remoteFailure(req, "search", err)
		return replyWith(textSearchFailed, mainMenu())
	}
	if len(notes) == 0 {
		return replyWith(textNoNotesWithTag, mainMenu())
	}
	return replyWith(formatNotes("Notes found:", notes), mainMenu())
}

func (e *Engine) listNotes(ctx context.Context, req *Request) *channels.OutgoingMessage {
	notes, err := e.api.ListNotes(ctx, req.Identity.Subject())
	if err != nil {
		e.remoteFailure(req, "list notes", err)
		return replyWith(textListFailed, mainMenu())
	}
	if len(notes) == 0 {
		return replyWith(textNoNotes, mainMenu())
	}
	return replyWith(formatNotes("Your notes:", notes), mainMenu())
}

func (e *Engine) deleteNote(ctx context.Context, req *Request) *channels.OutgoingMessage {
	id, err := parseNoteID(req.Input.Args)
	if err != nil {
		req.fail(OutcomeInvalid, err)
		return reply(textDeleteUsage)
	}
	if err := e.api.DeleteNote(ctx, req.Identity.Subject(), id); err != nil {
		e.remoteFailure(req, "delete note", err)
		return reply(fmt.Sprintf("Could not delete note #%d.", id))
	}
	return reply(fmt.Sprintf("Note #%d deleted.", id))
}

func (e *Engine) retag(ctx context.Context, req *Request) *channels.OutgoingMessage {
	rawID, rawTags, _ := strings.Cut(req.Input.Args, " ")
	id, err := parseNoteID(rawID)
	if err == nil && strings.TrimSpace(rawTags) == "" {
		err = errors.New("no tags given")
	}
	if err != nil {
		req.fail(OutcomeInvalid, err)
		return reply(textRetagUsage)
	}
	tags, err := ParseTags(rawTags)
	if err != nil {
		req.fail(OutcomeInvalid, err)
		return reply(textInvalidTags)
	}
	if _, err := e.api.UpdateNote(ctx, req.Identity.Subject(), id, notesapi.NoteUpdate{Tags: tags}); err != nil {
		e.remoteFailure(req, "update note", err)
		return reply(fmt.Sprintf("Could not update note #%d.", id))
	}
	return reply(fmt.Sprintf("Tags of note #%d set to: %s", id, strings.Join(tags, ", ")))
}

func (e *Engine) remoteFailure(req *Request, action string, err error) {
	req.fail(OutcomeRemoteErr, err)
	e.logger.Warn("remote call failed",
		"action", action,
		"identity", req.Identity.String(),
		"kind", notesapi.KindOf(err).String(),
		"error", err,
	)
}

// ErrInvalidTags is returned by ParseTags.
var ErrInvalidTags = errors.New("tags must be non-empty and contain only letters and digits")

// ParseTags splits a comma-separated tag list. Every tag must be non-empty
// and made of Unicode letters and digits only. Exact duplicates are dropped.
func ParseTags(text string) ([]string, error) {
	parts := strings.Split(text, ",")
	tags := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		tag := strings.TrimSpace(p)
		if tag == "" || !isAlnum(tag) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTags, tag)
		}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags, nil
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// validateEmail accepts a bare addr-spec with a dotted domain.
func validateEmail(text string) (string, error) {
	addr, err := mail.ParseAddress(text)
	if err != nil {
		return "", fmt.Errorf("invalid email: %w", err)
	}
	if addr.Name != "" || addr.Address != text {
		return "", fmt.Errorf("invalid email %q: expected a bare address", text)
	}
	_, domain, _ := strings.Cut(addr.Address, "@")
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", fmt.Errorf("invalid email %q: domain must contain a dot", text)
	}
	return addr.Address, nil
}

func parseNoteID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("note id: %w", err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("note id must be positive, got %d", id)
	}
	return id, nil
}
