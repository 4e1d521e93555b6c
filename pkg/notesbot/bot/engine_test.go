package bot

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
	"github.com/jholhewres/notesbot/pkg/notesbot/notesapi"
)

var alice = Identity{Channel: "telegram", ID: "100"}

func linkedPipeline(t *testing.T) (*Pipeline, *fakeAPI) {
	t.Helper()
	api := newFakeAPI()
	api.link(alice)
	return newTestPipeline(api), api
}

// send dispatches msgs in order and returns the last result.
func send(t *testing.T, p *Pipeline, msgs ...*channels.IncomingMessage) Result {
	t.Helper()
	var res Result
	for _, m := range msgs {
		res = p.Dispatch(context.Background(), m)
		if res.Reply == nil {
			t.Fatalf("no reply for %+v", m)
		}
	}
	return res
}

func TestCreateNoteConversation(t *testing.T) {
	t.Parallel()

	p, api := linkedPipeline(t)
	res := send(t, p,
		text("100", "/new"),
		text("100", "Groceries"),
		text("100", "milk, eggs"),
		text("100", "home, shopping"),
	)

	if len(api.created) != 1 {
		t.Fatalf("CreateNote called %d times, want 1", len(api.created))
	}
	want := notesapi.NoteInput{Title: "Groceries", Content: "milk, eggs", Tags: []string{"home", "shopping"}}
	if !reflect.DeepEqual(api.created[0], want) {
		t.Errorf("created = %+v, want %+v", api.created[0], want)
	}
	if res.Reply.Content != textNoteSaved {
		t.Errorf("reply = %q", res.Reply.Content)
	}

	sess := p.Store().Get(alice)
	if sess.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", sess.State())
	}
	if sess.Draft() != (Draft{}) {
		t.Errorf("draft not cleared: %+v", sess.Draft())
	}
}

func TestCreateNote_ViaButton(t *testing.T) {
	t.Parallel()

	p, _ := linkedPipeline(t)
	res := send(t, p, button("100", ButtonAddNote))
	if res.StateAfter != StateComposingTitle {
		t.Errorf("state = %s, want COMPOSING_TITLE", res.StateAfter)
	}
	if res.Reply.Content != textAskTitle {
		t.Errorf("reply = %q", res.Reply.Content)
	}
}

func TestInvalidTagsRetryInPlace(t *testing.T) {
	t.Parallel()

	p, api := linkedPipeline(t)
	res := send(t, p,
		text("100", "/new"),
		text("100", "Title"),
		text("100", "Body"),
		text("100", "home,123abc!"),
	)

	if len(api.created) != 0 {
		t.Errorf("CreateNote must not be called, got %d calls", len(api.created))
	}
	if res.StateAfter != StateComposingTags {
		t.Errorf("state = %s, want COMPOSING_TAGS", res.StateAfter)
	}
	if res.Outcome != OutcomeInvalid {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if d := p.Store().Get(alice).Draft(); d.Title != "Title" || d.Content != "Body" {
		t.Errorf("draft lost: %+v", d)
	}

	// A valid retry completes with the retained draft.
	send(t, p, text("100", "home"))
	if len(api.created) != 1 || api.created[0].Title != "Title" {
		t.Errorf("unexpected creates %+v", api.created)
	}
}

func TestCreateNoteFailure_ResetsToIdle(t *testing.T) {
	t.Parallel()

	p, api := linkedPipeline(t)
	api.createErr = &notesapi.Error{Op: "create_note", Kind: notesapi.KindTransport, Err: errors.New("refused")}

	res := send(t, p, text("100", "/new"), text("100", "T"), text("100", "C"), text("100", "a"))
	if res.Reply.Content != textNoteFailed {
		t.Errorf("reply = %q", res.Reply.Content)
	}
	if res.StateAfter != StateIdle || res.Outcome != OutcomeRemoteErr {
		t.Errorf("state = %s outcome = %s", res.StateAfter, res.Outcome)
	}
	if len(api.created) != 1 {
		t.Errorf("expected a single attempt, got %d", len(api.created))
	}
}

func TestCancelClearsDraft(t *testing.T) {
	t.Parallel()

	p, api := linkedPipeline(t)
	send(t, p, text("100", "/new"), text("100", "Stale title"))
	res := send(t, p, button("100", ButtonCancel))
	if res.StateAfter != StateIdle {
		t.Errorf("state = %s, want IDLE", res.StateAfter)
	}

	send(t, p, text("100", "/new"))
	if d := p.Store().Get(alice).Draft(); d != (Draft{}) {
		t.Errorf("new conversation started with stale draft %+v", d)
	}
	send(t, p, text("100", "Fresh"), text("100", "Body"), text("100", "x"))
	if api.created[0].Title != "Fresh" {
		t.Errorf("title = %q", api.created[0].Title)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		notes     []notesapi.Note
		searchErr error
		wantText  string
	}{
		{
			name:     "no results",
			wantText: textNoNotesWithTag,
		},
		{
			name:     "results",
			notes:    []notesapi.Note{{ID: 3, Title: "Plan", Content: "Q3", Tags: notesapi.TagList{"work"}}},
			wantText: "#3 Plan",
		},
		{
			name:      "failure is distinct from empty",
			searchErr: &notesapi.Error{Op: "search_by_tag", Kind: notesapi.KindBusiness, Status: 500},
			wantText:  textSearchFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, api := linkedPipeline(t)
			api.notes = tt.notes
			api.searchErr = tt.searchErr

			res := send(t, p, text("100", "/search"))
			if res.StateAfter != StateAwaitingTagQuery {
				t.Fatalf("state = %s", res.StateAfter)
			}
			res = send(t, p, text("100", "work"))
			if !strings.Contains(res.Reply.Content, tt.wantText) {
				t.Errorf("reply %q does not contain %q", res.Reply.Content, tt.wantText)
			}
			if res.StateAfter != StateIdle {
				t.Errorf("state = %s, want IDLE", res.StateAfter)
			}
			if len(api.searches) != 1 || api.searches[0] != "work" {
				t.Errorf("searches = %v", api.searches)
			}
		})
	}
}

func TestShowNotes(t *testing.T) {
	t.Parallel()

	p, api := linkedPipeline(t)
	res := send(t, p, button("100", ButtonShowMyNotes))
	if res.Reply.Content != textNoNotes || res.StateAfter != StateIdle {
		t.Errorf("empty list: reply %q state %s", res.Reply.Content, res.StateAfter)
	}

	api.notes = []notesapi.Note{{ID: 1, Title: "A", Content: "a"}, {ID: 2, Title: "B", Content: "b", Tags: notesapi.TagList{"x", "y"}}}
	res = send(t, p, text("100", "/notes"))
	for _, want := range []string{"Your notes:", "#1 A", "#2 B", "Tags: x, y"} {
		if !strings.Contains(res.Reply.Content, want) {
			t.Errorf("reply missing %q:\n%s", want, res.Reply.Content)
		}
	}

	api.listErr = errors.New("down")
	res = send(t, p, text("100", "/notes"))
	if res.Reply.Content != textListFailed || res.StateAfter != StateIdle {
		t.Errorf("failure: reply %q state %s", res.Reply.Content, res.StateAfter)
	}
}

func TestLinkingConversation(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	p := newTestPipeline(api)

	// An unlinked user is redirected whatever they ask for.
	res := send(t, p, text("100", "/new"))
	if res.Outcome != OutcomeGated || res.StateAfter != StateAwaitingEmail {
		t.Fatalf("outcome = %s state = %s", res.Outcome, res.StateAfter)
	}
	if len(res.Reply.Buttons) != 1 || res.Reply.Buttons[0][0].Data != ButtonLinkAccounts {
		t.Errorf("linking prompt should offer the link button: %+v", res.Reply.Buttons)
	}

	// Invalid email: stays, zero remote link calls.
	for _, bad := range []string{"not-an-email", "a@b", "Alice <a@b.com>"} {
		res = send(t, p, text("100", bad))
		if res.StateAfter != StateAwaitingEmail {
			t.Errorf("%q: state = %s", bad, res.StateAfter)
		}
	}
	if len(api.linkCalls) != 0 {
		t.Errorf("LinkAccount called %d times for invalid emails", len(api.linkCalls))
	}

	// Remote failure: stays in AWAITING_EMAIL.
	api.linkErr = &notesapi.Error{Op: "link_account", Kind: notesapi.KindBusiness, Status: 404}
	res = send(t, p, text("100", "alice@example.com"))
	if res.Reply.Content != textLinkFailed || res.StateAfter != StateAwaitingEmail {
		t.Errorf("failure: reply %q state %s", res.Reply.Content, res.StateAfter)
	}

	api.linkErr = nil
	res = send(t, p, text("100", "alice@example.com"))
	if res.Reply.Content != textLinked || res.StateAfter != StateIdle {
		t.Errorf("success: reply %q state %s", res.Reply.Content, res.StateAfter)
	}
	if len(res.Reply.Buttons) == 0 {
		t.Error("success reply should carry the main menu")
	}

	// Now linked: commands reach the engine.
	res = send(t, p, text("100", "/new"))
	if res.StateAfter != StateComposingTitle {
		t.Errorf("state after linking = %s", res.StateAfter)
	}
}

func TestClarificationKeepsState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup []*channels.IncomingMessage
		input *channels.IncomingMessage
		want  State
	}{
		{"free text in idle", nil, text("100", "hello"), StateIdle},
		{"unknown command in idle", nil, text("100", "/frobnicate"), StateIdle},
		{"command while composing title", []*channels.IncomingMessage{text("100", "/new")}, text("100", "/search"), StateComposingTitle},
		{"button while composing tags", []*channels.IncomingMessage{text("100", "/new"), text("100", "t"), text("100", "c")}, button("100", ButtonAddNote), StateComposingTags},
		{"blank text while awaiting tag", []*channels.IncomingMessage{text("100", "/search")}, text("100", "   "), StateAwaitingTagQuery},
		{"media while composing content", []*channels.IncomingMessage{text("100", "/new"), text("100", "t")}, &channels.IncomingMessage{Channel: "telegram", From: "100", ChatID: "100", Type: channels.MessageUnsupported}, StateComposingContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, api := linkedPipeline(t)
			send(t, p, tt.setup...)
			before := p.Store().Get(alice)
			var draftBefore Draft
			if before != nil {
				draftBefore = before.Draft()
			}

			res := send(t, p, tt.input)
			if res.StateAfter != tt.want {
				t.Errorf("state = %s, want %s", res.StateAfter, tt.want)
			}
			if res.Outcome != OutcomeClarify {
				t.Errorf("outcome = %s, want clarify", res.Outcome)
			}
			if d := p.Store().Get(alice).Draft(); d != draftBefore {
				t.Errorf("draft changed from %+v to %+v", draftBefore, d)
			}
			if len(api.created)+len(api.searches) != 0 {
				t.Error("clarification must not call the notes API")
			}
		})
	}
}

func TestDeleteAndRetag(t *testing.T) {
	t.Parallel()

	p, api := linkedPipeline(t)

	res := send(t, p, text("100", "/delete 7"))
	if !strings.Contains(res.Reply.Content, "#7 deleted") || len(api.deleted) != 1 || api.deleted[0] != 7 {
		t.Errorf("delete: reply %q deleted %v", res.Reply.Content, api.deleted)
	}

	res = send(t, p, text("100", "/delete seven"))
	if res.Reply.Content != textDeleteUsage || len(api.deleted) != 1 {
		t.Errorf("bad id: reply %q", res.Reply.Content)
	}

	res = send(t, p, text("100", "/retag 7 work, urgent"))
	if got := api.updated[7].Tags; !reflect.DeepEqual(got, []string{"work", "urgent"}) {
		t.Errorf("retag tags = %v", got)
	}
	if res.StateAfter != StateIdle {
		t.Errorf("state = %s", res.StateAfter)
	}

	res = send(t, p, text("100", "/retag 8 bad-tag"))
	if res.Reply.Content != textInvalidTags {
		t.Errorf("invalid tags reply = %q", res.Reply.Content)
	}
	if _, ok := api.updated[8]; ok {
		t.Error("UpdateNote must not be called with invalid tags")
	}

	res = send(t, p, text("100", "/retag 8"))
	if res.Reply.Content != textRetagUsage {
		t.Errorf("missing tags reply = %q", res.Reply.Content)
	}
}

func TestParseTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"home, shopping", []string{"home", "shopping"}, false},
		{"  a ,b,  c  ", []string{"a", "b", "c"}, false},
		{"заметки, 2024", []string{"заметки", "2024"}, false},
		{"dup, dup, x", []string{"dup", "x"}, false},
		{"home,123abc!", nil, true},
		{"a,,b", nil, true},
		{"", nil, true},
		{"two words", nil, true},
		{"snake_case", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTags(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTags) {
					t.Errorf("expected ErrInvalidTags, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *channels.IncomingMessage
		want Input
	}{
		{"text", text("1", "  hello  "), Input{Kind: InputText, Text: "hello"}},
		{"blank", text("1", " "), Input{Kind: InputEmpty}},
		{"command with bot suffix", text("1", "/Retag@NotesBot 5 a,b"), Input{Kind: InputCommand, Command: "retag", Args: "5 a,b", Text: "/Retag@NotesBot 5 a,b"}},
		{"cancel command", text("1", "/cancel"), Input{Kind: InputCancel, Command: CmdCancel, Text: "/cancel"}},
		{"unknown typed command", text("1", "/etc notes"), Input{Kind: InputCommand, Command: "etc", Args: "notes", Text: "/etc notes"}},
		{"cancel button", button("1", ButtonCancel), Input{Kind: InputCancel, Command: CmdCancel}},
		{"mapped button", button("1", ButtonSearchByTag), Input{Kind: InputCommand, Command: CmdSearch}},
		{"unknown button", button("1", "mystery"), Input{Kind: InputCommand, Command: "mystery"}},
		{"lone slash", text("1", "/"), Input{Kind: InputText, Text: "/"}},
		{"unsupported", &channels.IncomingMessage{Type: channels.MessageUnsupported}, Input{Kind: InputEmpty}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.msg); got != tt.want {
				t.Errorf("Classify = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInputAsText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *channels.IncomingMessage
		want string
		ok   bool
	}{
		{"free text", text("1", "hello"), "hello", true},
		{"unknown typed command", text("1", "/etc notes"), "/etc notes", true},
		{"known command", text("1", "/search"), "", false},
		{"known command with suffix", text("1", "/new@NotesBot"), "", false},
		{"button", button("1", ButtonAddNote), "", false},
		{"unknown button", button("1", "mystery"), "", false},
		{"blank", text("1", "  "), "", false},
	}
	for _, tt := range tests {
		got, ok := Classify(tt.msg).AsText()
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: AsText = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCreateNote_SlashLeadingText(t *testing.T) {
	t.Parallel()

	p, api := linkedPipeline(t)
	send(t, p,
		text("100", "/new"),
		text("100", "/etc notes"),
		text("100", "/home is on tmpfs"),
		text("100", "linux"),
	)

	if len(api.created) != 1 {
		t.Fatalf("CreateNote called %d times, want 1", len(api.created))
	}
	want := notesapi.NoteInput{Title: "/etc notes", Content: "/home is on tmpfs", Tags: []string{"linux"}}
	if !reflect.DeepEqual(api.created[0], want) {
		t.Errorf("created = %+v, want %+v", api.created[0], want)
	}
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"a@b.co", "first.last+tag@example.org"} {
		if _, err := validateEmail(ok); err != nil {
			t.Errorf("%q rejected: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "plain", "a@b", "a@.com", "a@b.", "Name <a@b.com>", "a b@c.com"} {
		if _, err := validateEmail(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	if StateComposingTags.String() != "COMPOSING_TAGS" || StateIdle.String() != "IDLE" {
		t.Error("unexpected state names")
	}
	if State(99).String() != "UNKNOWN" {
		t.Error("out of range state should be UNKNOWN")
	}
}
