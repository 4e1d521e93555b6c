package notesapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Token = "secret"
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

var tgUser = Subject{Channel: "telegram", ID: "42"}

func TestNew_InvalidBaseURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not a url", "/relative/path"} {
		if _, err := New(Config{BaseURL: raw}, nil); err == nil {
			t.Errorf("New(%q): expected error", raw)
		}
	}
}

func TestIsLinked_ResponseShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want bool
	}{
		{"bool true", `true`, true},
		{"bool false", `false`, false},
		{"null", `null`, false},
		{"empty body", ``, false},
		{"user object", `{"id": 3, "email": "a@b.c"}`, true},
		{"empty object", `{}`, false},
		{"linked flag false", `{"linked": false}`, false},
		{"linked flag true", `{"linked": true}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/users/auth/exist" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("telegram_id"); got != "42" {
					t.Errorf("telegram_id = %q, want 42", got)
				}
				io.WriteString(w, tt.body)
			})
			got, err := c.IsLinked(context.Background(), tgUser)
			if err != nil {
				t.Fatalf("IsLinked: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsLinked = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsLinked_Garbage(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `"maybe"`)
	})
	_, err := c.IsLinked(context.Background(), tgUser)
	if KindOf(err) != KindDecode {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestLinkAccount_Body(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/users/auth/link-accounts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["email"] != "a@b.c" {
			t.Errorf("email = %v", body["email"])
		}
		// Numeric ids travel as JSON numbers.
		if id, ok := body["telegram_id"].(float64); !ok || id != 42 {
			t.Errorf("telegram_id = %#v, want number 42", body["telegram_id"])
		}
		io.WriteString(w, `{"status": "ok"}`)
	})
	if err := c.LinkAccount(context.Background(), tgUser, "a@b.c"); err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}
}

func TestLinkAccount_BusinessErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"not found", http.StatusNotFound, `{"detail": "User not found"}`, "User not found"},
		{"error envelope", http.StatusOK, `{"status": "error", "message": "already linked"}`, "already linked"},
		{"plain text", http.StatusBadRequest, `bad request`, "bad request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			err := c.LinkAccount(context.Background(), tgUser, "a@b.c")
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if apiErr.Kind != KindBusiness {
				t.Errorf("kind = %s, want business", apiErr.Kind)
			}
			if apiErr.Message != tt.message {
				t.Errorf("message = %q, want %q", apiErr.Message, tt.message)
			}
			if apiErr.Op != "link_account" {
				t.Errorf("op = %q", apiErr.Op)
			}
		})
	}
}

func TestCreateNote(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/notes/tg/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		var in NoteInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if in.Title != "Groceries" || len(in.Tags) != 2 {
			t.Errorf("unexpected input %+v", in)
		}
		io.WriteString(w, `{"id": 7, "title": "Groceries", "content": "milk", "tags": [{"name": "home"}, "food"]}`)
	})

	note, err := c.CreateNote(context.Background(), tgUser, NoteInput{
		Title: "Groceries", Content: "milk", Tags: []string{"home", "food"},
	})
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if note.ID != 7 || note.Title != "Groceries" {
		t.Errorf("unexpected note %+v", note)
	}
	if len(note.Tags) != 2 || note.Tags[0] != "home" || note.Tags[1] != "food" {
		t.Errorf("tags = %v", note.Tags)
	}
}

func TestCreateNote_NilTagsSentAsEmptyList(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(data), `"tags":[]`) {
			t.Errorf("expected empty tag list, got %s", data)
		}
		io.WriteString(w, `{"id": 1, "title": "t", "content": "c", "tags": []}`)
	})
	if _, err := c.CreateNote(context.Background(), tgUser, NoteInput{Title: "t", Content: "c"}); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
}

func TestUpdateNote_OnlySetFields(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/notes/tg/42/9" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["title"]; ok {
			t.Error("title should be omitted")
		}
		if _, ok := body["tags"]; !ok {
			t.Error("tags should be present")
		}
		io.WriteString(w, `{"id": 9, "title": "x", "content": "y", "tags": ["a"]}`)
	})
	note, err := c.UpdateNote(context.Background(), tgUser, 9, NoteUpdate{Tags: []string{"a"}})
	if err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	if note.ID != 9 {
		t.Errorf("id = %d", note.ID)
	}
}

func TestSearchByTag(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notes/tg/42/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.URL.Query().Get("tag_search") {
		case "work":
			io.WriteString(w, `[{"id": 1, "title": "a", "content": "b", "tags": ["work"]}]`)
		default:
			io.WriteString(w, `[]`)
		}
	})

	notes, err := c.SearchByTag(context.Background(), tgUser, "work")
	if err != nil {
		t.Fatalf("SearchByTag: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != 1 {
		t.Errorf("unexpected notes %+v", notes)
	}

	notes, err = c.SearchByTag(context.Background(), tgUser, "nothing")
	if err != nil {
		t.Fatalf("empty search should not fail: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("expected no notes, got %d", len(notes))
	}
}

func TestListAndDelete_OtherNamespace(t *testing.T) {
	t.Parallel()

	var deleted bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/notes/discord/99":
			io.WriteString(w, `[{"id": 5, "title": "t", "content": "c", "tags": null}]`)
		case r.Method == http.MethodDelete && r.URL.Path == "/notes/discord/99/5":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	dc := Subject{Channel: "discord", ID: "99"}
	notes, err := c.ListNotes(context.Background(), dc)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 1 || notes[0].Tags != nil {
		t.Errorf("unexpected notes %+v", notes)
	}
	if err := c.DeleteNote(context.Background(), dc, 5); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if !deleted {
		t.Error("delete endpoint not called")
	}
}

func TestDecodeFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `<html>gateway</html>`)
	})
	_, err := c.ListNotes(context.Background(), tgUser)
	if KindOf(err) != KindDecode {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestTransportFailure_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.ListNotes(context.Background(), tgUser)
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in chain, got %v", err)
	}
}

func TestTransportFailure_Refused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.IsLinked(context.Background(), tgUser); !IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}
}
