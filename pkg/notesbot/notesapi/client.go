// Package notesapi is the HTTP client for the remote notes/identity API.
//
// The client is stateless: every call names the chat identity it acts for,
// applies its own timeout and reports failures as *Error values classified
// by Kind. It never retries; retry policy belongs to the caller.
package notesapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds each remote call.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Config holds remote API configuration.
type Config struct {
	// BaseURL is the API root, e.g. "http://fastapi-app:8000/".
	BaseURL string `yaml:"base_url"`

	// Token is sent as a bearer token when set.
	Token string `yaml:"token"`

	// Timeout bounds each call.
	Timeout time.Duration `yaml:"timeout"`

	// Namespaces maps channel names to the path segment the API uses for
	// that identity space. Channels not listed use their own name.
	Namespaces map[string]string `yaml:"namespaces"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:    DefaultTimeout,
		Namespaces: map[string]string{"telegram": "tg"},
	}
}

// Client calls the remote notes API.
type Client struct {
	cfg    Config
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// New creates a Client. It fails only when BaseURL is not a valid absolute
// URL.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("notesapi: invalid base URL %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return &Client{
		cfg:    cfg,
		base:   base,
		http:   &http.Client{},
		logger: logger.With("component", "notesapi"),
	}, nil
}

// IsLinked reports whether the chat identity is linked to an account.
func (c *Client) IsLinked(ctx context.Context, s Subject) (bool, error) {
	q := url.Values{}
	q.Set(c.identityParam(s), s.ID)

	var raw json.RawMessage
	if err := c.do(ctx, "is_linked", http.MethodGet, "users/auth/exist", q, nil, &raw); err != nil {
		return false, err
	}
	linked, err := parseLinked(raw)
	if err != nil {
		return false, &Error{Op: "is_linked", Kind: KindDecode, Err: err}
	}
	return linked, nil
}

// LinkAccount links the chat identity to the account registered with email.
func (c *Client) LinkAccount(ctx context.Context, s Subject, email string) error {
	body := map[string]any{
		"email":            email,
		c.identityParam(s): identityValue(s.ID),
	}
	return c.do(ctx, "link_account", http.MethodPost, "users/auth/link-accounts", nil, body, nil)
}

// CreateNote creates a note for the linked account.
func (c *Client) CreateNote(ctx context.Context, s Subject, in NoteInput) (*Note, error) {
	if in.Tags == nil {
		in.Tags = []string{}
	}
	var note Note
	if err := c.do(ctx, "create_note", http.MethodPost, c.notesPath(s), nil, in, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// UpdateNote changes the given fields of a note.
func (c *Client) UpdateNote(ctx context.Context, s Subject, noteID int64, fields NoteUpdate) (*Note, error) {
	var note Note
	path := c.notesPath(s) + "/" + strconv.FormatInt(noteID, 10)
	if err := c.do(ctx, "update_note", http.MethodPatch, path, nil, fields, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// ListNotes returns every note of the linked account.
func (c *Client) ListNotes(ctx context.Context, s Subject) ([]Note, error) {
	var notes []Note
	if err := c.do(ctx, "list_notes", http.MethodGet, c.notesPath(s), nil, nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// SearchByTag returns the notes carrying tag. An empty result is not an
// error.
func (c *Client) SearchByTag(ctx context.Context, s Subject, tag string) ([]Note, error) {
	q := url.Values{}
	q.Set("tag_search", tag)
	var notes []Note
	if err := c.do(ctx, "search_by_tag", http.MethodGet, c.notesPath(s)+"/search", q, nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// DeleteNote removes a note.
func (c *Client) DeleteNote(ctx context.Context, s Subject, noteID int64) error {
	path := c.notesPath(s) + "/" + strconv.FormatInt(noteID, 10)
	return c.do(ctx, "delete_note", http.MethodDelete, path, nil, nil, nil)
}

// ---------- Internal ----------

func (c *Client) namespace(channel string) string {
	if ns, ok := c.cfg.Namespaces[channel]; ok && ns != "" {
		return ns
	}
	return channel
}

func (c *Client) identityParam(s Subject) string {
	return s.Channel + "_id"
}

func (c *Client) notesPath(s Subject) string {
	return "notes/" + url.PathEscape(c.namespace(s.Channel)) + "/" + url.PathEscape(s.ID)
}

// identityValue sends numeric platform ids as JSON numbers, which is what
// the API expects for Telegram ids.
func identityValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

// do performs one request. out may be nil when the body is ignored.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u := c.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Kind: KindDecode, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("remote call failed", "op", op, "request_id", requestID, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", c.cfg.Timeout, err)
		}
		return &Error{Op: op, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Status: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	c.logger.Debug("remote call",
		"op", op,
		"request_id", requestID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, Kind: KindBusiness, Status: resp.StatusCode, Message: errorMessage(data)}
	}

	// The API reports caught exceptions as 200 with an error envelope.
	if msg, isErr := errorEnvelope(data); isErr {
		return &Error{Op: op, Kind: KindBusiness, Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, Kind: KindDecode, Status: resp.StatusCode, Err: err}
	}
	return nil
}

// errorEnvelope detects {"status": "error", "message": ...} bodies.
func errorEnvelope(data []byte) (string, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}
	var env struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return "", false
	}
	if env.Status != "error" {
		return "", false
	}
	return env.Message, true
}

// errorMessage extracts a human-readable detail from an error response.
func errorMessage(data []byte) string {
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if s, ok := body.Detail.(string); ok {
			return s
		}
		if body.Detail != nil {
			if b, err := json.Marshal(body.Detail); err == nil {
				return string(b)
			}
		}
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// parseLinked interprets the existence check response: a JSON boolean, a
// user object, {"linked": bool} or null.
func parseLinked(raw json.RawMessage) (bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false, nil
	}
	switch trimmed[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return false, err
		}
		return b, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return false, err
		}
		if v, ok := obj["linked"]; ok {
			var b bool
			if err := json.Unmarshal(v, &b); err != nil {
				return false, err
			}
			return b, nil
		}
		return len(obj) > 0, nil
	default:
		return false, fmt.Errorf("unexpected existence response %.64s", trimmed)
	}
}
