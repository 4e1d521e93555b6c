package notesapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Subject is the chat identity a call is made on behalf of. The remote API
// resolves the linked account from it.
type Subject struct {
	// Channel is the source channel ("telegram", "discord", "console").
	Channel string

	// ID is the platform user id.
	ID string
}

// Note is a note as returned by the remote API.
type Note struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Tags      TagList   `json:"tags"`
}

// NoteInput is the body of a create call.
type NoteInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// NoteUpdate carries the fields to change; nil fields are left untouched.
type NoteUpdate struct {
	Title   *string  `json:"title,omitempty"`
	Content *string  `json:"content,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// TagList decodes tags sent either as plain strings or as {"name": ...}
// objects.
type TagList []string

// UnmarshalJSON implements json.Unmarshaler.
func (t *TagList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	out := make(TagList, 0, len(raw))
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, name)
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("tags: unsupported element %s", item)
		}
		out = append(out, obj.Name)
	}
	*t = out
	return nil
}
