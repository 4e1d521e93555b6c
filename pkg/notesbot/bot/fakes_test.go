package bot

import (
	"context"
	"sync"

	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
	"github.com/jholhewres/notesbot/pkg/notesbot/notesapi"
)

// fakeAPI records every remote call and returns canned results.
type fakeAPI struct {
	mu sync.Mutex

	linked   map[string]bool
	linkErr  error
	checkErr error

	createErr error
	searchErr error
	listErr   error
	deleteErr error
	updateErr error

	notes []notesapi.Note

	isLinkedCalls int
	linkCalls     []string
	created       []notesapi.NoteInput
	searches      []string
	updated       map[int64]notesapi.NoteUpdate
	deleted       []int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{linked: map[string]bool{}, updated: map[int64]notesapi.NoteUpdate{}}
}

func (f *fakeAPI) link(id Identity) {
	f.mu.Lock()
	f.linked[id.Channel+":"+id.ID] = true
	f.mu.Unlock()
}

func (f *fakeAPI) IsLinked(_ context.Context, s notesapi.Subject) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isLinkedCalls++
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return f.linked[s.Channel+":"+s.ID], nil
}

func (f *fakeAPI) LinkAccount(_ context.Context, s notesapi.Subject, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkCalls = append(f.linkCalls, email)
	if f.linkErr != nil {
		return f.linkErr
	}
	f.linked[s.Channel+":"+s.ID] = true
	return nil
}

func (f *fakeAPI) CreateNote(_ context.Context, _ notesapi.Subject, in notesapi.NoteInput) (*notesapi.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &notesapi.Note{ID: int64(len(f.created)), Title: in.Title, Content: in.Content, Tags: in.Tags}, nil
}

func (f *fakeAPI) UpdateNote(_ context.Context, _ notesapi.Subject, id int64, fields notesapi.NoteUpdate) (*notesapi.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[id] = fields
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &notesapi.Note{ID: id, Tags: fields.Tags}, nil
}

func (f *fakeAPI) ListNotes(_ context.Context, _ notesapi.Subject) ([]notesapi.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.notes, nil
}

func (f *fakeAPI) SearchByTag(_ context.Context, _ notesapi.Subject, tag string) ([]notesapi.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, tag)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []notesapi.Note
	for _, n := range f.notes {
		for _, t := range n.Tags {
			if t == tag {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeAPI) DeleteNote(_ context.Context, _ notesapi.Subject, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

// newTestPipeline wires a store, gate and engine around api.
func newTestPipeline(api *fakeAPI) *Pipeline {
	store := NewSessionStore(0, nil)
	return NewPipeline(store, NewEngine(api, nil), nil, NewGate(api, nil))
}

func text(from, content string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		Channel: "telegram", From: from, ChatID: from,
		Type: channels.MessageText, Content: content,
	}
}

func button(from, data string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		Channel: "telegram", From: from, ChatID: from,
		Type: channels.MessageCallback, CallbackData: data,
	}
}
