package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSessionStore_OnePerIdentity(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(0, nil)
	var wg sync.WaitGroup
	got := make([]*Session, 50)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = store.GetOrCreate(alice)
		}(i)
	}
	wg.Wait()

	for i, s := range got {
		if s != got[0] {
			t.Fatalf("goroutine %d got a different session", i)
		}
	}
	if store.Count() != 1 {
		t.Errorf("count = %d, want 1", store.Count())
	}
}

func TestSessionStore_ChannelQualifiedIdentity(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(0, nil)
	tg := store.GetOrCreate(Identity{Channel: "telegram", ID: "7"})
	dc := store.GetOrCreate(Identity{Channel: "discord", ID: "7"})
	if tg == dc {
		t.Fatal("identities on different channels must not share a session")
	}
	tg.begin(StateComposingTitle)
	if dc.State() != StateIdle {
		t.Errorf("discord session state = %s", dc.State())
	}
}

func TestSessionStore_ManyUpdatesOneSession(t *testing.T) {
	t.Parallel()

	p, _ := linkedPipeline(t)
	bob := text("200", "/help")
	for i := 0; i < 20; i++ {
		p.Dispatch(context.Background(), text("100", fmt.Sprintf("msg %d", i)))
		p.Dispatch(context.Background(), bob)
	}
	if p.Store().Count() != 2 {
		t.Errorf("count = %d, want 2", p.Store().Count())
	}
}

func TestSessionStore_DeleteAndList(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(0, nil)
	a := store.GetOrCreate(alice)
	a.begin(StateComposingContent)
	a.advance(StateComposingContent, func(d *Draft) { d.Title = "x" })
	store.GetOrCreate(Identity{Channel: "discord", ID: "9"})

	list := store.List()
	if len(list) != 2 {
		t.Fatalf("list len = %d", len(list))
	}
	var found bool
	for _, m := range list {
		if m.Channel == "telegram" && m.ChatID == "100" {
			found = true
			if m.State != "COMPOSING_CONTENT" || !m.HasDraft {
				t.Errorf("unexpected meta %+v", m)
			}
		}
	}
	if !found {
		t.Error("alice missing from list")
	}

	if !store.Delete(alice) {
		t.Error("Delete returned false for an existing session")
	}
	if store.Delete(alice) {
		t.Error("Delete returned true for a missing session")
	}
	if store.Get(alice) != nil {
		t.Error("session still present after Delete")
	}
	if s := store.GetOrCreate(alice); s.State() != StateIdle {
		t.Errorf("recreated session state = %s", s.State())
	}
}

func TestSessionStore_Prune(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(time.Hour, nil)
	old := store.GetOrCreate(alice)
	old.mu.Lock()
	old.lastActiveAt = time.Now().Add(-2 * time.Hour)
	old.mu.Unlock()
	store.GetOrCreate(Identity{Channel: "telegram", ID: "fresh"})

	if n := store.Prune(); n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if store.Get(alice) != nil {
		t.Error("idle session survived pruning")
	}
	if store.Count() != 1 {
		t.Errorf("count = %d, want 1", store.Count())
	}
}

func TestNewPruner(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(0, nil)
	if _, err := NewPruner(store, "not a schedule", nil); err == nil {
		t.Error("expected an error for an invalid schedule")
	}

	p, err := NewPruner(store, "", nil)
	if err != nil {
		t.Fatalf("NewPruner: %v", err)
	}
	if p.schedule != DefaultPruneSchedule {
		t.Errorf("schedule = %q", p.schedule)
	}
	p.Start()
	p.Stop()
}
