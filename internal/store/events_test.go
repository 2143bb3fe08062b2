package store

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func testEvent(id string, createdAt nostr.Timestamp) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    "a1b2",
		Kind:      4,
		CreatedAt: createdAt,
		Content:   "cipher",
		Tags:      nostr.Tags{},
	}
}

func TestEventCacheSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cache, err := NewEventCache()
	if err != nil {
		t.Fatalf("NewEventCache failed: %v", err)
	}
	defer cache.Close()

	event := testEvent("e1", 100)
	if err := cache.Save(ctx, event); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := cache.Save(ctx, event); err != nil {
		t.Fatalf("duplicate Save should be a no-op, got %v", err)
	}

	events, err := cache.Query(ctx, nostr.Filter{IDs: []string{"e1"}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 cached event, got %d", len(events))
	}
}

func TestEventCacheQueryOrdering(t *testing.T) {
	ctx := context.Background()
	cache, err := NewEventCache()
	if err != nil {
		t.Fatalf("NewEventCache failed: %v", err)
	}
	defer cache.Close()

	for _, event := range []*nostr.Event{
		testEvent("e3", 300),
		testEvent("e1", 100),
		testEvent("e2", 200),
	} {
		if err := cache.Save(ctx, event); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	events, err := cache.Query(ctx, nostr.Filter{Kinds: []int{4}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].CreatedAt < events[i-1].CreatedAt {
			t.Errorf("events out of order at %d: %d < %d", i, events[i].CreatedAt, events[i-1].CreatedAt)
		}
	}
}

func TestEventCacheHas(t *testing.T) {
	ctx := context.Background()
	cache, err := NewEventCache()
	if err != nil {
		t.Fatalf("NewEventCache failed: %v", err)
	}
	defer cache.Close()

	if cache.Has(ctx, "e1") {
		t.Error("Has reported unknown event")
	}
	if err := cache.Save(ctx, testEvent("e1", 100)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !cache.Has(ctx, "e1") {
		t.Error("Has missed cached event")
	}
}
