package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/nbd-wtf/go-nostr"
)

// EventCache is the process-local event store. It holds events for the
// lifetime of the process only; reconnection and refetch re-derive anything
// lost on restart. Saves are idempotent by event id.
type EventCache struct {
	store *slicestore.SliceStore
}

// NewEventCache creates an initialized in-memory event cache
func NewEventCache() (*EventCache, error) {
	s := &slicestore.SliceStore{}
	if err := s.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize event cache: %w", err)
	}
	return &EventCache{store: s}, nil
}

// Save stores an event; saving the same event id twice is a no-op
func (c *EventCache) Save(ctx context.Context, event *nostr.Event) error {
	err := c.store.SaveEvent(ctx, event)
	if err != nil && !errors.Is(err, eventstore.ErrDupEvent) {
		return fmt.Errorf("failed to cache event: %w", err)
	}
	return nil
}

// Has reports whether an event id is already cached
func (c *EventCache) Has(ctx context.Context, eventID string) bool {
	events, err := c.Query(ctx, nostr.Filter{IDs: []string{eventID}, Limit: 1})
	if err != nil {
		return false
	}
	return len(events) > 0
}

// Query returns cached events matching the filter, oldest first
func (c *EventCache) Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	ch, err := c.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query event cache: %w", err)
	}

	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt < events[j].CreatedAt
	})
	return events, nil
}

// Store exposes the cache as an eventstore.Store, for negentropy reconciliation
func (c *EventCache) Store() eventstore.Store {
	return c.store
}

// Close releases the cache
func (c *EventCache) Close() {
	c.store.Close()
}
