package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/arbadacarbaYK/tides/internal/crypto"
	"github.com/arbadacarbaYK/tides/internal/ops"
)

// liveLookback keeps a small overlap with the last backfill so a
// message published between fetch and subscribe is not lost.
const liveLookback = time.Minute

// Handler receives each new message from a watched conversation.
type Handler func(conversation string, msg *crypto.Decrypted)

// Router maintains one standing subscription per watched conversation
// and feeds arriving events through decryption into the conversation
// set. Watching a conversation again replaces its subscription; relays
// drop clients that stack filters on one connection.
type Router struct {
	service *Service
	log     *ops.Logger

	mu      sync.Mutex
	subs    map[string]context.CancelFunc
	handler Handler
}

// NewRouter creates a router on top of the messaging service.
func NewRouter(service *Service, log *ops.Logger) *Router {
	return &Router{
		service: service,
		log:     log.WithComponent("router"),
		subs:    make(map[string]context.CancelFunc),
	}
}

// SetHandler registers the callback for newly routed messages. Must be
// called before the first Watch.
func (r *Router) SetHandler(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

// Watch opens a standing subscription for a direct conversation.
func (r *Router) Watch(ctx context.Context, peer string) error {
	if r.service.cipher == nil {
		return ErrNotAuthenticated
	}

	relays := r.service.conversationRelays(ctx, peer, true)
	if len(relays) == 0 {
		return ErrNoRelays
	}

	since := time.Now().Add(-liveLookback)
	filters := r.service.filters.BuildLiveDMFilters(r.service.self, peer, since)
	r.start(ctx, peer, relays, filters)
	return nil
}

// WatchGroup opens a standing subscription for a public channel.
func (r *Router) WatchGroup(ctx context.Context, channelID string) error {
	relays := r.service.conversationRelays(ctx, r.service.self, true)
	if len(relays) == 0 {
		return ErrNoRelays
	}

	since := time.Now().Add(-liveLookback)
	filter := r.service.filters.BuildGroupFilter(channelID, since, time.Time{})
	r.start(ctx, channelID, relays, nostr.Filters{filter})
	return nil
}

// Unwatch closes the subscription for a conversation, if any.
func (r *Router) Unwatch(conversation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.subs[conversation]; ok {
		cancel()
		delete(r.subs, conversation)
	}
}

// Close tears down every subscription.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conversation, cancel := range r.subs {
		cancel()
		delete(r.subs, conversation)
	}
}

// start replaces any existing subscription for the conversation and
// launches the routing loop.
func (r *Router) start(ctx context.Context, conversation string, relays []string, filters nostr.Filters) {
	subCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if prev, ok := r.subs[conversation]; ok {
		prev()
	}
	r.subs[conversation] = cancel
	r.mu.Unlock()

	events := r.service.client.SubscribeEvents(subCtx, relays, filters)
	r.log.Info("subscription opened", "conversation", conversation, "relays", len(relays))
	go r.run(subCtx, conversation, events)
}

func (r *Router) run(ctx context.Context, conversation string, events <-chan *nostr.Event) {
	for event := range events {
		if !validShape(event) {
			r.log.Debug("dropped malformed event", "id", event.ID, "kind", event.Kind)
			continue
		}

		for _, msg := range r.service.ingest(ctx, []*nostr.Event{event}) {
			handler := r.currentHandler()
			if handler == nil {
				continue
			}
			// A wrap or misdirected relay match may decrypt into a
			// different thread; it is merged above but only messages
			// for the watched conversation reach the callback.
			if msg.Peer == conversation {
				handler(conversation, msg)
			}
		}
	}
	r.log.Debug("subscription closed", "conversation", conversation)
}

func (r *Router) currentHandler() Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler
}

// validShape rejects events a subscription should never have matched:
// wrong kinds, missing content, or DM kinds without an addressee.
func validShape(event *nostr.Event) bool {
	if event == nil || event.ID == "" || event.Content == "" {
		return false
	}
	switch event.Kind {
	case crypto.KindLegacyDM, crypto.KindChatMessage, crypto.KindGiftWrap:
		return event.Tags.GetFirst([]string{"p"}) != nil
	case crypto.KindChannelMessage:
		return event.Tags.GetFirst([]string{"e"}) != nil
	default:
		return false
	}
}
