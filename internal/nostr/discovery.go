package nostr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/arbadacarbaYK/tides/internal/config"
	"github.com/arbadacarbaYK/tides/internal/ops"
	"github.com/arbadacarbaYK/tides/internal/store"
)

// eventFetcher is the slice of Client that discovery needs
type eventFetcher interface {
	FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) []*nostr.Event
	DefaultRelays() []string
	ConnectedRelays() []string
}

// Discovery resolves the preferred relay set for a user from their published
// relay-list events, with a best-effort KV cache in front.
type Discovery struct {
	client eventFetcher
	kv     store.KV
	config *config.Discovery
	log    *ops.Logger
}

// NewDiscovery creates a new relay discovery instance
func NewDiscovery(client eventFetcher, kv store.KV, cfg *config.Discovery, log *ops.Logger) *Discovery {
	return &Discovery{
		client: client,
		kv:     kv,
		config: cfg,
		log:    log.WithComponent("discovery"),
	}
}

const relayCacheKeyPrefix = "relays:"

// UserRelays returns the preferred relay addresses for a pubkey. It queries
// the three relay-list kinds in priority order and stops at the first kind
// that yields any relays. Total failure returns an empty list, never an
// error; callers must treat empty as "use defaults".
func (d *Discovery) UserRelays(ctx context.Context, pubkey string) []string {
	if cached := d.cachedRelays(ctx, pubkey); len(cached) > 0 {
		return cached
	}

	searchRelays := d.client.ConnectedRelays()
	if len(searchRelays) == 0 {
		searchRelays = d.client.DefaultRelays()
	}
	if len(searchRelays) == 0 {
		return nil
	}

	for _, kind := range []int{KindDMRelayList, KindRelayList, KindContactList} {
		relays := d.fetchRelayList(ctx, pubkey, kind, searchRelays)
		if len(relays) == 0 {
			continue
		}
		if d.config.MaxRelaysPerUser > 0 && len(relays) > d.config.MaxRelaysPerUser {
			relays = relays[:d.config.MaxRelaysPerUser]
		}
		d.cacheRelays(ctx, pubkey, relays)
		return relays
	}

	d.log.Debug("no relay list found", "pubkey", pubkey)
	return nil
}

// fetchRelayList queries one relay-list kind for a pubkey. Only the newest
// event matters; relay lists are replaceable.
func (d *Discovery) fetchRelayList(ctx context.Context, pubkey string, kind int, searchRelays []string) []string {
	filter := nostr.Filter{
		Kinds:   []int{kind},
		Authors: []string{pubkey},
		Limit:   1,
	}

	events := d.client.FetchEvents(ctx, searchRelays, filter)
	if len(events) == 0 {
		return nil
	}

	newest := events[0]
	for _, event := range events[1:] {
		if event.CreatedAt > newest.CreatedAt {
			newest = event
		}
	}

	relays, err := ParseRelayList(newest)
	if err != nil {
		d.log.Debug("failed to parse relay list", "pubkey", pubkey, "kind", kind, "error", err)
		return nil
	}
	return relays
}

func (d *Discovery) cachedRelays(ctx context.Context, pubkey string) []string {
	value, ok, err := d.kv.Get(ctx, relayCacheKeyPrefix+pubkey)
	if err != nil || !ok {
		return nil
	}

	var relays []string
	if err := json.Unmarshal([]byte(value), &relays); err != nil {
		return nil
	}
	return relays
}

func (d *Discovery) cacheRelays(ctx context.Context, pubkey string, relays []string) {
	data, err := json.Marshal(relays)
	if err != nil {
		return
	}

	ttl := time.Duration(d.config.CacheTTLSeconds) * time.Second
	if err := d.kv.Set(ctx, relayCacheKeyPrefix+pubkey, string(data), ttl); err != nil {
		// Cache misses are never fatal; neither are cache write failures.
		d.log.Debug("failed to cache relay list", "pubkey", pubkey, "error", err)
	}
}
