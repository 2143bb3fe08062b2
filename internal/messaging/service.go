package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"

	"github.com/arbadacarbaYK/tides/internal/config"
	"github.com/arbadacarbaYK/tides/internal/crypto"
	internalnostr "github.com/arbadacarbaYK/tides/internal/nostr"
	"github.com/arbadacarbaYK/tides/internal/ops"
	"github.com/arbadacarbaYK/tides/internal/store"
)

// transport is the relay surface the service needs. *internalnostr.Client
// satisfies it; tests substitute a fake.
type transport interface {
	FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) []*nostr.Event
	Publish(ctx context.Context, url string, event *nostr.Event) error
	SubscribeEvents(ctx context.Context, relays []string, filters nostr.Filters) <-chan *nostr.Event
	ConnectedRelays() []string
	DefaultRelays() []string
}

// relayFinder resolves a user's preferred relays.
type relayFinder interface {
	UserRelays(ctx context.Context, pubkey string) []string
}

// Service coordinates fetching, decrypting and sending conversation
// messages across the owner's and each peer's relays.
type Service struct {
	config    *config.Config
	client    transport
	discovery relayFinder
	cache     *store.EventCache
	kv        store.KV
	log       *ops.Logger

	self      string
	signer    crypto.Signer
	cipher    crypto.Cipher
	decryptor *crypto.Decryptor
	caps      *internalnostr.PeerCapabilities
	filters   *FilterBuilder
	convos    *Conversations
}

// NewService creates the messaging service. The private key is optional;
// without it the service can read public channels but not direct
// conversations.
func NewService(cfg *config.Config, client transport, discovery relayFinder, cache *store.EventCache, kv store.KV, log *ops.Logger) (*Service, error) {
	self, err := cfg.Identity.Pubkey()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}

	s := &Service{
		config:    cfg,
		client:    client,
		discovery: discovery,
		cache:     cache,
		kv:        kv,
		log:       log.WithComponent("messaging"),
		self:      self,
		caps:      internalnostr.NewPeerCapabilities(cfg.Messaging.CapabilityLimit),
		filters:   NewFilterBuilder(&cfg.Messaging),
		convos:    NewConversations(),
	}

	if privateKey, err := cfg.Identity.PrivateKey(); err == nil && privateKey != "" {
		signer, err := crypto.NewLocalSigner(privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		if signer.PublicKey() != self {
			return nil, fmt.Errorf("private key does not match configured npub")
		}
		s.signer = signer
		s.cipher = signer
	}

	s.decryptor = crypto.NewDecryptor(self, s.cipher, s.caps.MarkModern)
	return s, nil
}

// Self returns the owner's hex pubkey.
func (s *Service) Self() string {
	return s.self
}

// CanDecrypt reports whether a private key is loaded.
func (s *Service) CanDecrypt() bool {
	return s.cipher != nil
}

// Conversations exposes the merged conversation state.
func (s *Service) Conversations() *Conversations {
	return s.convos
}

// FetchMessages backfills a direct conversation in widening stages.
// The first stage covers the most recent window; older stages run only
// while the thread is still empty, so an active conversation costs one
// round and a cold lookup walks back through the full history.
func (s *Service) FetchMessages(ctx context.Context, peer string, active bool) ([]*crypto.Decrypted, error) {
	if s.cipher == nil {
		return nil, ErrNotAuthenticated
	}

	relays := s.conversationRelays(ctx, peer, active)
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}

	now := time.Now()
	var until time.Time
	for _, window := range s.filters.Windows() {
		since := now.Add(-window)

		stageCtx, cancel := context.WithTimeout(ctx, s.queryTimeout(active))
		added := 0
		for _, filter := range s.filters.BuildDMFilters(s.self, peer, since, until) {
			events := s.client.FetchEvents(stageCtx, relays, filter)
			added += len(s.ingest(stageCtx, events))
		}
		cancel()

		s.log.LogFetchStage(peer, fmt.Sprintf("%dd", int(window.Hours()/24)), len(relays), added)
		if len(s.convos.Thread(peer)) > 0 {
			break
		}
		if ctx.Err() != nil {
			break
		}
		until = since
	}

	if s.config.Messaging.UseNegentropy {
		s.reconcileMissing(ctx, relays, peer)
	}

	return s.convos.Thread(peer), nil
}

// FetchGroupMessages backfills a public channel. No key material is
// needed; channel messages are plaintext.
func (s *Service) FetchGroupMessages(ctx context.Context, channelID string) ([]*crypto.Decrypted, error) {
	relays := internalnostr.MergeRelays(s.config.Relays.Policy.BackgroundFanout,
		s.client.ConnectedRelays(), s.client.DefaultRelays())
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}

	now := time.Now()
	var until time.Time
	for _, window := range s.filters.Windows() {
		since := now.Add(-window)

		stageCtx, cancel := context.WithTimeout(ctx, s.queryTimeout(false))
		events := s.client.FetchEvents(stageCtx, relays, s.filters.BuildGroupFilter(channelID, since, until))
		added := len(s.ingest(stageCtx, events))
		cancel()

		s.log.LogFetchStage(channelID, fmt.Sprintf("%dd", int(window.Hours()/24)), len(relays), added)
		if len(s.convos.Thread(channelID)) > 0 {
			break
		}
		until = since
	}

	return s.convos.Thread(channelID), nil
}

// HydrateContacts loads the owner's contact list and profile names so
// the conversation list can show petnames before any message arrives.
func (s *Service) HydrateContacts(ctx context.Context) ([]Contact, error) {
	relays := s.conversationRelays(ctx, s.self, false)
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}

	listCtx, cancelList := context.WithTimeout(ctx, s.queryTimeout(false))
	events := s.client.FetchEvents(listCtx, relays, s.filters.BuildContactListFilter(s.self))
	cancelList()
	contactList := newestEvent(events)
	if contactList == nil {
		return s.convos.Contacts(), nil
	}

	pubkeys := make([]string, 0)
	for _, tag := range contactList.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] != "" {
			s.convos.AddContact(tag[1])
			pubkeys = append(pubkeys, tag[1])
		}
	}
	if len(pubkeys) == 0 {
		return s.convos.Contacts(), nil
	}

	// The list query may have spent its whole window; the profile
	// lookup runs on a fresh one.
	profileCtx, cancelProfiles := context.WithTimeout(ctx, s.queryTimeout(false))
	defer cancelProfiles()
	profiles := s.client.FetchEvents(profileCtx, relays, s.filters.BuildMetadataFilter(pubkeys))
	newest := make(map[string]*nostr.Event)
	for _, event := range profiles {
		if prev, ok := newest[event.PubKey]; !ok || event.CreatedAt > prev.CreatedAt {
			newest[event.PubKey] = event
		}
	}
	for pubkey, event := range newest {
		name := gjson.Get(event.Content, "display_name").String()
		if name == "" {
			name = gjson.Get(event.Content, "name").String()
		}
		s.convos.SetContactName(pubkey, name)
	}

	return s.convos.Contacts(), nil
}

// ingest stores, decrypts and merges raw relay events, returning the
// messages that were new to the conversation set. Undecryptable events
// are logged and skipped; one bad event never aborts a fetch.
func (s *Service) ingest(ctx context.Context, events []*nostr.Event) []*crypto.Decrypted {
	var added []*crypto.Decrypted
	for _, event := range events {
		if event == nil || s.convos.Has(event.ID) {
			continue
		}
		if err := s.cache.Save(ctx, event); err != nil {
			s.log.Debug("failed to cache event", "id", event.ID, "error", err)
		}

		msg, ok, err := s.decryptor.DecryptMessage(event)
		if err != nil || !ok {
			s.log.LogDecryptFailure(event.ID, event.Kind, err)
			continue
		}
		if IsMachinePayload(msg.Content, s.config.Messaging.SpamMarkers) {
			s.log.Debug("dropped machine payload", "id", event.ID, "peer", msg.Peer)
			continue
		}
		if s.convos.Merge(msg) > 0 {
			added = append(added, msg)
		}
	}
	return added
}

// conversationRelays merges the peer's relays, the owner's relays and
// whatever is already connected, capped by the fanout for the query
// class. Peer relays come first so the cap trims fallbacks, not the
// relays most likely to hold the conversation.
func (s *Service) conversationRelays(ctx context.Context, peer string, active bool) []string {
	fanout := s.config.Relays.Policy.BackgroundFanout
	if active {
		fanout = s.config.Relays.Policy.ActiveFanout
	}

	lists := [][]string{s.discovery.UserRelays(ctx, peer)}
	if peer != s.self {
		lists = append(lists, s.discovery.UserRelays(ctx, s.self))
	}
	lists = append(lists, s.client.ConnectedRelays(), s.client.DefaultRelays())

	return internalnostr.MergeRelays(fanout, lists...)
}

func (s *Service) queryTimeout(active bool) time.Duration {
	ms := s.config.Relays.Policy.QueryTimeoutMs
	if active {
		ms = s.config.Relays.Policy.ActiveQueryTimeoutMs
	}
	if ms <= 0 {
		return 8 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

// newestEvent returns the event with the highest created_at.
func newestEvent(events []*nostr.Event) *nostr.Event {
	var newest *nostr.Event
	for _, event := range events {
		if newest == nil || event.CreatedAt > newest.CreatedAt {
			newest = event
		}
	}
	return newest
}
