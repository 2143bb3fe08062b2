package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/fiatjaf/eventstore"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip77"

	"github.com/arbadacarbaYK/tides/internal/crypto"
)

const (
	negentropyTimeout = 30 * time.Second
	negentropyMarkTTL = 7 * 24 * time.Hour
)

// reconcileMissing runs NIP-77 set reconciliation against each relay to
// pull conversation events the staged queries missed. Reconciliation
// works on complete sets, so the filter carries no since cursor. Relays
// that reject the protocol are remembered and skipped for a week; every
// failure falls back silently to what the REQ queries already fetched.
func (s *Service) reconcileMissing(ctx context.Context, relays []string, peer string) {
	filter := nostr.Filter{
		Authors: []string{s.self, peer},
		Kinds:   []int{crypto.KindLegacyDM, crypto.KindChatMessage},
	}
	wrapper := &eventstore.RelayWrapper{Store: s.cache.Store()}

	for _, relay := range relays {
		if s.negentropyUnsupported(ctx, relay) {
			continue
		}

		syncCtx, cancel := context.WithTimeout(ctx, negentropyTimeout)
		err := nip77.NegentropySync(syncCtx, wrapper, relay, filter, nip77.Down)
		cancel()

		if err != nil {
			if isNegentropyUnsupportedError(err) {
				s.markNegentropyUnsupported(ctx, relay)
			}
			s.log.Debug("negentropy reconcile failed", "relay", relay, "error", err)
			continue
		}
		s.log.Debug("negentropy reconcile complete", "relay", relay)
	}

	// Reconciled events landed in the cache only; pull them into the
	// conversation set.
	events, err := s.cache.Query(ctx, filter)
	if err != nil {
		s.log.Debug("failed to query reconciled events", "error", err)
		return
	}
	s.ingest(ctx, events)
}

func (s *Service) negentropyUnsupported(ctx context.Context, relay string) bool {
	_, found, err := s.kv.Get(ctx, "neg:unsupported:"+relay)
	return err == nil && found
}

func (s *Service) markNegentropyUnsupported(ctx context.Context, relay string) {
	if err := s.kv.Set(ctx, "neg:unsupported:"+relay, "1", negentropyMarkTTL); err != nil {
		s.log.Debug("failed to mark relay", "relay", relay, "error", err)
	}
}

// isNegentropyUnsupportedError matches the replies relays send when
// they do not speak NIP-77.
func isNegentropyUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"unsupported", "unknown message", "neg-open", "neg-err", "negentropy"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
