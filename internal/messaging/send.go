package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/arbadacarbaYK/tides/internal/crypto"
	internalnostr "github.com/arbadacarbaYK/tides/internal/nostr"
)

// SendMessage encrypts and publishes a direct message. The encryption
// scheme follows what the peer has demonstrated: peers seen using the
// newer kind get the newer scheme, everyone else gets the legacy kind.
// If every relay rejects the newer kind the send is retried once as a
// legacy message before giving up.
func (s *Service) SendMessage(ctx context.Context, peer, text string) (*crypto.Decrypted, error) {
	if s.signer == nil || s.cipher == nil {
		return nil, ErrNotAuthenticated
	}
	if peer == "" {
		return nil, fmt.Errorf("empty recipient")
	}

	relays := s.publishRelays(ctx, peer)
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}

	kinds := []int{crypto.KindLegacyDM}
	if s.caps.SupportsModern(peer) {
		kinds = []int{crypto.KindChatMessage, crypto.KindLegacyDM}
	}

	var publishErrs []error
	for _, kind := range kinds {
		events, msg, err := s.buildOutgoing(peer, text, kind)
		if err != nil {
			return nil, err
		}

		published, errs := s.publishToAll(ctx, relays, events[0])
		publishErrs = append(publishErrs, errs...)
		if published == 0 {
			continue
		}

		// Companion copies (the wrap addressed to ourselves) ride along;
		// losing one only costs the sent copy on other devices.
		for _, extra := range events[1:] {
			s.publishToAll(ctx, relays, extra)
		}

		s.convos.Merge(msg)
		for _, event := range events {
			if err := s.cache.Save(ctx, event); err != nil {
				s.log.Debug("failed to cache sent event", "id", event.ID, "error", err)
			}
		}
		s.log.Info("message sent", "peer", peer, "kind", kind, "relays", published)
		return msg, nil
	}

	return nil, errors.Join(append([]error{ErrPublishFailed}, publishErrs...)...)
}

// SendGroupMessage publishes a plaintext message to a public channel.
func (s *Service) SendGroupMessage(ctx context.Context, channelID, text string) (*crypto.Decrypted, error) {
	if s.signer == nil {
		return nil, ErrNotAuthenticated
	}
	if channelID == "" {
		return nil, fmt.Errorf("empty channel id")
	}

	relays := internalnostr.MergeRelays(s.config.Relays.Policy.MaxPublishRelays,
		s.client.ConnectedRelays(), s.client.DefaultRelays())
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}

	event := &nostr.Event{
		Kind:      crypto.KindChannelMessage,
		Content:   text,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"e", channelID, "", "root"}},
	}
	if err := s.signer.Sign(event); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}

	published, errs := s.publishToAll(ctx, relays, event)
	if published == 0 {
		return nil, errors.Join(append([]error{ErrPublishFailed}, errs...)...)
	}

	msg := &crypto.Decrypted{
		ID:        event.ID,
		Author:    s.self,
		Peer:      channelID,
		Content:   text,
		CreatedAt: event.CreatedAt,
		Kind:      crypto.KindChannelMessage,
	}
	s.convos.Merge(msg)
	if err := s.cache.Save(ctx, event); err != nil {
		s.log.Debug("failed to cache sent event", "id", event.ID, "error", err)
	}
	return msg, nil
}

// buildOutgoing creates the signed events carrying the encrypted text,
// primary event first, plus the local representation of the message.
// The newer kind is gift wrapped when configured; the wrap hides the
// sender and message kind from relays. Wrapped sends produce a second
// wrap addressed to ourselves, since the recipient's wrap is not
// tagged with our key and could never be fetched back.
func (s *Service) buildOutgoing(peer, text string, kind int) ([]*nostr.Event, *crypto.Decrypted, error) {
	if kind == crypto.KindChatMessage && s.config.Messaging.WrapOutgoing {
		rumor := nostr.Event{
			Kind:      crypto.KindChatMessage,
			PubKey:    s.self,
			Content:   text,
			CreatedAt: nostr.Now(),
			Tags:      nostr.Tags{{"p", peer}},
		}
		rumor.ID = rumor.GetID()

		wrapped, err := crypto.WrapMessage(rumor, peer, s.cipher, s.signer)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to wrap message: %w", err)
		}
		events := []*nostr.Event{&wrapped}

		selfCopy := &wrapped
		if peer != s.self {
			ownWrap, err := crypto.WrapMessage(rumor, s.self, s.cipher, s.signer)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to wrap own copy: %w", err)
			}
			events = append(events, &ownWrap)
			selfCopy = &ownWrap
		}

		// The local message mirrors what unwrapping our own copy will
		// produce later, so the refetched event dedups against it. The
		// outer wrap carries a randomized timestamp; the rumor holds
		// the real one.
		msg := &crypto.Decrypted{
			ID:        selfCopy.ID,
			Author:    s.self,
			Peer:      peer,
			Content:   text,
			CreatedAt: rumor.CreatedAt,
			Kind:      crypto.KindGiftWrap,
		}
		return events, msg, nil
	}

	var ciphertext string
	var err error
	switch kind {
	case crypto.KindChatMessage:
		ciphertext, err = s.cipher.EncryptVersioned(peer, text)
	case crypto.KindLegacyDM:
		ciphertext, err = s.cipher.EncryptLegacy(peer, text)
	default:
		return nil, nil, fmt.Errorf("unsupported message kind %d", kind)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt message: %w", err)
	}

	event := &nostr.Event{
		Kind:      kind,
		Content:   ciphertext,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", peer}},
	}
	if err := s.signer.Sign(event); err != nil {
		return nil, nil, fmt.Errorf("failed to sign message: %w", err)
	}
	msg := &crypto.Decrypted{
		ID:        event.ID,
		Author:    s.self,
		Peer:      peer,
		Content:   text,
		CreatedAt: event.CreatedAt,
		Kind:      kind,
	}
	return []*nostr.Event{event}, msg, nil
}

// publishToAll walks the relay list one at a time so a hung relay only
// costs its own timeout. Returns the success count and the per-relay
// failures.
func (s *Service) publishToAll(ctx context.Context, relays []string, event *nostr.Event) (int, []error) {
	published := 0
	var errs []error
	for _, relay := range relays {
		err := s.client.Publish(ctx, relay, event)
		s.log.LogPublishAttempt(relay, event.ID, err)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		published++
	}
	return published, errs
}

// publishRelays targets the peer's relays first so the message lands
// where they actually read, then the owner's relays for the sent copy.
// Default relays pad the list when discovery came up empty.
func (s *Service) publishRelays(ctx context.Context, peer string) []string {
	return internalnostr.MergeRelays(s.config.Relays.Policy.MaxPublishRelays,
		s.discovery.UserRelays(ctx, peer),
		s.discovery.UserRelays(ctx, s.self),
		s.client.ConnectedRelays(),
		s.client.DefaultRelays())
}
