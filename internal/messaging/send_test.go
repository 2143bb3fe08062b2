package messaging

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/arbadacarbaYK/tides/internal/crypto"
)

func TestSendMessageLegacyByDefault(t *testing.T) {
	peer := newPeer(t)
	client := &fakeTransport{}
	s, signer := newTestService(t, client, nil)

	msg, err := s.SendMessage(context.Background(), peer.PublicKey(), "hello old friend")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.Kind != crypto.KindLegacyDM {
		t.Errorf("kind = %d, want legacy for an unknown peer", msg.Kind)
	}

	published := client.publishedEvents()
	if len(published) == 0 {
		t.Fatal("nothing published")
	}
	event := published[0]
	if event.Kind != crypto.KindLegacyDM {
		t.Errorf("published kind = %d", event.Kind)
	}
	if event.PubKey != signer.PublicKey() {
		t.Errorf("published pubkey = %s", event.PubKey)
	}

	plaintext, err := peer.DecryptLegacy(signer.PublicKey(), event.Content)
	if err != nil {
		t.Fatalf("peer cannot decrypt: %v", err)
	}
	if plaintext != "hello old friend" {
		t.Errorf("plaintext = %q", plaintext)
	}
}

func TestSendMessageModernWhenCapable(t *testing.T) {
	peer := newPeer(t)
	client := &fakeTransport{}
	s, signer := newTestService(t, client, nil)
	s.caps.MarkModern(peer.PublicKey())

	msg, err := s.SendMessage(context.Background(), peer.PublicKey(), "modern hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.Kind != crypto.KindChatMessage {
		t.Errorf("kind = %d, want modern for a capable peer", msg.Kind)
	}

	event := client.publishedEvents()[0]
	plaintext, err := peer.DecryptVersioned(signer.PublicKey(), event.Content)
	if err != nil {
		t.Fatalf("peer cannot decrypt: %v", err)
	}
	if plaintext != "modern hello" {
		t.Errorf("plaintext = %q", plaintext)
	}
}

func TestSendMessageFallsBackToLegacyKind(t *testing.T) {
	peer := newPeer(t)
	client := &fakeTransport{
		publishErr: func(url string, event *nostr.Event) error {
			if event.Kind == crypto.KindChatMessage {
				return fmt.Errorf("blocked: kind not accepted")
			}
			return nil
		},
	}
	s, _ := newTestService(t, client, nil)
	s.caps.MarkModern(peer.PublicKey())

	msg, err := s.SendMessage(context.Background(), peer.PublicKey(), "stubborn relay")
	if err != nil {
		t.Fatalf("SendMessage should fall back, got %v", err)
	}
	if msg.Kind != crypto.KindLegacyDM {
		t.Errorf("kind = %d, want legacy after fallback", msg.Kind)
	}
}

func TestSendMessageAllRelaysFail(t *testing.T) {
	peer := newPeer(t)
	client := &fakeTransport{
		publishErr: func(url string, event *nostr.Event) error {
			return fmt.Errorf("relay down")
		},
	}
	s, _ := newTestService(t, client, nil)

	_, err := s.SendMessage(context.Background(), peer.PublicKey(), "into the void")
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}
}

func TestSendMessageRequiresKey(t *testing.T) {
	s := readOnlyService(t)
	_, err := s.SendMessage(context.Background(), "peer", "text")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSendMessageNoRelays(t *testing.T) {
	client := &fakeTransport{defaults: []string{}}
	s, _ := newTestService(t, client, nil)
	client.defaults = nil

	peer := newPeer(t)
	_, err := s.SendMessage(context.Background(), peer.PublicKey(), "text")
	if !errors.Is(err, ErrNoRelays) {
		t.Errorf("expected ErrNoRelays, got %v", err)
	}
}

func TestSendMessageMergesIntoThread(t *testing.T) {
	peer := newPeer(t)
	client := &fakeTransport{}
	s, _ := newTestService(t, client, nil)

	if _, err := s.SendMessage(context.Background(), peer.PublicKey(), "sent copy"); err != nil {
		t.Fatal(err)
	}

	thread := s.Conversations().Thread(peer.PublicKey())
	if len(thread) != 1 {
		t.Fatalf("thread length = %d, want the sent message echoed", len(thread))
	}
	if thread[0].Content != "sent copy" || thread[0].Author != s.Self() {
		t.Errorf("echoed message = %+v", thread[0])
	}
}

func TestSendMessageWrapped(t *testing.T) {
	peer := newPeer(t)
	client := &fakeTransport{}
	s, signer := newTestService(t, client, nil)
	s.config.Messaging.WrapOutgoing = true
	s.caps.MarkModern(peer.PublicKey())

	before := nostr.Now()
	msg, err := s.SendMessage(context.Background(), peer.PublicKey(), "sealed hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.Content != "sealed hello" {
		t.Errorf("echo content = %q", msg.Content)
	}
	// Wraps carry a randomized timestamp in the past; the local echo
	// must show when the message was actually written.
	if msg.CreatedAt < before || msg.CreatedAt > nostr.Now()+1 {
		t.Errorf("echo timestamp = %d, want the send time, not the wrap's", msg.CreatedAt)
	}

	published := client.publishedEvents()
	if len(published) != 2 {
		t.Fatalf("published %d events, want the peer's wrap and our own copy", len(published))
	}
	for _, event := range published {
		if event.Kind != crypto.KindGiftWrap {
			t.Fatalf("published kind = %d, want gift wrap", event.Kind)
		}
		if event.PubKey == signer.PublicKey() {
			t.Error("wrap must not be signed by the sender key")
		}
	}
	peerWrap, selfWrap := published[0], published[1]
	if selfWrap.Tags.GetFirst([]string{"p", s.Self()}) == nil {
		t.Error("own copy must be tagged to us or it can never be fetched back")
	}
	if msg.ID != selfWrap.ID {
		t.Errorf("echo id = %s, want the own copy's id %s", msg.ID, selfWrap.ID)
	}

	d := crypto.NewDecryptor(peer.PublicKey(), peer, nil)
	unwrapped, ok, err := d.DecryptMessage(peerWrap)
	if err != nil || !ok {
		t.Fatalf("peer cannot unwrap: ok=%v err=%v", ok, err)
	}
	if unwrapped.Content != "sealed hello" {
		t.Errorf("unwrapped content = %q", unwrapped.Content)
	}
	if unwrapped.Author != signer.PublicKey() {
		t.Errorf("unwrapped author = %s", unwrapped.Author)
	}

	own := crypto.NewDecryptor(s.Self(), signer, nil)
	echo, ok, err := own.DecryptMessage(selfWrap)
	if err != nil || !ok {
		t.Fatalf("cannot unwrap own copy: ok=%v err=%v", ok, err)
	}
	if echo.Content != "sealed hello" || echo.Peer != peer.PublicKey() {
		t.Errorf("own copy decodes to %+v", echo)
	}
	if echo.CreatedAt != msg.CreatedAt {
		t.Errorf("refetched timestamp %d != echo %d", echo.CreatedAt, msg.CreatedAt)
	}
}

func TestSendGroupMessage(t *testing.T) {
	client := &fakeTransport{}
	s, signer := newTestService(t, client, nil)

	msg, err := s.SendGroupMessage(context.Background(), "channel123", "hello everyone")
	if err != nil {
		t.Fatalf("SendGroupMessage failed: %v", err)
	}
	if msg.Kind != crypto.KindChannelMessage || msg.Peer != "channel123" {
		t.Errorf("msg = %+v", msg)
	}

	event := client.publishedEvents()[0]
	if event.Kind != crypto.KindChannelMessage {
		t.Errorf("published kind = %d", event.Kind)
	}
	if event.Content != "hello everyone" {
		t.Errorf("content = %q", event.Content)
	}
	root := event.Tags.GetFirst([]string{"e", "channel123"})
	if root == nil {
		t.Error("missing channel root tag")
	}
	if event.PubKey != signer.PublicKey() {
		t.Errorf("pubkey = %s", event.PubKey)
	}
}

func TestSendMessageEmptyRecipient(t *testing.T) {
	client := &fakeTransport{}
	s, _ := newTestService(t, client, nil)
	if _, err := s.SendMessage(context.Background(), "", "text"); err == nil {
		t.Error("expected error for empty recipient")
	}
}
