package crypto

import (
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip59"
)

// Conversational event kinds. The decryption engine dispatches over this
// closed set; anything else is not a message.
const (
	KindLegacyDM       = 4    // NIP-04 ciphertext, NIP-44 on fallback
	KindChatMessage    = 14   // NIP-44 ciphertext, plaintext during interop
	KindSeal           = 13   // inner seal of a gift wrap
	KindGiftWrap       = 1059 // NIP-59 outer envelope
	KindChannelMessage = 42   // group chat, plaintext
)

// ErrNoCipher is returned when an event structurally requires a private
// decryption capability and none is configured.
var ErrNoCipher = errors.New("no decryption capability available")

// Decrypted is a successfully decrypted conversational event, normalized
// across schemes. For gift wraps the author and timestamp come from the
// inner rumor; the id always stays the outer event id.
type Decrypted struct {
	ID        string
	Author    string
	Peer      string // conversation counterpart, or channel id for kind 42
	Content   string
	CreatedAt nostr.Timestamp
	Kind      int
}

// Decryptor selects among the competing encryption schemes by event kind.
type Decryptor struct {
	self   string
	cipher Cipher             // nil when no private key is available
	onPeer func(pubkey string) // capability learning hook, may be nil
}

// NewDecryptor creates a decryption engine for the given local pubkey.
// onModernPeer, when non-nil, is invoked with the author pubkey every time
// a newer-scheme message from a peer decrypts successfully.
func NewDecryptor(self string, cipher Cipher, onModernPeer func(pubkey string)) *Decryptor {
	return &Decryptor{
		self:   self,
		cipher: cipher,
		onPeer: onModernPeer,
	}
}

// DecryptMessage dispatches on the event kind. The boolean is false for
// events that are not conversational or could not be decrypted where the
// scheme tolerates failure; an error is returned only for hard precondition
// failures (legacy decryption without a private key).
func (d *Decryptor) DecryptMessage(event *nostr.Event) (*Decrypted, bool, error) {
	switch event.Kind {
	case KindGiftWrap:
		return d.decryptGiftWrap(event)
	case KindChatMessage:
		return d.decryptChat(event)
	case KindLegacyDM:
		return d.decryptLegacy(event)
	case KindChannelMessage:
		return d.passthroughChannel(event)
	default:
		return nil, false, nil
	}
}

// decryptGiftWrap unwraps the two-layer envelope. Sender/recipient mismatch
// is common in multi-device setups, so every failure here is soft.
func (d *Decryptor) decryptGiftWrap(event *nostr.Event) (*Decrypted, bool, error) {
	if d.cipher == nil {
		return nil, false, nil
	}

	rumor, err := nip59.GiftUnwrap(*event, d.cipher.DecryptVersioned)
	if err != nil {
		return nil, false, nil
	}
	if rumor.Kind != KindChatMessage {
		// Seal carried something other than a chat message.
		return nil, false, nil
	}

	peer := d.counterpart(rumor.PubKey, rumor.Tags)
	d.learnModern(rumor.PubKey)

	return &Decrypted{
		ID:        event.ID,
		Author:    rumor.PubKey,
		Peer:      peer,
		Content:   rumor.Content,
		CreatedAt: rumor.CreatedAt,
		Kind:      event.Kind,
	}, true, nil
}

// decryptChat handles the newer pairwise kind. Some peers publish plaintext
// under this kind during interop, so decryption failure falls back to the
// raw content instead of discarding the event.
func (d *Decryptor) decryptChat(event *nostr.Event) (*Decrypted, bool, error) {
	peer := d.counterpart(event.PubKey, event.Tags)

	content := event.Content
	if d.cipher != nil {
		if plaintext, err := d.cipher.DecryptVersioned(peer, event.Content); err == nil {
			content = plaintext
		}
	}

	d.learnModern(event.PubKey)

	return &Decrypted{
		ID:        event.ID,
		Author:    event.PubKey,
		Peer:      peer,
		Content:   content,
		CreatedAt: event.CreatedAt,
		Kind:      event.Kind,
	}, true, nil
}

// decryptLegacy handles the legacy pairwise kind. A private decryption
// capability is a hard precondition here, unlike the gift-wrap path.
func (d *Decryptor) decryptLegacy(event *nostr.Event) (*Decrypted, bool, error) {
	if d.cipher == nil {
		return nil, false, fmt.Errorf("cannot decrypt kind %d event %s: %w", event.Kind, event.ID, ErrNoCipher)
	}

	peer := d.counterpart(event.PubKey, event.Tags)

	content, err := d.cipher.DecryptLegacy(peer, event.Content)
	if err != nil {
		// Some clients already encrypt kind 4 under the versioned scheme.
		content, err = d.cipher.DecryptVersioned(peer, event.Content)
		if err != nil {
			return nil, false, nil
		}
	}

	return &Decrypted{
		ID:        event.ID,
		Author:    event.PubKey,
		Peer:      peer,
		Content:   content,
		CreatedAt: event.CreatedAt,
		Kind:      event.Kind,
	}, true, nil
}

// passthroughChannel normalizes a plaintext group message. The conversation
// key is the channel id from the root e tag.
func (d *Decryptor) passthroughChannel(event *nostr.Event) (*Decrypted, bool, error) {
	channel := ""
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			channel = tag[1]
			break
		}
	}
	if channel == "" {
		return nil, false, nil
	}

	return &Decrypted{
		ID:        event.ID,
		Author:    event.PubKey,
		Peer:      channel,
		Content:   event.Content,
		CreatedAt: event.CreatedAt,
		Kind:      event.Kind,
	}, true, nil
}

// counterpart resolves the conversation partner: the first p tag when self
// authored the event, the author otherwise. Self-DMs resolve to self.
func (d *Decryptor) counterpart(author string, tags nostr.Tags) string {
	if author != d.self {
		return author
	}
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "p" {
			return tag[1]
		}
	}
	return d.self
}

func (d *Decryptor) learnModern(author string) {
	if d.onPeer != nil && author != "" && author != d.self {
		d.onPeer(author)
	}
}

// WrapMessage gift-wraps a chat rumor for a recipient: the rumor is sealed
// under the versioned scheme with the sender's key, then wrapped under an
// ephemeral key so relays see neither content nor true sender.
func WrapMessage(rumor nostr.Event, recipientPubkey string, cipher Cipher, signer Signer) (nostr.Event, error) {
	if cipher == nil || signer == nil {
		return nostr.Event{}, ErrNoCipher
	}
	return nip59.GiftWrap(
		rumor,
		recipientPubkey,
		func(plaintext string) (string, error) {
			return cipher.EncryptVersioned(recipientPubkey, plaintext)
		},
		signer.Sign,
		nil,
	)
}
