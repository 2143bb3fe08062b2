// Package crypto holds the signing capability and the decryption engine for
// the three competing message encryption schemes: legacy pairwise (NIP-04),
// versioned pairwise (NIP-44), and gift wrap + seal (NIP-59).
package crypto

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// Signer is the event signing capability. Implementations may hold a local
// private key or delegate to an external signer.
type Signer interface {
	PublicKey() string
	Sign(event *nostr.Event) error
}

// Cipher is the pairwise encryption capability under both schemes. All
// operations take the counterpart's hex pubkey.
type Cipher interface {
	EncryptLegacy(peerPubkey, plaintext string) (string, error)
	DecryptLegacy(peerPubkey, ciphertext string) (string, error)
	EncryptVersioned(peerPubkey, plaintext string) (string, error)
	DecryptVersioned(peerPubkey, ciphertext string) (string, error)
}

// LocalSigner signs and decrypts with a locally held private key. It
// implements both Signer and Cipher.
type LocalSigner struct {
	privateKey string
	publicKey  string
}

// NewLocalSigner creates a signer from a hex-encoded private key
func NewLocalSigner(privateKey string) (*LocalSigner, error) {
	if privateKey == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	if !nostr.IsValid32ByteHex(privateKey) {
		return nil, fmt.Errorf("invalid private key: want 64 hex characters")
	}
	publicKey, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalSigner{
		privateKey: privateKey,
		publicKey:  publicKey,
	}, nil
}

// PublicKey returns the hex-encoded public key
func (s *LocalSigner) PublicKey() string {
	return s.publicKey
}

// Sign computes the event id and signature in place
func (s *LocalSigner) Sign(event *nostr.Event) error {
	return event.Sign(s.privateKey)
}

// EncryptLegacy encrypts plaintext for peer under the legacy scheme
func (s *LocalSigner) EncryptLegacy(peerPubkey, plaintext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPubkey, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to compute shared secret: %w", err)
	}
	return nip04.Encrypt(plaintext, shared)
}

// DecryptLegacy decrypts peer ciphertext under the legacy scheme
func (s *LocalSigner) DecryptLegacy(peerPubkey, ciphertext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPubkey, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to compute shared secret: %w", err)
	}
	return nip04.Decrypt(ciphertext, shared)
}

// EncryptVersioned encrypts plaintext for peer under the versioned scheme
func (s *LocalSigner) EncryptVersioned(peerPubkey, plaintext string) (string, error) {
	key, err := nip44.GenerateConversationKey(peerPubkey, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to derive conversation key: %w", err)
	}
	return nip44.Encrypt(plaintext, key)
}

// DecryptVersioned decrypts peer ciphertext under the versioned scheme
func (s *LocalSigner) DecryptVersioned(peerPubkey, ciphertext string) (string, error) {
	key, err := nip44.GenerateConversationKey(peerPubkey, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to derive conversation key: %w", err)
	}
	return nip44.Decrypt(ciphertext, key)
}
