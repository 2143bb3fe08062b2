package nostr

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// PeerCapabilities tracks which peers have been observed to support the
// newer kind-14 message scheme. Learned opportunistically from decrypted
// events, never persisted: the set resets on restart by design, and nothing
// may depend on it for correctness. It only biases which kind the send path
// tries first.
type PeerCapabilities struct {
	modern *xsync.MapOf[string, struct{}]
	limit  int
}

// NewPeerCapabilities creates a capability tracker bounded to limit peers.
// A limit of 0 falls back to 4096.
func NewPeerCapabilities(limit int) *PeerCapabilities {
	if limit <= 0 {
		limit = 4096
	}
	return &PeerCapabilities{
		modern: xsync.NewMapOf[string, struct{}](),
		limit:  limit,
	}
}

// MarkModern records that a peer supports the newer message kind. Once the
// bound is reached new peers are not recorded; existing marks stay valid.
func (pc *PeerCapabilities) MarkModern(pubkey string) {
	if pubkey == "" {
		return
	}
	if _, known := pc.modern.Load(pubkey); known {
		return
	}
	if pc.modern.Size() >= pc.limit {
		return
	}
	pc.modern.Store(pubkey, struct{}{})
}

// SupportsModern reports whether a peer has been observed to support the
// newer message kind this session
func (pc *PeerCapabilities) SupportsModern(pubkey string) bool {
	_, ok := pc.modern.Load(pubkey)
	return ok
}

// Len returns the number of tracked peers
func (pc *PeerCapabilities) Len() int {
	return pc.modern.Size()
}

// Reset drops all learned capabilities
func (pc *PeerCapabilities) Reset() {
	pc.modern.Clear()
}
