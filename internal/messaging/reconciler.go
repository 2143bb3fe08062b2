package messaging

import (
	"sort"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/arbadacarbaYK/tides/internal/crypto"
)

// Contact is a conversation partner with the newest known activity.
type Contact struct {
	Pubkey      string
	Name        string
	LastMessage nostr.Timestamp
}

// Conversations merges decrypted messages from many relays into
// per-peer threads. Every relay returns an arbitrary, overlapping
// slice of the conversation; merging is idempotent and keeps each
// thread sorted by creation time.
type Conversations struct {
	mu       sync.RWMutex
	threads  map[string][]*crypto.Decrypted
	seen     map[string]struct{}
	contacts map[string]*Contact
}

// NewConversations creates an empty conversation set.
func NewConversations() *Conversations {
	return &Conversations{
		threads:  make(map[string][]*crypto.Decrypted),
		seen:     make(map[string]struct{}),
		contacts: make(map[string]*Contact),
	}
}

// Merge inserts messages into their threads, skipping ids already
// present. Returns the number of messages actually added.
func (c *Conversations) Merge(messages ...*crypto.Decrypted) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, msg := range messages {
		if msg == nil || msg.ID == "" || msg.Peer == "" {
			continue
		}
		if _, dup := c.seen[msg.ID]; dup {
			continue
		}
		c.seen[msg.ID] = struct{}{}
		c.threads[msg.Peer] = insertSorted(c.threads[msg.Peer], msg)
		c.touchContact(msg.Peer, msg.CreatedAt)
		added++
	}
	return added
}

// Has reports whether a message id was already merged.
func (c *Conversations) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.seen[id]
	return ok
}

// Thread returns a copy of the messages for a peer or channel,
// oldest first.
func (c *Conversations) Thread(key string) []*crypto.Decrypted {
	c.mu.RLock()
	defer c.mu.RUnlock()

	thread := c.threads[key]
	out := make([]*crypto.Decrypted, len(thread))
	copy(out, thread)
	return out
}

// Contacts returns the known conversation partners, most recently
// active first.
func (c *Conversations) Contacts() []Contact {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Contact, 0, len(c.contacts))
	for _, contact := range c.contacts {
		out = append(out, *contact)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessage != out[j].LastMessage {
			return out[i].LastMessage > out[j].LastMessage
		}
		return out[i].Pubkey < out[j].Pubkey
	})
	return out
}

// AddContact registers a partner without requiring a message first,
// typically from the owner's contact list.
func (c *Conversations) AddContact(pubkey string) {
	if pubkey == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.contacts[pubkey]; !ok {
		c.contacts[pubkey] = &Contact{Pubkey: pubkey}
	}
}

// SetContactName attaches profile metadata to a contact.
func (c *Conversations) SetContactName(pubkey, name string) {
	if pubkey == "" || name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	contact, ok := c.contacts[pubkey]
	if !ok {
		contact = &Contact{Pubkey: pubkey}
		c.contacts[pubkey] = contact
	}
	contact.Name = name
}

// touchContact advances the last-message time, never moving it back.
// Caller must hold the lock.
func (c *Conversations) touchContact(pubkey string, at nostr.Timestamp) {
	contact, ok := c.contacts[pubkey]
	if !ok {
		contact = &Contact{Pubkey: pubkey}
		c.contacts[pubkey] = contact
	}
	if at > contact.LastMessage {
		contact.LastMessage = at
	}
}

// insertSorted places msg into a thread kept ordered by creation time,
// ties broken by id for a stable order across runs.
func insertSorted(thread []*crypto.Decrypted, msg *crypto.Decrypted) []*crypto.Decrypted {
	i := sort.Search(len(thread), func(i int) bool {
		if thread[i].CreatedAt != msg.CreatedAt {
			return thread[i].CreatedAt > msg.CreatedAt
		}
		return thread[i].ID > msg.ID
	})
	thread = append(thread, nil)
	copy(thread[i+1:], thread[i:])
	thread[i] = msg
	return thread
}
