package nostr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Relay list event kinds, in discovery priority order: the NIP-17 DM relay
// list wins over the general NIP-65 list, which wins over relay hints
// embedded in a legacy kind-3 contact list.
const (
	KindDMRelayList = 10050
	KindRelayList   = 10002
	KindContactList = 3
)

// ParseRelayList extracts relay addresses from any of the three relay-list
// event kinds. The result is normalized and deduplicated, preserving tag
// order. Unknown kinds yield an error; an empty list is not an error.
func ParseRelayList(event *nostr.Event) ([]string, error) {
	switch event.Kind {
	case KindDMRelayList:
		return parseTagRelays(event, "relay"), nil
	case KindRelayList:
		return parseTagRelays(event, "r"), nil
	case KindContactList:
		return parseContactListRelays(event), nil
	default:
		return nil, fmt.Errorf("expected relay list kind, got %d", event.Kind)
	}
}

// parseTagRelays collects relay URLs from tags with the given name
func parseTagRelays(event *nostr.Event, tagName string) []string {
	relays := make([]string, 0, len(event.Tags))
	seen := make(map[string]bool)

	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != tagName {
			continue
		}
		url := nostr.NormalizeURL(strings.TrimSpace(tag[1]))
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		relays = append(relays, url)
	}
	return relays
}

// parseContactListRelays reads the legacy relay map embedded in a kind-3
// content payload: {"wss://relay": {"read": true, "write": true}, ...}
func parseContactListRelays(event *nostr.Event) []string {
	if strings.TrimSpace(event.Content) == "" {
		return nil
	}

	var relayMap map[string]struct {
		Read  bool `json:"read"`
		Write bool `json:"write"`
	}
	if err := json.Unmarshal([]byte(event.Content), &relayMap); err != nil {
		return nil
	}

	relays := make([]string, 0, len(relayMap))
	seen := make(map[string]bool)
	for rawURL := range relayMap {
		url := nostr.NormalizeURL(strings.TrimSpace(rawURL))
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		relays = append(relays, url)
	}
	return relays
}

// MergeRelays concatenates relay lists in priority order, deduplicating and
// capping the result. A limit of 0 means unlimited.
func MergeRelays(limit int, lists ...[]string) []string {
	merged := make([]string, 0)
	seen := make(map[string]bool)

	for _, list := range lists {
		for _, rawURL := range list {
			url := nostr.NormalizeURL(strings.TrimSpace(rawURL))
			if url == "" || seen[url] {
				continue
			}
			seen[url] = true
			merged = append(merged, url)
			if limit > 0 && len(merged) >= limit {
				return merged
			}
		}
	}
	return merged
}

// ValidateRelayURL performs basic validation on a relay URL
func ValidateRelayURL(url string) bool {
	return nostr.IsValidRelayURL(nostr.NormalizeURL(url))
}
