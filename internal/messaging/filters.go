package messaging

import (
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/arbadacarbaYK/tides/internal/config"
	"github.com/arbadacarbaYK/tides/internal/crypto"
)

// giftWrapSkew widens gift wrap since cursors: wrapping randomizes the
// outer timestamp up to two days into the past.
const giftWrapSkew = 2 * 24 * time.Hour

// FilterBuilder creates Nostr filters for conversation queries.
type FilterBuilder struct {
	config *config.Messaging
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder(cfg *config.Messaging) *FilterBuilder {
	return &FilterBuilder{
		config: cfg,
	}
}

// Windows returns the backfill stage boundaries, oldest last.
func (fb *FilterBuilder) Windows() []time.Duration {
	days := fb.config.BackfillWindowsDays
	if len(days) == 0 {
		days = []int{30, 90, 365}
	}
	windows := make([]time.Duration, 0, len(days))
	for _, d := range days {
		windows = append(windows, time.Duration(d)*24*time.Hour)
	}
	return windows
}

// BuildDMFilters creates the filters for one backfill stage of a direct
// conversation. Both directions are queried explicitly because relays
// index DMs by author and by p tag separately. Gift wraps can only be
// matched by recipient tag; the wrapped sender is invisible to relays.
func (fb *FilterBuilder) BuildDMFilters(self, peer string, since, until time.Time) []nostr.Filter {
	dmKinds := []int{crypto.KindLegacyDM, crypto.KindChatMessage}
	sinceTs := nostr.Timestamp(since.Unix())
	wrapSince := nostr.Timestamp(since.Add(-giftWrapSkew).Unix())

	var untilTs *nostr.Timestamp
	if !until.IsZero() {
		ts := nostr.Timestamp(until.Unix())
		untilTs = &ts
	}

	if self == peer {
		// Notes to self: one direction covers both sides.
		return []nostr.Filter{
			{
				Authors: []string{self},
				Kinds:   dmKinds,
				Tags:    nostr.TagMap{"p": []string{self}},
				Since:   &sinceTs,
				Until:   untilTs,
			},
			{
				Kinds: []int{crypto.KindGiftWrap},
				Tags:  nostr.TagMap{"p": []string{self}},
				Since: &wrapSince,
				Until: untilTs,
			},
		}
	}

	return []nostr.Filter{
		{
			Authors: []string{self},
			Kinds:   dmKinds,
			Tags:    nostr.TagMap{"p": []string{peer}},
			Since:   &sinceTs,
			Until:   untilTs,
		},
		{
			Authors: []string{peer},
			Kinds:   dmKinds,
			Tags:    nostr.TagMap{"p": []string{self}},
			Since:   &sinceTs,
			Until:   untilTs,
		},
		{
			Kinds: []int{crypto.KindGiftWrap},
			Tags:  nostr.TagMap{"p": []string{self}},
			Since: &wrapSince,
			Until: untilTs,
		},
	}
}

// BuildLiveDMFilters creates the standing subscription filters for a
// direct conversation, open-ended from the given time.
func (fb *FilterBuilder) BuildLiveDMFilters(self, peer string, since time.Time) []nostr.Filter {
	return fb.BuildDMFilters(self, peer, since, time.Time{})
}

// BuildGroupFilter creates a filter for public channel messages.
func (fb *FilterBuilder) BuildGroupFilter(channelID string, since, until time.Time) nostr.Filter {
	sinceTs := nostr.Timestamp(since.Unix())
	filter := nostr.Filter{
		Kinds: []int{crypto.KindChannelMessage},
		Tags:  nostr.TagMap{"e": []string{channelID}},
		Since: &sinceTs,
	}
	if !until.IsZero() {
		ts := nostr.Timestamp(until.Unix())
		filter.Until = &ts
	}
	return filter
}

// BuildContactListFilter creates a filter for the owner's contact list.
func (fb *FilterBuilder) BuildContactListFilter(pubkey string) nostr.Filter {
	return nostr.Filter{
		Authors: []string{pubkey},
		Kinds:   []int{3},
		Limit:   1,
	}
}

// BuildMetadataFilter creates a filter for profile metadata of the
// given pubkeys.
func (fb *FilterBuilder) BuildMetadataFilter(pubkeys []string) nostr.Filter {
	return nostr.Filter{
		Authors: pubkeys,
		Kinds:   []int{0},
	}
}
