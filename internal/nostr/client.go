// Package nostr wraps the relay transport: connection management, filtered
// queries, standing subscriptions, publishing, and relay discovery.
package nostr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/arbadacarbaYK/tides/internal/config"
	"github.com/arbadacarbaYK/tides/internal/ops"
)

// Client provides a high-level interface for interacting with Nostr relays.
// It owns the connected-relay set; no other component mutates it.
type Client struct {
	pool        *nostr.SimplePool
	relayConfig *config.Relays
	log         *ops.Logger
	ctx         context.Context

	mu     sync.RWMutex
	relays map[string]*nostr.Relay
}

// New creates a new Nostr client with the given configuration
func New(ctx context.Context, relayConfig *config.Relays, log *ops.Logger) *Client {
	pool := nostr.NewSimplePool(ctx)
	return &Client{
		pool:        pool,
		relayConfig: relayConfig,
		log:         log.WithComponent("relay"),
		ctx:         ctx,
		relays:      make(map[string]*nostr.Relay),
	}
}

// DefaultRelays returns the configured default relay set
func (c *Client) DefaultRelays() []string {
	if c.relayConfig == nil {
		return []string{}
	}
	return c.relayConfig.Defaults
}

// ConnectTimeout returns the configured per-relay connect timeout
func (c *Client) ConnectTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.ConnectTimeoutMs == 0 {
		return 5 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.ConnectTimeoutMs) * time.Millisecond
}

// EnsureConnection attempts to connect to all default relays if none is
// currently connected. Returns true when at least one relay is connected.
// No-ops when a connection already exists.
func (c *Client) EnsureConnection(ctx context.Context) bool {
	if len(c.ConnectedRelays()) > 0 {
		return true
	}
	return c.EnsureSpecificConnections(ctx, c.DefaultRelays())
}

// EnsureSpecificConnections attempts connection to exactly the given relay
// subset, independent of the default set. Individual failures are logged and
// swallowed; the return is false only when no relay in the batch succeeded.
func (c *Client) EnsureSpecificConnections(ctx context.Context, urls []string) bool {
	var wg sync.WaitGroup
	var okCount int
	var mu sync.Mutex

	for _, url := range urls {
		url = nostr.NormalizeURL(url)
		if url == "" {
			continue
		}
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if c.connect(ctx, url) {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}(url)
	}
	wg.Wait()

	return okCount > 0
}

// connect dials one relay with the configured timeout and records it
func (c *Client) connect(ctx context.Context, url string) bool {
	c.mu.RLock()
	existing, known := c.relays[url]
	c.mu.RUnlock()
	if known && existing.IsConnected() {
		return true
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout())
	defer cancel()

	type dialResult struct {
		relay *nostr.Relay
		err   error
	}
	done := make(chan dialResult, 1)
	go func() {
		relay, err := c.pool.EnsureRelay(url)
		done <- dialResult{relay, err}
	}()

	var relay *nostr.Relay
	select {
	case res := <-done:
		if res.err != nil {
			c.log.LogRelayConnection(url, false, res.err)
			return false
		}
		relay = res.relay
	case <-connectCtx.Done():
		c.log.LogRelayConnection(url, false, connectCtx.Err())
		return false
	}

	c.mu.Lock()
	c.relays[url] = relay
	c.mu.Unlock()

	c.log.LogRelayConnection(url, true, nil)
	return true
}

// ConnectedRelays returns a snapshot of currently connected relay URLs.
// An empty result is valid, not an error.
func (c *Client) ConnectedRelays() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	urls := make([]string, 0, len(c.relays))
	for url, relay := range c.relays {
		if relay.IsConnected() {
			urls = append(urls, url)
		}
	}
	return urls
}

// FetchEvents fetches events from the given relays matching the filter,
// waiting for EOSE from every relay or context expiry, whichever is first.
// A timed-out query returns whatever arrived, never an error.
func (c *Client) FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) []*nostr.Event {
	events := make([]*nostr.Event, 0)
	for relayEvent := range c.pool.SubManyEose(ctx, relays, nostr.Filters{filter}) {
		if relayEvent.Event != nil {
			events = append(events, relayEvent.Event)
		}
	}
	return events
}

// Publish sends an event to a single relay with the configured per-relay
// publish timeout. Callers walk their candidate list one relay at a time.
func (c *Client) Publish(ctx context.Context, url string, event *nostr.Event) error {
	url = nostr.NormalizeURL(url)

	timeout := 4 * time.Second
	if c.relayConfig != nil && c.relayConfig.Policy.PublishTimeoutMs > 0 {
		timeout = time.Duration(c.relayConfig.Policy.PublishTimeoutMs) * time.Millisecond
	}
	publishCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// EnsureRelay takes no context, so race the dial against the publish
	// deadline the same way connect does.
	type dialResult struct {
		relay *nostr.Relay
		err   error
	}
	done := make(chan dialResult, 1)
	go func() {
		relay, err := c.pool.EnsureRelay(url)
		done <- dialResult{relay, err}
	}()

	var relay *nostr.Relay
	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("connect to %s failed: %w", url, res.err)
		}
		relay = res.relay
	case <-publishCtx.Done():
		return fmt.Errorf("connect to %s timed out: %w", url, publishCtx.Err())
	}

	if err := relay.Publish(publishCtx, *event); err != nil {
		return fmt.Errorf("publish to %s failed: %w", url, err)
	}

	c.mu.Lock()
	c.relays[url] = relay
	c.mu.Unlock()
	return nil
}

// SubscribeEvents subscribes to events matching the filters on the given
// relays. The returned channel closes when the context is cancelled.
func (c *Client) SubscribeEvents(ctx context.Context, relays []string, filters nostr.Filters) <-chan *nostr.Event {
	eventChan := make(chan *nostr.Event, 100)

	go func() {
		defer close(eventChan)
		for relayEvent := range c.pool.SubMany(ctx, relays, filters) {
			if relayEvent.Event == nil {
				continue
			}
			select {
			case eventChan <- relayEvent.Event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return eventChan
}

// Close closes all relay connections
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}
