package nostr

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	gonostr "github.com/nbd-wtf/go-nostr"

	"github.com/arbadacarbaYK/tides/internal/config"
	"github.com/arbadacarbaYK/tides/internal/ops"
)

// stalledListener accepts TCP connections but never completes a
// websocket handshake, simulating a relay that hangs on dial.
func stalledListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go io.Copy(io.Discard, conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln
}

func testLogger() *ops.Logger {
	return ops.NewLogger(&config.Logging{Level: "error", Format: "text"})
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Relays{
		Defaults: []string{"wss://relay.test"},
		Policy: config.RelayPolicy{
			ConnectTimeoutMs: 5000,
		},
	}

	client := New(ctx, cfg, testLogger())
	if client == nil {
		t.Fatal("Expected client, got nil")
	}
	defer client.Close()

	if got := client.ConnectedRelays(); len(got) != 0 {
		t.Errorf("fresh client should have no connected relays, got %v", got)
	}
}

func TestDefaultRelays(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Relays
		expected []string
	}{
		{
			name: "with default relays",
			cfg: &config.Relays{
				Defaults: []string{"wss://relay1.test", "wss://relay2.test"},
			},
			expected: []string{"wss://relay1.test", "wss://relay2.test"},
		},
		{
			name:     "nil config",
			cfg:      nil,
			expected: []string{},
		},
		{
			name:     "empty defaults",
			cfg:      &config.Relays{Defaults: []string{}},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			client := New(ctx, tt.cfg, testLogger())
			defer client.Close()

			relays := client.DefaultRelays()
			if len(relays) != len(tt.expected) {
				t.Errorf("Expected %d relays, got %d", len(tt.expected), len(relays))
			}
		})
	}
}

func TestConnectTimeout(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Relays
		expected time.Duration
	}{
		{
			name: "with timeout",
			cfg: &config.Relays{
				Policy: config.RelayPolicy{ConnectTimeoutMs: 2000},
			},
			expected: 2 * time.Second,
		},
		{
			name:     "nil config",
			cfg:      nil,
			expected: 5 * time.Second,
		},
		{
			name: "zero timeout",
			cfg: &config.Relays{
				Policy: config.RelayPolicy{ConnectTimeoutMs: 0},
			},
			expected: 5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			client := New(ctx, tt.cfg, testLogger())
			defer client.Close()

			timeout := client.ConnectTimeout()
			if timeout != tt.expected {
				t.Errorf("Expected timeout %v, got %v", tt.expected, timeout)
			}
		})
	}
}

func TestConnectStalledRelayHonorsTimeout(t *testing.T) {
	ln := stalledListener(t)

	ctx := context.Background()
	cfg := &config.Relays{
		Policy: config.RelayPolicy{ConnectTimeoutMs: 200},
	}
	client := New(ctx, cfg, testLogger())
	defer client.Close()

	start := time.Now()
	ok := client.EnsureSpecificConnections(ctx, []string{"ws://" + ln.Addr().String()})
	if ok {
		t.Error("stalled relay should not report a connection")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("connect took %v, expected it bounded by the connect timeout", elapsed)
	}
}

func TestPublishStalledRelayHonorsTimeout(t *testing.T) {
	ln := stalledListener(t)

	ctx := context.Background()
	cfg := &config.Relays{
		Policy: config.RelayPolicy{PublishTimeoutMs: 200},
	}
	client := New(ctx, cfg, testLogger())
	defer client.Close()

	event := &gonostr.Event{
		Kind:      gonostr.KindTextNote,
		Content:   "hello",
		CreatedAt: gonostr.Now(),
	}

	start := time.Now()
	err := client.Publish(ctx, "ws://"+ln.Addr().String(), event)
	if err == nil {
		t.Fatal("expected publish to a stalled relay to fail")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("publish took %v, expected it bounded by the publish timeout", elapsed)
	}
}

func TestEnsureSpecificConnectionsEmptyBatch(t *testing.T) {
	ctx := context.Background()
	client := New(ctx, &config.Relays{}, testLogger())
	defer client.Close()

	if client.EnsureSpecificConnections(ctx, nil) {
		t.Error("empty batch should report failure")
	}
	if client.EnsureSpecificConnections(ctx, []string{""}) {
		t.Error("batch of invalid URLs should report failure")
	}
}
