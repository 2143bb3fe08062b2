package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete tides configuration
type Config struct {
	Identity  Identity  `yaml:"identity"`
	Relays    Relays    `yaml:"relays"`
	Discovery Discovery `yaml:"discovery"`
	Messaging Messaging `yaml:"messaging"`
	Store     Store     `yaml:"store"`
	Logging   Logging   `yaml:"logging"`
}

// Identity contains the Nostr identity of the local user
type Identity struct {
	Npub string `yaml:"npub"` // Public key, bech32 encoded
	Nsec string `yaml:"-"`    // Private key, only from TIDES_NSEC env var
}

// Pubkey returns the hex-encoded public key decoded from the npub
func (i *Identity) Pubkey() (string, error) {
	prefix, value, err := nip19.Decode(i.Npub)
	if err != nil {
		return "", fmt.Errorf("failed to decode npub: %w", err)
	}
	if prefix != "npub" {
		return "", fmt.Errorf("expected npub, got %s", prefix)
	}
	return value.(string), nil
}

// PrivateKey returns the hex-encoded private key decoded from the nsec,
// or empty string when no private key is configured
func (i *Identity) PrivateKey() (string, error) {
	if i.Nsec == "" {
		return "", nil
	}
	prefix, value, err := nip19.Decode(i.Nsec)
	if err != nil {
		return "", fmt.Errorf("failed to decode nsec: %w", err)
	}
	if prefix != "nsec" {
		return "", fmt.Errorf("expected nsec, got %s", prefix)
	}
	return value.(string), nil
}

// Relays contains relay configuration
type Relays struct {
	Defaults []string    `yaml:"defaults"`
	Policy   RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection and query budgets.
// Fanout caps and timeouts are tuned constants, kept configurable on purpose.
type RelayPolicy struct {
	ConnectTimeoutMs     int `yaml:"connect_timeout_ms"`
	QueryTimeoutMs       int `yaml:"query_timeout_ms"`        // background conversations
	ActiveQueryTimeoutMs int `yaml:"active_query_timeout_ms"` // active conversation
	PublishTimeoutMs     int `yaml:"publish_timeout_ms"`      // per relay attempt
	BackgroundFanout     int `yaml:"background_fanout"`
	ActiveFanout         int `yaml:"active_fanout"`
	MaxPublishRelays     int `yaml:"max_publish_relays"`
}

// Discovery contains relay discovery settings
type Discovery struct {
	CacheTTLSeconds    int  `yaml:"cache_ttl_seconds"`
	FallbackToDefaults bool `yaml:"fallback_to_defaults"`
	MaxRelaysPerUser   int  `yaml:"max_relays_per_user"`
}

// Messaging contains message sync and send settings
type Messaging struct {
	BackfillWindowsDays []int    `yaml:"backfill_windows_days"`
	WrapOutgoing        bool     `yaml:"wrap_outgoing"`  // gift-wrap sends when the peer supports kind 14
	UseNegentropy       bool     `yaml:"use_negentropy"` // NIP-77 reconciliation as extra backfill stage
	SpamMarkers         []string `yaml:"spam_markers"`   // top-level JSON keys that mark non-conversational payloads
	CapabilityLimit     int      `yaml:"capability_limit"`
}

// Store contains key-value store settings
type Store struct {
	Driver   string `yaml:"driver"` // memory|redis
	RedisURL string `yaml:"redis_url"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStoreDrivers = map[string]bool{
	"memory": true,
	"redis":  true,
}

// Load reads, parses, and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.Relays.Defaults) == 0 {
		cfg.Relays.Defaults = []string{
			"wss://relay.damus.io",
			"wss://nos.lol",
			"wss://relay.nostr.band",
		}
	}
	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = 5000
	}
	if cfg.Relays.Policy.QueryTimeoutMs == 0 {
		cfg.Relays.Policy.QueryTimeoutMs = 3000
	}
	if cfg.Relays.Policy.ActiveQueryTimeoutMs == 0 {
		cfg.Relays.Policy.ActiveQueryTimeoutMs = 8000
	}
	if cfg.Relays.Policy.PublishTimeoutMs == 0 {
		cfg.Relays.Policy.PublishTimeoutMs = 4000
	}
	if cfg.Relays.Policy.BackgroundFanout == 0 {
		cfg.Relays.Policy.BackgroundFanout = 6
	}
	if cfg.Relays.Policy.ActiveFanout == 0 {
		cfg.Relays.Policy.ActiveFanout = 15
	}
	if cfg.Relays.Policy.MaxPublishRelays == 0 {
		cfg.Relays.Policy.MaxPublishRelays = 20
	}
	if cfg.Discovery.CacheTTLSeconds == 0 {
		cfg.Discovery.CacheTTLSeconds = 3600
		cfg.Discovery.FallbackToDefaults = true
	}
	if cfg.Discovery.MaxRelaysPerUser == 0 {
		cfg.Discovery.MaxRelaysPerUser = 6
	}
	if len(cfg.Messaging.BackfillWindowsDays) == 0 {
		cfg.Messaging.BackfillWindowsDays = []int{30, 90, 365}
	}
	if len(cfg.Messaging.SpamMarkers) == 0 {
		cfg.Messaging.SpamMarkers = []string{"kind", "sig", "bolt11", "invoice", "offer"}
	}
	if cfg.Messaging.CapabilityLimit == 0 {
		cfg.Messaging.CapabilityLimit = 4096
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func applyEnvOverrides(cfg *Config) {
	if nsec := os.Getenv("TIDES_NSEC"); nsec != "" {
		cfg.Identity.Nsec = nsec
	}
	if redisURL := os.Getenv("TIDES_REDIS_URL"); redisURL != "" {
		cfg.Store.RedisURL = redisURL
	}
}

// Validate checks the configuration for errors
func Validate(cfg *Config) error {
	if cfg.Identity.Npub == "" {
		return fmt.Errorf("identity.npub is required")
	}
	if !strings.HasPrefix(cfg.Identity.Npub, "npub1") {
		return fmt.Errorf("identity.npub must start with 'npub1'")
	}

	if len(cfg.Relays.Defaults) == 0 {
		return fmt.Errorf("at least one default relay is required")
	}
	for _, relay := range cfg.Relays.Defaults {
		if !strings.HasPrefix(relay, "wss://") && !strings.HasPrefix(relay, "ws://") {
			return fmt.Errorf("relay must start with ws:// or wss://: %s", relay)
		}
	}

	for _, days := range cfg.Messaging.BackfillWindowsDays {
		if days <= 0 {
			return fmt.Errorf("backfill windows must be positive, got %d", days)
		}
	}

	if !validStoreDrivers[cfg.Store.Driver] {
		return fmt.Errorf("invalid store driver: %s (must be one of: memory, redis)", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "redis" && cfg.Store.RedisURL == "" {
		return fmt.Errorf("store.redis_url is required when driver is redis")
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", cfg.Logging.Format)
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
