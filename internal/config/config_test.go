package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testNpub = "npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tides.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
identity:
  npub: "`+testNpub+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Relays.Defaults) == 0 {
		t.Error("expected default relays")
	}
	if got := cfg.Relays.Policy.BackgroundFanout; got != 6 {
		t.Errorf("background fanout = %d, want 6", got)
	}
	if got := cfg.Relays.Policy.ActiveFanout; got != 15 {
		t.Errorf("active fanout = %d, want 15", got)
	}
	if got := cfg.Relays.Policy.MaxPublishRelays; got != 20 {
		t.Errorf("max publish relays = %d, want 20", got)
	}
	if got := len(cfg.Messaging.BackfillWindowsDays); got != 3 {
		t.Errorf("backfill windows = %d, want 3", got)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid defaults",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "missing npub",
			mutate:  func(cfg *Config) { cfg.Identity.Npub = "" },
			wantErr: true,
		},
		{
			name:    "npub wrong prefix",
			mutate:  func(cfg *Config) { cfg.Identity.Npub = "nsec1abc" },
			wantErr: true,
		},
		{
			name:    "relay without ws scheme",
			mutate:  func(cfg *Config) { cfg.Relays.Defaults = []string{"https://example.com"} },
			wantErr: true,
		},
		{
			name:    "negative backfill window",
			mutate:  func(cfg *Config) { cfg.Messaging.BackfillWindowsDays = []int{-1} },
			wantErr: true,
		},
		{
			name:    "unknown store driver",
			mutate:  func(cfg *Config) { cfg.Store.Driver = "postgres" },
			wantErr: true,
		},
		{
			name:    "redis without url",
			mutate:  func(cfg *Config) { cfg.Store.Driver = "redis" },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Identity.Npub = testNpub
			tt.mutate(cfg)

			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TIDES_NSEC", "nsec1test")
	t.Setenv("TIDES_REDIS_URL", "redis://localhost:6379/1")

	path := writeConfig(t, `
identity:
  npub: "`+testNpub+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Identity.Nsec != "nsec1test" {
		t.Errorf("nsec not taken from environment")
	}
	if cfg.Store.RedisURL != "redis://localhost:6379/1" {
		t.Errorf("redis url not taken from environment")
	}
}

func TestGetExampleConfig(t *testing.T) {
	data, err := GetExampleConfig()
	if err != nil {
		t.Fatalf("GetExampleConfig failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("example config is empty")
	}
}
