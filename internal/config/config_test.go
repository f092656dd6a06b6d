package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "registration enabled by default",
			check:  func(c *Config) bool { return c.RegistrationEnabled },
			expect: "true",
		},
		{
			name:   "secure by default",
			check:  func(c *Config) bool { return c.Secure },
			expect: "true",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default migrations dir",
			check:  func(c *Config) bool { return c.MigrationsDir == "migrations" },
			expect: "migrations",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestBlockedHostsFromEnv(t *testing.T) {
	t.Setenv("RBEAM_BLOCKED_HOSTS", "bad.example.com,worse.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(cfg.BlockedHosts) != 2 {
		t.Fatalf("BlockedHosts = %v, want 2 entries", cfg.BlockedHosts)
	}
	if cfg.BlockedHosts[0] != "bad.example.com" {
		t.Errorf("BlockedHosts[0] = %q", cfg.BlockedHosts[0])
	}
}
