package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultChallengeTTL, cfg.ChallengeTTL)
	assert.Equal(t, 30, cfg.InactiveDays)
	assert.Equal(t, 24*time.Hour, cfg.SweepInterval)
	assert.Equal(t, RatePolicy{Window: 300 * time.Second, MaxAttempts: 3}, cfg.RateLimits.Register)
	assert.Equal(t, RatePolicy{Window: 60 * time.Second, MaxAttempts: 5}, cfg.RateLimits.Authenticate)
	assert.Equal(t, RatePolicy{Window: 60 * time.Second, MaxAttempts: 30}, cfg.RateLimits.Global)
	assert.Equal(t, RatePolicy{Window: 60 * time.Second, MaxAttempts: 300}, cfg.RateLimits.Peer)
	assert.True(t, cfg.InactiveSweepActive())
}

func TestLoadOverlaysEnvironment(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("RSA_PRIVATE_KEY_BASE64", "")
	t.Setenv("LD_SDK_KEY", "")
	t.Setenv("PASSKEY_RP_ID", "example.com")
	t.Setenv("PASSKEY_RP_ORIGINS", "https://example.com,https://app.example.com")
	t.Setenv("PASSKEY_CHALLENGE_TTL", "90s")
	t.Setenv("PASSKEY_INACTIVE_DAYS", "7")
	t.Setenv("PASSKEY_RATE_REGISTER_MAX_ATTEMPTS", "10")
	t.Setenv("PASSKEY_RATE_GLOBAL_WINDOW", "2m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "example.com", cfg.RPID)
	assert.Equal(t, []string{"https://example.com", "https://app.example.com"}, cfg.RPOrigins)
	assert.Equal(t, 90*time.Second, cfg.ChallengeTTL)
	assert.Equal(t, 7, cfg.InactiveDays)
	assert.Equal(t, 10, cfg.RateLimits.Register.MaxAttempts)
	assert.Equal(t, 300*time.Second, cfg.RateLimits.Register.Window)
	assert.Equal(t, 2*time.Minute, cfg.RateLimits.Global.Window)
	assert.NotNil(t, cfg.RSAPrivateKey, "dev falls back to an ephemeral key")
	assert.NotNil(t, cfg.RSAPublicKey)
}

func TestLoadRequiresKeyInProduction(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("RSA_PRIVATE_KEY_BASE64", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RSA_PRIVATE_KEY_BASE64")
}

func TestLoadRejectsBadKey(t *testing.T) {
	t.Setenv("RSA_PRIVATE_KEY_BASE64", "not base64!")
	t.Setenv("LD_SDK_KEY", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty rp id", func(c *Config) { c.RPID = "" }, "PASSKEY_RP_ID"},
		{"no origins", func(c *Config) { c.RPOrigins = nil }, "PASSKEY_RP_ORIGINS"},
		{"zero ttl", func(c *Config) { c.ChallengeTTL = 0 }, "PASSKEY_CHALLENGE_TTL"},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }, "PASSKEY_SWEEP_INTERVAL"},
		{"zero rate max", func(c *Config) { c.RateLimits.Authenticate.MaxAttempts = 0 }, `"authenticate"`},
		{"negative peer max", func(c *Config) { c.RateLimits.Peer.MaxAttempts = -1 }, `"peer"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("disabled sweep ignores interval", func(t *testing.T) {
		cfg := Defaults()
		cfg.SweepIntervalEnabled = false
		cfg.SweepInterval = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("peer ceiling can be disabled", func(t *testing.T) {
		cfg := Defaults()
		cfg.RateLimits.Peer = RatePolicy{}
		assert.NoError(t, cfg.Validate())
	})
}

func TestInactiveSweepActive(t *testing.T) {
	cfg := Defaults()
	cfg.InactiveDays = 0
	assert.False(t, cfg.InactiveSweepActive())

	cfg = Defaults()
	cfg.InactiveSweepEnabled = false
	assert.False(t, cfg.InactiveSweepActive())
}

func TestRulesFor(t *testing.T) {
	table := DefaultRatePolicyTable()

	names := func(rules []RateRule) []string {
		var out []string
		for _, r := range rules {
			out = append(out, r.Name)
		}
		return out
	}

	assert.Equal(t, []string{"peer", "global", "register"}, names(table.RulesFor("/passkey/register")))
	assert.Equal(t, []string{"peer", "global", "authenticate"}, names(table.RulesFor("/passkey/authenticate/")))
	assert.Equal(t, []string{"peer", "global"}, names(table.RulesFor("/passkey/challenge")))
	assert.Empty(t, table.RulesFor("/health"))
	assert.True(t, table.Rules()[0].ByPeer)

	table.Peer.MaxAttempts = 0
	assert.Equal(t, []string{"global", "register"}, names(table.RulesFor("/passkey/register")))
}
