package config

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	ld "github.com/launchdarkly/go-server-sdk/v7"

	"github.com/poofware/passkey-service/internal/utils"
)

// Config holds all application configuration. Defaults() documents every
// default; Load overlays the environment and LaunchDarkly flags once at
// startup.
type Config struct {
	OrganizationName string
	AppName          string
	Env              string `env:"ENV"`
	AppPort          string `env:"APP_PORT"`
	AppUrl           string `env:"APP_URL_FROM_ANYWHERE"`
	// Empty DBUrl selects the in-memory store.
	DBUrl string `env:"DB_URL"`

	// Relying party
	RPName       string        `env:"PASSKEY_RP_NAME"`
	RPID         string        `env:"PASSKEY_RP_ID"`
	RPOrigins    []string      `env:"PASSKEY_RP_ORIGINS" envSeparator:","`
	ChallengeTTL time.Duration `env:"PASSKEY_CHALLENGE_TTL"`

	// Maintenance
	InactiveSweepEnabled   bool          `env:"PASSKEY_INACTIVE_SWEEP_ENABLED"`
	InactiveDays           int           `env:"PASSKEY_INACTIVE_DAYS"`
	SweepIntervalEnabled   bool          `env:"PASSKEY_SWEEP_INTERVAL_ENABLED"`
	SweepInterval          time.Duration `env:"PASSKEY_SWEEP_INTERVAL"`
	ChallengePurgeInterval time.Duration
	HousekeepingSchedule   string

	RateLimits RatePolicyTable `envPrefix:"PASSKEY_RATE_"`

	// Sessions
	TokenExpiry        time.Duration `env:"PASSKEY_TOKEN_EXPIRY"`
	RefreshTokenExpiry time.Duration `env:"PASSKEY_REFRESH_TOKEN_EXPIRY"`
	RSAPrivateKey      *rsa.PrivateKey
	RSAPublicKey       *rsa.PublicKey

	// Static flags fetched once from LaunchDarkly
	LDFlag_ShortChallengeTTL bool
	LDFlag_CORSHighSecurity  bool
}

const (
	DefaultEnv                    = "dev"
	DefaultAppPort                = "8080"
	DefaultRPID                   = "localhost"
	DefaultChallengeTTL           = 5 * time.Minute
	TestShortChallengeTTL         = 3 * time.Second
	DefaultInactiveDays           = 30
	DefaultSweepInterval          = 24 * time.Hour
	ChallengePurgeInterval        = 1 * time.Hour
	DefaultHousekeepingSchedule   = "10 3 * * *"
	DefaultRegisterRateWindow     = 300 * time.Second
	DefaultRegisterRateMax        = 3
	DefaultAuthenticateRateWindow = 60 * time.Second
	DefaultAuthenticateRateMax    = 5
	DefaultGlobalRateWindow       = 60 * time.Second
	DefaultGlobalRateMax          = 30
	DefaultPeerRateWindow         = 60 * time.Second
	DefaultPeerRateMax            = 300
	DefaultTokenExpiry            = 10 * time.Minute
	DefaultRefreshTokenExpiry     = 7 * 24 * time.Hour
	LDConnectionTimeout           = 5 * time.Second
	devRSAKeyBits                 = 2048
)

// Overridable with ldflags at build time.
var (
	AppName             = "passkey-service"
	LDServerContextKey  = "passkey-service"
	LDServerContextKind = "service"
)

// secretEnv never ends up in Config verbatim.
type secretEnv struct {
	RSAPrivateKeyBase64 string `env:"RSA_PRIVATE_KEY_BASE64"`
	RSAPublicKeyBase64  string `env:"RSA_PUBLIC_KEY_BASE64"`
	LDSDKKey            string `env:"LD_SDK_KEY"`
}

// Defaults returns a Config with every documented default filled in and
// no keys.
func Defaults() *Config {
	return &Config{
		OrganizationName:       utils.OrganizationName,
		AppName:                AppName,
		Env:                    DefaultEnv,
		AppPort:                DefaultAppPort,
		AppUrl:                 "http://localhost:" + DefaultAppPort,
		RPName:                 utils.OrganizationName,
		RPID:                   DefaultRPID,
		RPOrigins:              []string{"http://localhost:" + DefaultAppPort},
		ChallengeTTL:           DefaultChallengeTTL,
		InactiveSweepEnabled:   true,
		InactiveDays:           DefaultInactiveDays,
		SweepIntervalEnabled:   true,
		SweepInterval:          DefaultSweepInterval,
		ChallengePurgeInterval: ChallengePurgeInterval,
		HousekeepingSchedule:   DefaultHousekeepingSchedule,
		RateLimits:             DefaultRatePolicyTable(),
		TokenExpiry:            DefaultTokenExpiry,
		RefreshTokenExpiry:     DefaultRefreshTokenExpiry,
	}
}

// LoadConfig is Load for main: any error is fatal.
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to load config")
	}
	return cfg
}

// Load resolves the configuration: defaults, then environment, then
// LaunchDarkly flags (only when LD_SDK_KEY is set), then validation.
func Load() (*Config, error) {
	utils.Logger.Info("Loading config for app: ", AppName)

	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	var secrets secretEnv
	if err := env.Parse(&secrets); err != nil {
		return nil, fmt.Errorf("parse secret env: %w", err)
	}

	if err := cfg.loadKeys(secrets); err != nil {
		return nil, err
	}

	if secrets.LDSDKKey != "" {
		if err := cfg.loadFlags(secrets.LDSDKKey); err != nil {
			return nil, err
		}
	} else {
		utils.Logger.Debug("LD_SDK_KEY not set; using default flag values")
	}

	if cfg.LDFlag_ShortChallengeTTL {
		cfg.ChallengeTTL = TestShortChallengeTTL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction gates row-count logging and the dev key fallback.
func (c *Config) IsProduction() bool {
	return c.Env == utils.EnvProd
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.AppPort == "" {
		errs = append(errs, errors.New("APP_PORT is empty"))
	}
	if c.RPID == "" {
		errs = append(errs, errors.New("PASSKEY_RP_ID is empty"))
	}
	if c.RPName == "" {
		errs = append(errs, errors.New("PASSKEY_RP_NAME is empty"))
	}
	if len(c.RPOrigins) == 0 {
		errs = append(errs, errors.New("PASSKEY_RP_ORIGINS is empty"))
	}
	if c.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("PASSKEY_CHALLENGE_TTL must be positive"))
	}
	if c.SweepIntervalEnabled && c.SweepInterval <= 0 {
		errs = append(errs, errors.New("PASSKEY_SWEEP_INTERVAL must be positive when enabled"))
	}
	if c.ChallengePurgeInterval <= 0 {
		errs = append(errs, errors.New("challenge purge interval must be positive"))
	}
	for _, rule := range c.RateLimits.Rules() {
		if rule.Policy.Window <= 0 || rule.Policy.MaxAttempts <= 0 {
			errs = append(errs, fmt.Errorf("rate policy %q needs a positive window and max attempts", rule.Name))
		}
	}
	if c.TokenExpiry <= 0 || c.RefreshTokenExpiry <= 0 {
		errs = append(errs, errors.New("token expiries must be positive"))
	}
	return errors.Join(errs...)
}

// InactiveSweepActive reports whether the inactive-credential sweep runs at
// all. A non-positive InactiveDays disables it like the flag does.
func (c *Config) InactiveSweepActive() bool {
	return c.InactiveSweepEnabled && c.InactiveDays > 0
}

func (c *Config) loadKeys(secrets secretEnv) error {
	if secrets.RSAPrivateKeyBase64 == "" {
		if c.IsProduction() {
			return errors.New("RSA_PRIVATE_KEY_BASE64 is required in production")
		}
		utils.Logger.Warn("RSA_PRIVATE_KEY_BASE64 not set; generating an ephemeral signing key")
		key, err := rsa.GenerateKey(rand.Reader, devRSAKeyBits)
		if err != nil {
			return fmt.Errorf("generate dev RSA key: %w", err)
		}
		c.RSAPrivateKey = key
		c.RSAPublicKey = &key.PublicKey
		return nil
	}

	privateKeyPEM, err := base64.StdEncoding.DecodeString(secrets.RSAPrivateKeyBase64)
	if err != nil {
		return fmt.Errorf("decode base64 private key: %w", err)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return fmt.Errorf("parse RSA private key: %w", err)
	}
	c.RSAPrivateKey = privateKey
	c.RSAPublicKey = &privateKey.PublicKey

	if secrets.RSAPublicKeyBase64 != "" {
		publicKeyPEM, err := base64.StdEncoding.DecodeString(secrets.RSAPublicKeyBase64)
		if err != nil {
			return fmt.Errorf("decode base64 public key: %w", err)
		}
		publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
		if err != nil {
			return fmt.Errorf("parse RSA public key: %w", err)
		}
		c.RSAPublicKey = publicKey
	}
	return nil
}

func (c *Config) loadFlags(sdkKey string) error {
	ldClient, err := ld.MakeClient(sdkKey, LDConnectionTimeout)
	if err != nil {
		return fmt.Errorf("create LaunchDarkly client: %w", err)
	}
	defer ldClient.Close()
	if !ldClient.Initialized() {
		return errors.New("LaunchDarkly client failed to initialize")
	}

	context := ldcontext.NewWithKind(ldcontext.Kind(LDServerContextKind), LDServerContextKey)

	shortTTL, err := ldClient.BoolVariation("short_challenge_ttl", context, false)
	if err != nil {
		return fmt.Errorf("retrieve short_challenge_ttl flag: %w", err)
	}
	utils.Logger.Debugf("short_challenge_ttl flag: %t", shortTTL)

	corsHighSecurity, err := ldClient.BoolVariation("cors_high_security", context, false)
	if err != nil {
		return fmt.Errorf("retrieve cors_high_security flag: %w", err)
	}
	utils.Logger.Debugf("cors_high_security flag: %t", corsHighSecurity)

	c.LDFlag_ShortChallengeTTL = shortTTL
	c.LDFlag_CORSHighSecurity = corsHighSecurity
	return nil
}
