package engine

import (
	"log/slog"
	"time"
)

// Default lifetimes and device-flow parameters applied to zero-valued config.
const (
	DefaultAccessTokenTTL       = 10 * time.Minute
	DefaultIDTokenTTL           = 10 * time.Minute
	DefaultAuthorizationCodeTTL = 10 * time.Minute
	DefaultDeviceCodeTTL        = 10 * time.Minute

	// DefaultRefreshTokenMultiplier scales the access-token lifetime into the
	// refresh-token lifetime.
	DefaultRefreshTokenMultiplier = 6

	// DefaultDevicePollInterval is the minimum seconds between device polls.
	DefaultDevicePollInterval = 5 * time.Second

	// DefaultUserCodeLength is the length of the human-enterable device code.
	DefaultUserCodeLength = 8
)

// Config holds the protocol engine configuration.
type Config struct {
	// Issuer is the external base URL of this provider, stamped into the iss
	// claim and used to build verification and redirect URLs.
	Issuer string

	// AccessTokenTTL is the lifetime of issued access tokens.
	// Clients may carry a per-client override.
	AccessTokenTTL time.Duration

	// IDTokenTTL is the lifetime of issued ID tokens.
	IDTokenTTL time.Duration

	// AuthorizationCodeTTL is the lifetime of authorization codes and
	// federation codes.
	AuthorizationCodeTTL time.Duration

	// RefreshTokenMultiplier scales AccessTokenTTL into the refresh-token
	// lifetime (refresh TTL = multiplier x access TTL).
	RefreshTokenMultiplier int

	// DeviceCodeTTL is how long a device authorization stays redeemable.
	DeviceCodeTTL time.Duration

	// DevicePollInterval is the minimum interval device clients are told to
	// wait between token polls.
	DevicePollInterval time.Duration

	// DeviceSuccessPath and DeviceCancelPath are the user-facing confirmation
	// pages the browser is sent to after approving or cancelling a device
	// authorization. Resolved relative to Issuer.
	DeviceSuccessPath string
	DeviceCancelPath  string

	// AllowPKCEPlain permits the deprecated "plain" code_challenge_method.
	// S256 is always accepted.
	AllowPKCEPlain bool
}

// applySecureDefaults fills zero values with safe defaults and logs what was
// applied so operators can see the effective configuration.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	cfg := *config

	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
		logger.Debug("Using default access token TTL", "ttl", cfg.AccessTokenTTL)
	}
	if cfg.IDTokenTTL == 0 {
		cfg.IDTokenTTL = DefaultIDTokenTTL
	}
	if cfg.AuthorizationCodeTTL == 0 {
		cfg.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if cfg.RefreshTokenMultiplier <= 0 {
		cfg.RefreshTokenMultiplier = DefaultRefreshTokenMultiplier
	}
	if cfg.DeviceCodeTTL == 0 {
		cfg.DeviceCodeTTL = DefaultDeviceCodeTTL
	}
	if cfg.DevicePollInterval == 0 {
		cfg.DevicePollInterval = DefaultDevicePollInterval
	}
	if cfg.DeviceSuccessPath == "" {
		cfg.DeviceSuccessPath = "/device/auth/success"
	}
	if cfg.DeviceCancelPath == "" {
		cfg.DeviceCancelPath = "/device/auth/cancel"
	}

	return &cfg
}

// accessTokenTTLFor returns the client's access-token lifetime, falling back
// to the engine default when the client carries no override.
func (c *Config) accessTokenTTLFor(seconds int64) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return c.AccessTokenTTL
}

// refreshTokenTTL derives the refresh-token lifetime from an access-token
// lifetime.
func (c *Config) refreshTokenTTL(accessTTL time.Duration) time.Duration {
	return accessTTL * time.Duration(c.RefreshTokenMultiplier)
}
