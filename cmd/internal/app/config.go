package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// ErrConfig marks every configuration failure.
var ErrConfig = errors.New("invalid config")

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// Config is the server runtime configuration.
//
// Precedence: DefaultConfig < TOML file < environment < CLI flags.
type Config struct {
	HTTPAddr  string `toml:"http_addr" env:"PIXELPACT_HTTP_ADDR"`
	LogLevel  string `toml:"log_level" env:"PIXELPACT_LOG_LEVEL"`
	LogFormat string `toml:"log_format" env:"PIXELPACT_LOG_FORMAT"`

	ReadHeaderTimeout time.Duration `toml:"read_header_timeout" env:"PIXELPACT_HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `toml:"read_timeout" env:"PIXELPACT_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `toml:"write_timeout" env:"PIXELPACT_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `toml:"idle_timeout" env:"PIXELPACT_HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout" env:"PIXELPACT_HTTP_SHUTDOWN_TIMEOUT"`
	MaxHeaderBytes    int           `toml:"max_header_bytes" env:"PIXELPACT_HTTP_MAX_HEADER_BYTES"`

	// Secret is the master secret. It is read from the environment only.
	Secret       string        `toml:"-" env:"PIXELPACT_SECRET"`
	PublicOrigin string        `toml:"public_origin" env:"PIXELPACT_PUBLIC_ORIGIN"`
	InviteTTL    time.Duration `toml:"invite_ttl" env:"PIXELPACT_INVITE_TTL"`
	InviteIssuer string        `toml:"invite_issuer" env:"PIXELPACT_INVITE_ISSUER"`

	LedgerBackend       string        `toml:"ledger_backend" env:"PIXELPACT_LEDGER_BACKEND"`
	LedgerSQLitePath    string        `toml:"ledger_sqlite_path" env:"PIXELPACT_LEDGER_SQLITE_PATH"`
	LedgerRetention     time.Duration `toml:"ledger_retention" env:"PIXELPACT_LEDGER_RETENTION"`
	LedgerPruneInterval time.Duration `toml:"ledger_prune_interval" env:"PIXELPACT_LEDGER_PRUNE_INTERVAL"`

	DatabaseURL string `toml:"database_url" env:"PIXELPACT_DATABASE_URL"`
	DBSchema    string `toml:"db_schema" env:"PIXELPACT_DB_SCHEMA"`
	DBMaxConns  int32  `toml:"db_max_conns" env:"PIXELPACT_DB_MAX_CONNS"`
	DBMinConns  int32  `toml:"db_min_conns" env:"PIXELPACT_DB_MIN_CONNS"`

	RedisAddr      string `toml:"redis_addr" env:"PIXELPACT_REDIS_ADDR"`
	RedisPassword  string `toml:"-" env:"PIXELPACT_REDIS_PASSWORD"`
	RedisDB        int    `toml:"redis_db" env:"PIXELPACT_REDIS_DB"`
	RedisKeyPrefix string `toml:"redis_key_prefix" env:"PIXELPACT_REDIS_KEY_PREFIX"`

	RedeemPerMinute int           `toml:"redeem_rate_per_minute" env:"PIXELPACT_REDEEM_RATE_PER_MINUTE"`
	TrustProxy      bool          `toml:"trust_proxy" env:"PIXELPACT_TRUST_PROXY"`
	CookieSecure    bool          `toml:"cookie_secure" env:"PIXELPACT_COOKIE_SECURE"`
	CookieSameSite  string        `toml:"cookie_same_site" env:"PIXELPACT_COOKIE_SAMESITE"`
	CookieDomain    string        `toml:"cookie_domain" env:"PIXELPACT_COOKIE_DOMAIN"`
	RetryAfter      time.Duration `toml:"ledger_retry_after" env:"PIXELPACT_LEDGER_RETRY_AFTER"`

	WSAllowedOrigins []string `toml:"ws_allowed_origins" env:"PIXELPACT_WS_ALLOWED_ORIGINS" envSeparator:","`
	WSOriginRequired bool     `toml:"ws_origin_required" env:"PIXELPACT_WS_ORIGIN_REQUIRED"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,

		InviteTTL:    7 * 24 * time.Hour,
		InviteIssuer: "pixelpact",

		LedgerBackend:       LedgerSQLite,
		LedgerSQLitePath:    "pixelpact-ledger.db",
		LedgerRetention:     24 * time.Hour,
		LedgerPruneInterval: 10 * time.Minute,

		DBSchema:   "pixelpact",
		DBMaxConns: 10,

		RedisKeyPrefix: "pixelpact:redeemed:",

		RedeemPerMinute: 30,
		CookieSecure:    true,
		CookieSameSite:  "lax",
		RetryAfter:      5 * time.Second,

		WSAllowedOrigins: []string{"http://localhost", "http://127.0.0.1"},
		WSOriginRequired: true,
	}
}

// Overrides carries CLI flag values; nil fields were not set.
type Overrides struct {
	HTTPAddr      *string
	LogLevel      *string
	LogFormat     *string
	LedgerBackend *string
}

// LoadConfig builds the config from defaults, the optional TOML file at path,
// the environment and then o. The result is validated.
func LoadConfig(path string, o Overrides) (Config, error) {
	cfg := DefaultConfig()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %w", ErrConfig, path, err)
		}
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("%w: decode %s: %w", ErrConfig, path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrConfig, path, strings.Join(keys, ", "))
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %w", ErrConfig, err)
	}

	o.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (o Overrides) apply(cfg *Config) {
	if o.HTTPAddr != nil {
		cfg.HTTPAddr = *o.HTTPAddr
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.LogFormat = *o.LogFormat
	}
	if o.LedgerBackend != nil {
		cfg.LedgerBackend = *o.LedgerBackend
	}
}

// Validate checks cross-field rules. Every failure wraps ErrConfig.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.HTTPAddr) == "" {
		fail("http_addr is required")
	}
	if _, ok := lookupLogLevel(c.LogLevel); !ok {
		fail("log_level %q: want debug, info, warn or error", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty":
	default:
		fail("log_format %q: want json or pretty", c.LogFormat)
	}

	if c.InviteTTL < time.Second {
		fail("invite_ttl must be at least 1s")
	}
	if c.LedgerRetention < 0 {
		fail("ledger_retention must not be negative")
	}
	if c.LedgerPruneInterval <= 0 {
		fail("ledger_prune_interval must be positive")
	}

	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerSQLite:
		if strings.TrimSpace(c.LedgerSQLitePath) == "" {
			fail("ledger_sqlite_path is required for the sqlite ledger")
		}
	case LedgerPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			fail("database_url is required for the postgres ledger")
		}
	case LedgerRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			fail("redis_addr is required for the redis ledger")
		}
	default:
		fail("ledger_backend %q: want memory, sqlite, postgres or redis", c.LedgerBackend)
	}

	if c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		fail("db_min_conns must be between 0 and db_max_conns")
	}

	if err := ValidateSecurityConfig(c); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
}
