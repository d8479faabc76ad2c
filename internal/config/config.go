package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env      string `mapstructure:"CP_ENV"`
	HTTPAddr string `mapstructure:"CP_HTTP_ADDR"`
	LogFile  string `mapstructure:"CP_LOG_FILE"`

	Storage  StorageConfig  `mapstructure:",squash"`
	Chains   ChainConfig    `mapstructure:",squash"`
	Prices   PriceConfig    `mapstructure:",squash"`
	Quotes   QuoteConfig    `mapstructure:",squash"`
	Sessions SessionConfig  `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type StorageConfig struct {
	KVBackend string `mapstructure:"CP_KV_BACKEND"` // "memory", "redis"
	RedisURL  string `mapstructure:"CP_REDIS_URL"`
	// PostgresDSN enables the quote-run history. A "sqlite:" prefix selects
	// the embedded SQLite driver; empty disables recording.
	PostgresDSN string `mapstructure:"CP_POSTGRES_DSN"`
}

type ChainConfig struct {
	CatalogPath    string `mapstructure:"CP_CATALOG_PATH"`
	TransactAPIURL string `mapstructure:"CP_TRANSACT_API_URL"`
	// RPCURLs maps chain ID to JSON-RPC endpoint, from "1=https://...,42161=https://...".
	RPCURLs      map[string]string `mapstructure:"-"`
	AllowanceTTL time.Duration     `mapstructure:"CP_ALLOWANCE_TTL"`
}

type PriceConfig struct {
	Provider        string        `mapstructure:"CP_PRICE_PROVIDER"` // "binance", "mock"
	BinanceURL      string        `mapstructure:"CP_PRICE_BINANCE_URL"`
	TTL             time.Duration `mapstructure:"CP_PRICE_TTL"`
	RefreshInterval time.Duration `mapstructure:"CP_PRICE_REFRESH_INTERVAL"`
	MockBasePrice   float64       `mapstructure:"CP_PRICE_MOCK_BASE_PRICE"`
	MockVolatility  float64       `mapstructure:"CP_PRICE_MOCK_VOLATILITY"`
}

type QuoteConfig struct {
	ReadinessTimeout     time.Duration `mapstructure:"CP_READINESS_TIMEOUT"`
	RequoteSettle        time.Duration `mapstructure:"CP_REQUOTE_SETTLE"`
	RequoteMaxWait       time.Duration `mapstructure:"CP_REQUOTE_MAX_WAIT"`
	IncompatibleFallback bool          `mapstructure:"CP_QUOTE_INCOMPATIBLE_FALLBACK"`
}

type SessionConfig struct {
	TTL time.Duration `mapstructure:"CP_SESSION_TTL"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"CP_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"CP_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CP_ENV", "dev")
	v.SetDefault("CP_HTTP_ADDR", ":8080")
	v.SetDefault("CP_LOG_FILE", "")
	v.SetDefault("CP_KV_BACKEND", "memory")
	v.SetDefault("CP_REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("CP_POSTGRES_DSN", "")
	v.SetDefault("CP_CATALOG_PATH", "configs/catalog.yaml")
	v.SetDefault("CP_TRANSACT_API_URL", "http://localhost:8545")
	v.SetDefault("CP_CHAIN_RPC_URLS", "")
	v.SetDefault("CP_ALLOWANCE_TTL", "30s")
	v.SetDefault("CP_PRICE_PROVIDER", "binance")
	v.SetDefault("CP_PRICE_BINANCE_URL", "https://api.binance.com")
	v.SetDefault("CP_PRICE_TTL", "30s")
	v.SetDefault("CP_PRICE_REFRESH_INTERVAL", "15s")
	v.SetDefault("CP_PRICE_MOCK_BASE_PRICE", 2000.0)
	v.SetDefault("CP_PRICE_MOCK_VOLATILITY", 0.002)
	v.SetDefault("CP_READINESS_TIMEOUT", "7s")
	v.SetDefault("CP_REQUOTE_SETTLE", "250ms")
	v.SetDefault("CP_REQUOTE_MAX_WAIT", "1s")
	v.SetDefault("CP_QUOTE_INCOMPATIBLE_FALLBACK", false)
	v.SetDefault("CP_SESSION_TTL", "30m")
	v.SetDefault("CP_RATE_LIMIT_RPM", 120)
	v.SetDefault("CP_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// Comma-separated values
	if origins := v.GetString("CP_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("CP_CORS_ALLOWED_ORIGINS", splitList(origins))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	rpcs, err := parseRPCURLs(v.GetString("CP_CHAIN_RPC_URLS"))
	if err != nil {
		return nil, fmt.Errorf("invalid CP_CHAIN_RPC_URLS: %w", err)
	}
	cfg.Chains.RPCURLs = rpcs

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseRPCURLs(s string) (map[string]string, error) {
	urls := make(map[string]string)
	for _, pair := range splitList(s) {
		chain, url, ok := strings.Cut(pair, "=")
		chain, url = strings.TrimSpace(chain), strings.TrimSpace(url)
		if !ok || chain == "" || url == "" {
			return nil, fmt.Errorf("expected chainId=url, got %q", pair)
		}
		urls[chain] = url
	}
	return urls, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case "dev", "prod", "test":
	default:
		return fmt.Errorf("invalid CP_ENV %q (must be dev, test, or prod)", c.Env)
	}
	switch c.Storage.KVBackend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("CP_REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid CP_KV_BACKEND %q (must be memory or redis)", c.Storage.KVBackend)
	}
	if c.Chains.CatalogPath == "" {
		return fmt.Errorf("CP_CATALOG_PATH is required")
	}
	if c.Chains.TransactAPIURL == "" {
		return fmt.Errorf("CP_TRANSACT_API_URL is required")
	}
	switch c.Prices.Provider {
	case "binance":
		if c.Prices.BinanceURL == "" {
			return fmt.Errorf("CP_PRICE_BINANCE_URL is required for the binance provider")
		}
	case "mock":
		if c.Prices.MockBasePrice <= 0 {
			return fmt.Errorf("CP_PRICE_MOCK_BASE_PRICE must be positive")
		}
	default:
		return fmt.Errorf("invalid CP_PRICE_PROVIDER %q (must be binance or mock)", c.Prices.Provider)
	}
	if c.Prices.TTL <= 0 || c.Prices.RefreshInterval <= 0 {
		return fmt.Errorf("CP_PRICE_TTL and CP_PRICE_REFRESH_INTERVAL must be positive")
	}
	if c.Quotes.ReadinessTimeout <= 0 {
		return fmt.Errorf("CP_READINESS_TIMEOUT must be positive")
	}
	if c.Quotes.RequoteSettle <= 0 || c.Quotes.RequoteMaxWait < c.Quotes.RequoteSettle {
		return fmt.Errorf("CP_REQUOTE_MAX_WAIT must be at least CP_REQUOTE_SETTLE")
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("CP_SESSION_TTL must be positive")
	}
	if c.Security.RateLimitRPM < 6 {
		return fmt.Errorf("CP_RATE_LIMIT_RPM must be at least 6")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
