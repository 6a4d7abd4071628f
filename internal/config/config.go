// Package config handles loading and validation of service configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/shopspring/decimal"

	"storefront-checkout/internal/shipping"
)

// Config holds all service configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	MerchantID string

	// Merchant credentials (loaded from secrets)
	Merchant MerchantConfig

	// Checkout policy (never secret; env or CONFIG_FILE)
	Checkout CheckoutConfig
}

// MerchantConfig contains merchant-specific settings.
// In production, this is loaded from Secret Manager as JSON.
// In development, loaded from individual env vars or CONFIG_FILE.
type MerchantConfig struct {
	StoreURL     string `json:"store_url"`
	StoreDomain  string `json:"store_domain"` // Derived from StoreURL if not set
	APIKey       string `json:"api_key"`
	APISecret    string `json:"api_secret"`
	MerchantName string `json:"merchant_name,omitempty"`

	// StripeSecretKey enables the card pathway. Without it card commits fail.
	StripeSecretKey string `json:"stripe_secret_key,omitempty"`

	// RedisURL selects the Redis recovery store, e.g. redis://:pw@host:6379/0.
	// Empty uses the in-process store.
	RedisURL string `json:"redis_url,omitempty"`

	// ChromeTLS presents a browser TLS fingerprint to the store's CDN.
	ChromeTLS bool `json:"chrome_tls,omitempty"`
}

// CheckoutConfig is the resolved checkout policy.
type CheckoutConfig struct {
	Currency              string
	FreeShippingThreshold decimal.Decimal
	FallbackShippingCost  decimal.Decimal
	ShippingPolicy        shipping.Policy
	ShippingTimeout       time.Duration
	BreakerMaxFailures    uint32
	BreakerOpenTimeout    time.Duration
	CardMethods           []string
	CardPrefixes          []string
	InvoiceMethod         string
	InvoiceTitle          string
	CreditTermDays        int
	SessionIdleTTL        time.Duration
	RecoveryTTL           time.Duration
	MinClientVersion      string
	StoreTimeout          time.Duration
}

// checkoutSettings is the raw, unparsed checkout policy as it appears in the
// config file and the environment.
type checkoutSettings struct {
	Currency              string   `json:"currency"`
	FreeShippingThreshold string   `json:"free_shipping_threshold"`
	FallbackShippingCost  string   `json:"fallback_shipping_cost"`
	ShippingPolicy        string   `json:"shipping_policy"`
	ShippingTimeout       string   `json:"shipping_timeout"`
	BreakerMaxFailures    string   `json:"breaker_max_failures"`
	BreakerOpenTimeout    string   `json:"breaker_open_timeout"`
	CardMethods           []string `json:"card_methods"`
	CardPrefixes          []string `json:"card_prefixes"`
	InvoiceMethod         string   `json:"invoice_method"`
	InvoiceTitle          string   `json:"invoice_title"`
	CreditTermDays        string   `json:"credit_term_days"`
	SessionIdleTTL        string   `json:"session_idle_ttl"`
	RecoveryTTL           string   `json:"recovery_ttl"`
	MinClientVersion      string   `json:"min_client_version"`
	StoreTimeout          string   `json:"store_timeout"`
}

// Checkout policy defaults.
const (
	DefaultCurrency              = "sek"
	DefaultFreeShippingThreshold = "5000"
	DefaultFallbackShippingCost  = "149"
	DefaultShippingTimeout       = 12 * time.Second
	DefaultBreakerOpenTimeout    = 30 * time.Second
	DefaultBreakerMaxFailures    = 5
	DefaultSessionIdleTTL        = 2 * time.Hour
	DefaultRecoveryTTL           = 2 * time.Hour
	DefaultStoreTimeout          = 30 * time.Second
)

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", "8080"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		MerchantID:  os.Getenv("MERCHANT_ID"),
	}

	// MerchantID required in all environments
	if cfg.MerchantID == "" {
		return nil, fmt.Errorf("MERCHANT_ID environment variable required")
	}

	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading merchant config: %w", err)
	}

	cfg.Checkout, err = checkoutSettingsFromEnv().resolve()
	if err != nil {
		return nil, fmt.Errorf("loading checkout config: %w", err)
	}

	if cfg.Merchant.StoreDomain == "" && cfg.Merchant.StoreURL != "" {
		cfg.Merchant.StoreDomain = extractDomain(cfg.Merchant.StoreURL)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port        string           `json:"port"`
		Environment string           `json:"environment"`
		LogLevel    string           `json:"log_level"`
		MerchantID  string           `json:"merchant_id"`
		Merchant    MerchantConfig   `json:"merchant"`
		Checkout    checkoutSettings `json:"checkout"`
	}

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:        withDefault(fileConfig.Port, "8080"),
		Environment: withDefault(fileConfig.Environment, "development"),
		LogLevel:    withDefault(fileConfig.LogLevel, "info"),
		MerchantID:  fileConfig.MerchantID,
		Merchant:    fileConfig.Merchant,
	}

	cfg.Checkout, err = fileConfig.Checkout.resolve()
	if err != nil {
		return nil, fmt.Errorf("parsing checkout config: %w", err)
	}

	if cfg.Merchant.StoreDomain == "" && cfg.Merchant.StoreURL != "" {
		cfg.Merchant.StoreDomain = extractDomain(cfg.Merchant.StoreURL)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches merchant config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{merchant_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.MerchantID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Merchant); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	return nil
}

// loadFromEnv reads merchant config from individual environment variables.
// Used in development mode for local testing.
func (c *Config) loadFromEnv() {
	c.Merchant = MerchantConfig{
		StoreURL:        os.Getenv("MERCHANT_STORE_URL"),
		StoreDomain:     os.Getenv("MERCHANT_STORE_DOMAIN"),
		APIKey:          os.Getenv("MERCHANT_API_KEY"),
		APISecret:       os.Getenv("MERCHANT_API_SECRET"),
		MerchantName:    os.Getenv("MERCHANT_NAME"),
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		RedisURL:        os.Getenv("REDIS_URL"),
		ChromeTLS:       os.Getenv("MERCHANT_CHROME_TLS") == "true",
	}
}

// checkoutSettingsFromEnv reads the checkout policy from the environment.
// List values are comma separated.
func checkoutSettingsFromEnv() checkoutSettings {
	return checkoutSettings{
		Currency:              os.Getenv("CHECKOUT_CURRENCY"),
		FreeShippingThreshold: os.Getenv("FREE_SHIPPING_THRESHOLD"),
		FallbackShippingCost:  os.Getenv("FALLBACK_SHIPPING_COST"),
		ShippingPolicy:        os.Getenv("SHIPPING_POLICY"),
		ShippingTimeout:       os.Getenv("SHIPPING_TIMEOUT"),
		BreakerMaxFailures:    os.Getenv("SHIPPING_BREAKER_MAX_FAILURES"),
		BreakerOpenTimeout:    os.Getenv("SHIPPING_BREAKER_OPEN_TIMEOUT"),
		CardMethods:           splitList(os.Getenv("CARD_METHODS")),
		CardPrefixes:          splitList(os.Getenv("CARD_PREFIXES")),
		InvoiceMethod:         os.Getenv("INVOICE_METHOD"),
		InvoiceTitle:          os.Getenv("INVOICE_TITLE"),
		CreditTermDays:        os.Getenv("CREDIT_TERM_DAYS"),
		SessionIdleTTL:        os.Getenv("SESSION_IDLE_TTL"),
		RecoveryTTL:           os.Getenv("RECOVERY_TTL"),
		MinClientVersion:      os.Getenv("MIN_CLIENT_VERSION"),
		StoreTimeout:          os.Getenv("STORE_TIMEOUT"),
	}
}

// resolve applies defaults and parses the raw settings.
func (s checkoutSettings) resolve() (CheckoutConfig, error) {
	out := CheckoutConfig{
		Currency:         strings.ToLower(withDefault(s.Currency, DefaultCurrency)),
		ShippingPolicy:   shipping.ParsePolicy(s.ShippingPolicy),
		CardMethods:      s.CardMethods,
		CardPrefixes:     s.CardPrefixes,
		InvoiceMethod:    s.InvoiceMethod,
		InvoiceTitle:     s.InvoiceTitle,
		MinClientVersion: s.MinClientVersion,
	}

	var err error
	if out.FreeShippingThreshold, err = parseDecimal("free_shipping_threshold", withDefault(s.FreeShippingThreshold, DefaultFreeShippingThreshold)); err != nil {
		return out, err
	}
	if out.FallbackShippingCost, err = parseDecimal("fallback_shipping_cost", withDefault(s.FallbackShippingCost, DefaultFallbackShippingCost)); err != nil {
		return out, err
	}
	if out.ShippingTimeout, err = parseDuration("shipping_timeout", s.ShippingTimeout, DefaultShippingTimeout); err != nil {
		return out, err
	}
	if out.BreakerOpenTimeout, err = parseDuration("breaker_open_timeout", s.BreakerOpenTimeout, DefaultBreakerOpenTimeout); err != nil {
		return out, err
	}
	if out.SessionIdleTTL, err = parseDuration("session_idle_ttl", s.SessionIdleTTL, DefaultSessionIdleTTL); err != nil {
		return out, err
	}
	if out.RecoveryTTL, err = parseDuration("recovery_ttl", s.RecoveryTTL, DefaultRecoveryTTL); err != nil {
		return out, err
	}
	if out.StoreTimeout, err = parseDuration("store_timeout", s.StoreTimeout, DefaultStoreTimeout); err != nil {
		return out, err
	}

	failures, err := parseInt("breaker_max_failures", s.BreakerMaxFailures, DefaultBreakerMaxFailures)
	if err != nil {
		return out, err
	}
	out.BreakerMaxFailures = uint32(failures)

	if out.CreditTermDays, err = parseInt("credit_term_days", s.CreditTermDays, 0); err != nil {
		return out, err
	}

	return out, nil
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid %s %q: must not be negative", name, s)
	}
	return d, nil
}

func parseDuration(name, s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", name, s)
	}
	return d, nil
}

func parseInt(name, s string, def int) (int, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", name, s)
	}
	return n, nil
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

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Merchant.StoreURL == "" {
		return fmt.Errorf("store_url is required")
	}
	if c.Merchant.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.Merchant.APISecret == "" {
		return fmt.Errorf("api_secret is required")
	}

	u, err := url.Parse(c.Merchant.StoreURL)
	if err != nil {
		return fmt.Errorf("invalid store_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid store_url: scheme must be http or https")
	}

	if c.Merchant.RedisURL != "" {
		if _, err := url.Parse(c.Merchant.RedisURL); err != nil {
			return fmt.Errorf("invalid redis_url: %w", err)
		}
	}

	if c.Environment == "production" && c.Merchant.StripeSecretKey != "" &&
		strings.HasPrefix(c.Merchant.StripeSecretKey, "sk_test_") {
		return fmt.Errorf("stripe_secret_key is a test key in production")
	}

	return nil
}

// CardPaymentsEnabled reports whether a card processor is configured.
func (c *Config) CardPaymentsEnabled() bool {
	return c.Merchant.StripeSecretKey != ""
}

// extractDomain parses the domain from a URL string.
func extractDomain(storeURL string) string {
	u, err := url.Parse(storeURL)
	if err != nil {
		// Fallback: strip protocol prefix manually
		domain := strings.TrimPrefix(storeURL, "https://")
		domain = strings.TrimPrefix(domain, "http://")
		return strings.Split(domain, "/")[0]
	}
	return u.Host
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
