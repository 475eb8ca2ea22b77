// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hexacloud/storefront/internal/validate"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database. Optional; the server falls back to in-memory intent storage
	// when unset, which loses state on restart.
	DatabaseURL string `koanf:"database_url"`

	// Redis. Optional; used for webhook dedupe, rate limiting and affiliate
	// counters when set.
	RedisAddr string `koanf:"redis_addr"`

	// Billing backend (the upstream CRM behind /external-api/)
	BillingEndpoint string `koanf:"billing_endpoint"`
	BillingAPIID    string `koanf:"billing_api_id"`
	BillingAPIKey   string `koanf:"billing_api_key"`

	// Checkout and payment flow
	CheckoutBaseURL string `koanf:"checkout_base_url"`
	ReturnURL       string `koanf:"return_url"`
	CancelURL       string `koanf:"cancel_url"`
	HomeCurrency    string `koanf:"home_currency"`
	EnabledMethods  string `koanf:"enabled_methods"` // comma-separated

	// Bank transfer instructions
	BankAccountNumber string `koanf:"bank_account_number"`

	// Affiliate attribution
	AffiliateSecret   string `koanf:"affiliate_secret"`
	AffiliateRequired bool   `koanf:"affiliate_required"`

	// Stripe (card payments)
	StripeAPIKey        string `koanf:"stripe_api_key"`
	StripeWebhookSecret string `koanf:"stripe_webhook_secret"`

	// Product catalog mapping file. Optional; built-in defaults apply when unset.
	CatalogPath string `koanf:"catalog_path"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`

	// Rate limits, requests per minute
	GlobalRateLimit   int `koanf:"global_rate_limit"`
	CheckoutRateLimit int `koanf:"checkout_rate_limit"`
	WebhookRateLimit  int `koanf:"webhook_rate_limit"`
}

// Configuration validation errors.
var (
	ErrMissingBillingEndpoint     = errors.New("BILLING_ENDPOINT is required")
	ErrMissingBillingAPIID        = errors.New("BILLING_API_ID is required")
	ErrMissingBillingAPIKey       = errors.New("BILLING_API_KEY is required")
	ErrMissingCheckoutBaseURL     = errors.New("CHECKOUT_BASE_URL is required")
	ErrMissingAffiliateSecret     = errors.New("AFFILIATE_SECRET is required")
	ErrMissingStripeAPIKey        = errors.New("STRIPE_API_KEY is required when card payments are enabled")
	ErrMissingStripeWebhookSecret = errors.New("STRIPE_WEBHOOK_SECRET is required when card payments are enabled")
	ErrMissingBankAccountNumber   = errors.New("BANK_ACCOUNT_NUMBER is required when bank transfers are enabled")
	ErrInvalidPort                = errors.New("PORT must be a valid integer")
	ErrUnknownPaymentMethod       = errors.New("ENABLED_METHODS contains an unknown payment method")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8080
	DefaultEnv                 = "development"
	DefaultHomeCurrency        = "CZK"
	DefaultEnabledMethods      = "card,bank_transfer"
	DefaultTracingSamplingRate = 0.1
	DefaultGlobalRateLimit     = 100
	DefaultCheckoutRateLimit   = 10
	DefaultWebhookRateLimit    = 120
)

// validMethods lists the payment methods the server knows how to initialize.
var validMethods = map[string]bool{
	"card":          true,
	"paypal":        true,
	"bank_transfer": true,
	"crypto":        true,
}

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid
	// Try STOREFRONT_PORT first, then PORT for backward compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"STOREFRONT_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	samplingRate, samplingErr := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if samplingErr != nil {
		loadErrs = append(loadErrs, samplingErr)
	}

	globalLimit, globalErr := getEnvIntOrDefault("GLOBAL_RATE_LIMIT", k.Int("global_rate_limit"), DefaultGlobalRateLimit)
	if globalErr != nil {
		loadErrs = append(loadErrs, globalErr)
	}
	checkoutLimit, checkoutErr := getEnvIntOrDefault("CHECKOUT_RATE_LIMIT", k.Int("checkout_rate_limit"), DefaultCheckoutRateLimit)
	if checkoutErr != nil {
		loadErrs = append(loadErrs, checkoutErr)
	}
	webhookLimit, webhookErr := getEnvIntOrDefault("WEBHOOK_RATE_LIMIT", k.Int("webhook_rate_limit"), DefaultWebhookRateLimit)
	if webhookErr != nil {
		loadErrs = append(loadErrs, webhookErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                port,
		Env:                 getEnvOrDefaultMulti([]string{"STOREFRONT_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:         getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:           getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		BillingEndpoint:     getEnvOrKoanf("BILLING_ENDPOINT", k, "billing_endpoint"),
		BillingAPIID:        getEnvOrKoanf("BILLING_API_ID", k, "billing_api_id"),
		BillingAPIKey:       getEnvOrKoanf("BILLING_API_KEY", k, "billing_api_key"),
		CheckoutBaseURL:     getEnvOrKoanf("CHECKOUT_BASE_URL", k, "checkout_base_url"),
		ReturnURL:           getEnvOrKoanf("RETURN_URL", k, "return_url"),
		CancelURL:           getEnvOrKoanf("CANCEL_URL", k, "cancel_url"),
		HomeCurrency:        getEnvOrDefault("HOME_CURRENCY", k.String("home_currency"), DefaultHomeCurrency),
		EnabledMethods:      getEnvOrDefault("ENABLED_METHODS", k.String("enabled_methods"), DefaultEnabledMethods),
		BankAccountNumber:   getEnvOrKoanf("BANK_ACCOUNT_NUMBER", k, "bank_account_number"),
		AffiliateSecret:     getEnvOrKoanf("AFFILIATE_SECRET", k, "affiliate_secret"),
		AffiliateRequired:   getEnvBoolOrDefault("AFFILIATE_REQUIRED", k, "affiliate_required", false),
		StripeAPIKey:        getEnvOrKoanf("STRIPE_API_KEY", k, "stripe_api_key"),
		StripeWebhookSecret: getEnvOrKoanf("STRIPE_WEBHOOK_SECRET", k, "stripe_webhook_secret"),
		CatalogPath:         getEnvOrKoanf("CATALOG_PATH", k, "catalog_path"),
		TracingEnabled:      getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporter:     getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), "otlp-http"),
		TracingOTLPEndpoint: getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate: samplingRate,
		TracingInsecure:     getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false),
		GlobalRateLimit:     globalLimit,
		CheckoutRateLimit:   checkoutLimit,
		WebhookRateLimit:    webhookLimit,
	}

	// Derive return and cancel URLs from the checkout base when unset.
	if cfg.ReturnURL == "" && cfg.CheckoutBaseURL != "" {
		cfg.ReturnURL = strings.TrimRight(cfg.CheckoutBaseURL, "/") + "/payments/return"
	}
	if cfg.CancelURL == "" && cfg.CheckoutBaseURL != "" {
		cfg.CancelURL = strings.TrimRight(cfg.CheckoutBaseURL, "/") + "/checkout/cancelled"
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// Methods returns the enabled payment methods as a slice.
func (c *Config) Methods() []string {
	if c.EnabledMethods == "" {
		return nil
	}
	parts := strings.Split(c.EnabledMethods, ",")
	methods := make([]string, 0, len(parts))
	for _, p := range parts {
		if m := strings.TrimSpace(p); m != "" {
			methods = append(methods, m)
		}
	}
	return methods
}

// methodEnabled reports whether a payment method appears in EnabledMethods.
func (c *Config) methodEnabled(method string) bool {
	for _, m := range c.Methods() {
		if m == method {
			return true
		}
	}
	return false
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvBoolOrDefault returns the environment variable as bool if set, otherwise the koanf value, or default.
// Unrecognized values leave the current value unchanged.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.BillingEndpoint == "" {
		errs = append(errs, ErrMissingBillingEndpoint)
	} else if _, err := validate.Endpoint(c.BillingEndpoint); err != nil {
		errs = append(errs, fmt.Errorf("BILLING_ENDPOINT: %w", err))
	}
	if c.BillingAPIID == "" {
		errs = append(errs, ErrMissingBillingAPIID)
	}
	if c.BillingAPIKey == "" {
		errs = append(errs, ErrMissingBillingAPIKey)
	}
	if c.CheckoutBaseURL == "" {
		errs = append(errs, ErrMissingCheckoutBaseURL)
	} else if _, err := validate.Endpoint(c.CheckoutBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("CHECKOUT_BASE_URL: %w", err))
	}
	if c.AffiliateSecret == "" {
		errs = append(errs, ErrMissingAffiliateSecret)
	}

	for _, m := range c.Methods() {
		if !validMethods[m] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, m))
		}
	}

	// Card payments go through Stripe Checkout, so the keys are only
	// required when the method is enabled.
	if c.methodEnabled("card") {
		if c.StripeAPIKey == "" {
			errs = append(errs, ErrMissingStripeAPIKey)
		}
		if c.StripeWebhookSecret == "" {
			errs = append(errs, ErrMissingStripeWebhookSecret)
		}
	}

	if c.methodEnabled("bank_transfer") && c.BankAccountNumber == "" {
		errs = append(errs, ErrMissingBankAccountNumber)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  fmt.Sprintf("%d", c.Port),
		"env":                   c.Env,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"redis_addr":            c.RedisAddr,
		"billing_endpoint":      c.BillingEndpoint,
		"billing_api_id":        maskSecret(c.BillingAPIID),
		"billing_api_key":       maskSecret(c.BillingAPIKey),
		"checkout_base_url":     c.CheckoutBaseURL,
		"return_url":            c.ReturnURL,
		"cancel_url":            c.CancelURL,
		"home_currency":         c.HomeCurrency,
		"enabled_methods":       c.EnabledMethods,
		"bank_account_number":   maskSecret(c.BankAccountNumber),
		"affiliate_secret":      maskSecret(c.AffiliateSecret),
		"affiliate_required":    fmt.Sprintf("%t", c.AffiliateRequired),
		"stripe_api_key":        maskStripeKey(c.StripeAPIKey),
		"stripe_webhook_secret": maskSecret(c.StripeWebhookSecret),
		"catalog_path":          c.CatalogPath,
		"tracing_enabled":       fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":      c.TracingExporter,
		"tracing_otlp_endpoint": c.TracingOTLPEndpoint,
		"tracing_sampling_rate": fmt.Sprintf("%g", c.TracingSamplingRate),
		"global_rate_limit":     fmt.Sprintf("%d", c.GlobalRateLimit),
		"checkout_rate_limit":   fmt.Sprintf("%d", c.CheckoutRateLimit),
		"webhook_rate_limit":    fmt.Sprintf("%d", c.WebhookRateLimit),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskStripeKey masks a Stripe API key, preserving the prefix (sk_live_, sk_test_, etc.)
func maskStripeKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Stripe keys have format like sk_live_..., sk_test_..., pk_live_..., etc.
	parts := strings.SplitN(s, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}

	// Fallback to generic masking
	return maskSecret(s)
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
