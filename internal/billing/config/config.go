// Package config loads the engine's configuration (§6): the payment and
// renewal windows, the persistence and broker DSNs, and the resolved
// open-question behavior around cascading transaction expiry.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	defaultPurchaseExpiresAfter = 30 * time.Minute
	defaultRenewalBefore        = 24 * time.Hour
)

// BillingConfig is the engine's configuration (§6).
type BillingConfig struct {
	// PurchaseExpiresAfter is the default payment window for new
	// transactions.
	PurchaseExpiresAfter time.Duration `default:"30m"`
	// RenewalBefore is how early before expiresAt a subscription enters
	// the renewal window.
	RenewalBefore time.Duration `default:"24h"`

	// CascadeTransactionExpiryToSubscription resolves §9's open question:
	// when true, an expired unconfirmed initiating transaction also
	// cancels its subscription rather than leaving it pending forever.
	CascadeTransactionExpiryToSubscription bool `default:"true"`

	// Providers lists the provider names the reconciler loops over. Each
	// name's REST base URL is read directly from PROVIDER_<NAME>_BASE_URL
	// by cmd/reconciler, since envconfig cannot express a per-element
	// nested struct for a dynamically-named provider set.
	Providers []string `default:"default"`

	Mongo MongoConfig
	Redis RedisConfig
	NATS  NATSConfig
}

// MongoConfig configures the document-store Repository backend.
type MongoConfig struct {
	URI      string
	Database string `default:"billing"`
}

// RedisConfig configures the reconciliation single-flight lease.
type RedisConfig struct {
	URL string
}

// NATSConfig configures the action queue's JetStream transport.
type NATSConfig struct {
	URL             string
	Subject         string `default:"billing.actions"`
	StreamName      string `default:"BILLING_ACTIONS"`
	EnableJetStream bool   `default:"false"`
}

// New loads BillingConfig from environment variables (optionally via a
// ".env" file in the working directory), using the BILLING/MONGO/REDIS/NATS
// prefixes.
func New() (*BillingConfig, error) {
	cfg := &BillingConfig{
		PurchaseExpiresAfter:                   defaultPurchaseExpiresAfter,
		RenewalBefore:                          defaultRenewalBefore,
		CascadeTransactionExpiryToSubscription: true,
	}

	root, err := os.Getwd()
	if err != nil {
		logStructured("error", "get_workdir", map[string]interface{}{"error": err.Error()})
		return cfg, fmt.Errorf("unable to get working directory: %w", err)
	}

	envPath := filepath.Join(root, ".env")
	if _, statErr := os.Stat(envPath); statErr == nil {
		if loadErr := godotenv.Load(envPath); loadErr != nil {
			logStructured("error", "load_env", map[string]interface{}{"file": envPath, "error": loadErr.Error()})
			return cfg, fmt.Errorf("failed to load env file %s: %w", envPath, loadErr)
		}
		logStructured("info", "load_env", map[string]interface{}{"file": envPath})
	} else if !os.IsNotExist(statErr) {
		logStructured("error", "stat_env_file", map[string]interface{}{"file": envPath, "error": statErr.Error()})
		return cfg, fmt.Errorf("failed to stat env file %s: %w", envPath, statErr)
	}

	targets := map[string]interface{}{
		"BILLING": cfg,
		"MONGO":   &cfg.Mongo,
		"REDIS":   &cfg.Redis,
		"NATS":    &cfg.NATS,
	}

	for prefix, target := range targets {
		if procErr := envconfig.Process(prefix, target); procErr != nil {
			logStructured("error", "env_process", map[string]interface{}{"prefix": prefix, "error": procErr.Error()})
			return cfg, fmt.Errorf("failed to process env for %s: %w", prefix, procErr)
		}
	}

	return cfg, nil
}

func logStructured(level string, action string, params map[string]interface{}) {
	msg := fmt.Sprintf("level=%s component=billing-config action=%s", level, action)
	for k, v := range params {
		msg = fmt.Sprintf("%s %s=%v", msg, k, v)
	}
	log.Println(msg)
}
