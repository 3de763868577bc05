package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the environment-level options. For the processor and the
// chain, absence of a credential switches the component into its documented
// fallback mode instead of failing.
type Config struct {
	DatabaseURL string
	JWTSecret   string

	// Payment processor. Empty ProcessorSecretKey enables offline intents;
	// empty ProcessorWebhookSecret disables webhook signature verification.
	ProcessorSecretKey     string
	ProcessorBaseURL       string
	ProcessorWebhookSecret string
	AllowSimulatedPayments bool

	// Chain. Both ChainRPCURL and ChainPrivateKey must be present for real
	// mints; otherwise every mint is a stub.
	ChainRPCURL      string
	ChainPrivateKey  string
	ChainContract    string
	WalletDevMode    bool
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() (Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		ProcessorSecretKey:     os.Getenv("PROCESSOR_SECRET_KEY"),
		ProcessorBaseURL:       os.Getenv("PROCESSOR_BASE_URL"),
		ProcessorWebhookSecret: os.Getenv("PROCESSOR_WEBHOOK_SECRET"),
		AllowSimulatedPayments: boolEnv("PAYMENTS_ALLOW_SIMULATE"),
		ChainRPCURL:            os.Getenv("CHAIN_RPC_URL"),
		ChainPrivateKey:        os.Getenv("CHAIN_PRIVATE_KEY"),
		ChainContract:          os.Getenv("CHAIN_CONTRACT_ADDRESS"),
		WalletDevMode:          boolEnv("WALLET_DEV_MODE"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}
	return cfg, nil
}

// ChainConfigured reports whether real mint submission is possible.
func (c Config) ChainConfigured() bool {
	return c.ChainRPCURL != "" && c.ChainPrivateKey != "" && c.ChainContract != ""
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
