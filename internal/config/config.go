package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// AppConfig ties together everything the service needs at startup. All
// values are environment-sourced; none of them are user input.
type AppConfig struct {
	Service ServiceConfig
	Escrow  EscrowConfig
	Chain   ChainConfig
	Onramp  OnrampConfig
}

type ServiceConfig struct {
	HTTPPort             int
	HMACSecret           string
	HMACClockSkew        time.Duration
	IdempotencyWindow    time.Duration
	IdempotencyStorePath string
	PostgresDSN          string
	SweepInterval        time.Duration
	SweepBatchSize       int
}

type EscrowConfig struct {
	MockMode        bool
	Network         string
	ContractAddress string
	TokenAddress    string
	TreasuryWallet  string
	ExpirySeconds   int
	SaltVersion     string
}

type ChainConfig struct {
	RPCURL      string
	OperatorKey string
}

type OnrampConfig struct {
	SessionURL string
	APIKey     string
}

// Load reads configuration from the environment. Outside mock mode the
// operator requirements are enforced here so a misconfigured process dies at
// startup instead of on the first request.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Service: ServiceConfig{
			HTTPPort:             envOrInt("HTTP_PORT", 3000),
			HMACSecret:           envOr("API_HMAC_SECRET", ""),
			HMACClockSkew:        time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			IdempotencyWindow:    time.Duration(envOrInt("IDEMPOTENCY_WINDOW_SECONDS", 300)) * time.Second,
			IdempotencyStorePath: envOr("IDEMPOTENCY_STORE_PATH", filepath.Join(os.TempDir(), "mailrails-idem.json")),
			PostgresDSN:          envOr("POSTGRES_DSN", ""),
			SweepInterval:        time.Duration(envOrInt("SWEEP_INTERVAL_SECONDS", 300)) * time.Second,
			SweepBatchSize:       envOrInt("SWEEP_BATCH_SIZE", 50),
		},
		Escrow: EscrowConfig{
			MockMode:        envOrBool("ESCROW_MOCK_MODE", true),
			Network:         envOr("ESCROW_NETWORK", "base-sepolia"),
			ContractAddress: envOr("ESCROW_CONTRACT_ADDRESS", ""),
			TokenAddress:    envOr("ESCROW_TOKEN_ADDRESS", ""),
			TreasuryWallet:  envOr("ESCROW_TREASURY_WALLET", ""),
			ExpirySeconds:   envOrInt("ESCROW_EXPIRY_SECONDS", 7*24*3600),
			SaltVersion:     envOr("ESCROW_SALT_VERSION", ""),
		},
		Chain: ChainConfig{
			RPCURL:      envOr("CHAIN_RPC_URL", ""),
			OperatorKey: envOr("OPERATOR_PRIVATE_KEY", ""),
		},
		Onramp: OnrampConfig{
			SessionURL: envOr("ONRAMP_SESSION_URL", ""),
			APIKey:     envOr("ONRAMP_API_KEY", ""),
		},
	}

	if !cfg.Escrow.MockMode {
		if cfg.Chain.RPCURL == "" {
			return nil, fmt.Errorf("CHAIN_RPC_URL is required outside mock mode")
		}
		if cfg.Chain.OperatorKey == "" {
			return nil, fmt.Errorf("OPERATOR_PRIVATE_KEY is required outside mock mode")
		}
		if cfg.Escrow.ContractAddress == "" {
			return nil, fmt.Errorf("ESCROW_CONTRACT_ADDRESS is required outside mock mode")
		}
		if cfg.Escrow.TreasuryWallet == "" {
			return nil, fmt.Errorf("ESCROW_TREASURY_WALLET is required outside mock mode")
		}
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}
