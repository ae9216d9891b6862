package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	RpcURL                 string
	DbURL                  string
	KafkaBroker            string
	KafkaTopic             string
	ChainID                int64
	RegistryAddress        string
	SettlementAddress      string
	HandlerAddress         string
	VaultRelayerAddress    string
	FallbackHandlerAddress string
	DomainVerifierAddress  string
	StartBlock             uint64
	BatchSize              uint64
	PollInterval           time.Duration
	APIPort                int
}

// NewConfig loads configuration from environment variables. Missing
// required variables are fatal: the service never starts half-configured.
func NewConfig() *Config {
	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	return &Config{
		RpcURL:                 getEnvOrFatal("RPC_URL"),
		DbURL:                  getEnvOrFatal("DB_URL"),
		KafkaBroker:            getEnvOrFatal("KAFKA_BROKER"),
		KafkaTopic:             getEnvOrFatal("KAFKA_TOPIC"),
		ChainID:                int64(getEnvInt("CHAIN_ID", 137)),
		RegistryAddress:        getEnvOrFatal("REGISTRY_ADDRESS"),
		SettlementAddress:      getEnvOrFatal("SETTLEMENT_ADDRESS"),
		HandlerAddress:         getEnvOrFatal("HANDLER_ADDRESS"),
		VaultRelayerAddress:    getEnvOrFatal("VAULT_RELAYER_ADDRESS"),
		FallbackHandlerAddress: getEnvOrFatal("FALLBACK_HANDLER_ADDRESS"),
		DomainVerifierAddress:  getEnvOrFatal("DOMAIN_VERIFIER_ADDRESS"),
		StartBlock:             getEnvUint64("START_BLOCK", 0),
		BatchSize:              getEnvUint64("BATCH_SIZE", 100),
		PollInterval:           time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)) * time.Second,
		APIPort:                getEnvInt("API_PORT", 8080),
	}
}

func getEnvOrFatal(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	log.Fatalf("required environment variable %s not set", key)

	return ""
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
