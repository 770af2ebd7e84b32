// Package config loads the guardian daemon's environment-variable
// configuration, failing fast via logger.Fatal on anything malformed or
// missing, matching the teacher's LoadConfig startup-validation style.
package config

import (
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
	"github.com/lidofinance/guardian-daemon/internal/logger"
)

// Config holds every value the composition root needs to wire adapters
// and the Guardian pipeline.
type Config struct {
	RPCURLs                 []string
	WalletPrivateKey        string
	ChainID                 *big.Int
	KeysAPIURL              string
	PubsubServiceURL        string
	BrokerTopic             string
	DepositContractAddr     common.Address
	DSMContractAddr         common.Address
	LidoWC                  domain.WithdrawalCredential
	DeploymentBlock         uint64
	TickInterval            string
	SQLitePath              string
	RegistryKeysBatchSize   int
	RegistryKeysConcurrency int
	CriticalBalanceWei      uint64
	WalletBalanceBlockRate  uint64
	MetricsAddr             string
	HealthAddr              string
	AlertsURL               string
}

// Load reads and validates the guardian daemon's environment, exiting the
// process via logger.Fatal on any invalid or missing required value.
func Load() Config {
	rpcURLs := splitCSV(mustEnv("RPC_URL"))
	if len(rpcURLs) == 0 {
		logger.Fatal("RPC_URL must contain at least one endpoint")
	}

	walletKey := mustEnv("WALLET_PRIVATE_KEY")

	chainIDStr := envOr("CHAIN_ID", "1")
	chainID, ok := new(big.Int).SetString(chainIDStr, 10)
	if !ok {
		logger.Fatal("invalid CHAIN_ID: %s", chainIDStr)
	}

	keysAPIURL := mustEnv("KEYS_API_URL")
	pubsubURL := mustEnv("PUBSUB_SERVICE")
	brokerTopic := envOr("BROKER_TOPIC", "lido.guardian")

	depositContract := common.HexToAddress(mustEnv("DEPOSIT_CONTRACT_ADDRESS"))
	dsmContract := common.HexToAddress(mustEnv("DSM_CONTRACT_ADDRESS"))

	lidoWCHex := mustEnv("LIDO_WC")
	wcBytes := common.FromHex(lidoWCHex)
	if len(wcBytes) != 32 {
		logger.Fatal("LIDO_WC must decode to exactly 32 bytes, got %d", len(wcBytes))
	}
	if wcBytes[0] != domain.BLSWithdrawalPrefixByte {
		logger.Fatal("LIDO_WC must use the BLS withdrawal credential prefix 0x%02x, got 0x%02x", domain.BLSWithdrawalPrefixByte, wcBytes[0])
	}
	var lidoWC domain.WithdrawalCredential
	copy(lidoWC[:], wcBytes)

	deploymentBlock := mustEnvUint64("DEPLOYMENT_BLOCK")

	batchSize := envOrInt("REGISTRY_KEYS_QUERY_BATCH_SIZE", 500)
	concurrency := envOrInt("REGISTRY_KEYS_QUERY_CONCURRENCY", 5)

	criticalBalance := domain.DefaultCriticalWalletBalanceWei
	if raw := os.Getenv("WALLET_CRITICAL_BALANCE_WEI"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			logger.Fatal("invalid WALLET_CRITICAL_BALANCE_WEI: %s", raw)
		}
		criticalBalance = v
	}

	balanceBlockRate := domain.DefaultWalletBalanceUpdateBlockRate
	if raw := os.Getenv("WALLET_BALANCE_UPDATE_BLOCK_RATE"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			logger.Fatal("invalid WALLET_BALANCE_UPDATE_BLOCK_RATE: %s", raw)
		}
		balanceBlockRate = v
	}

	return Config{
		RPCURLs:                 rpcURLs,
		WalletPrivateKey:        walletKey,
		ChainID:                 chainID,
		KeysAPIURL:              strings.TrimSuffix(keysAPIURL, "/"),
		PubsubServiceURL:        strings.TrimSuffix(pubsubURL, "/"),
		BrokerTopic:             brokerTopic,
		DepositContractAddr:     depositContract,
		DSMContractAddr:         dsmContract,
		LidoWC:                  lidoWC,
		DeploymentBlock:         deploymentBlock,
		TickInterval:            envOr("GUARDIAN_DEPOSIT_JOB_DURATION", ""),
		SQLitePath:              envOr("SQLITE_PATH", "guardian.db"),
		RegistryKeysBatchSize:   batchSize,
		RegistryKeysConcurrency: concurrency,
		CriticalBalanceWei:      criticalBalance,
		WalletBalanceBlockRate:  balanceBlockRate,
		MetricsAddr:             envOr("METRICS_ADDR", ":9000"),
		HealthAddr:              envOr("HEALTH_ADDR", ":9001"),
		AlertsURL:               strings.TrimSuffix(os.Getenv("ALERTS_URL"), "/"),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Fatal("missing required environment variable %s", key)
	}
	return v
}

func mustEnvUint64(key string) uint64 {
	raw := mustEnv(key)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		logger.Fatal("invalid %s: %s", key, raw)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logger.Fatal("invalid %s: %s", key, raw)
	}
	return v
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
