// Command guardian is the composition root: it wires every adapter into
// the decision pipeline and runs it until SIGINT/SIGTERM, following the
// teacher's context-cancellation-plus-WaitGroup shutdown shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/mod/semver"

	"github.com/lidofinance/guardian-daemon/internal/adapters/bus"
	"github.com/lidofinance/guardian-daemon/internal/adapters/dsm"
	"github.com/lidofinance/guardian-daemon/internal/adapters/elclient"
	"github.com/lidofinance/guardian-daemon/internal/adapters/keysapi"
	"github.com/lidofinance/guardian-daemon/internal/adapters/notifier"
	"github.com/lidofinance/guardian-daemon/internal/adapters/signer"
	"github.com/lidofinance/guardian-daemon/internal/adapters/sqlite"
	"github.com/lidofinance/guardian-daemon/internal/application/domain"
	"github.com/lidofinance/guardian-daemon/internal/application/ports"
	"github.com/lidofinance/guardian-daemon/internal/application/services"
	"github.com/lidofinance/guardian-daemon/internal/config"
	"github.com/lidofinance/guardian-daemon/internal/logger"
	"github.com/lidofinance/guardian-daemon/internal/metrics"
)

func main() {
	cfg := config.Load()
	logger.Info("loaded config: rpc endpoints=%d keysAPI=%s deploymentBlock=%d", len(cfg.RPCURLs), cfg.KeysAPIURL, cfg.DeploymentBlock)

	wallet, err := signer.NewFromHex(cfg.WalletPrivateKey)
	if err != nil {
		logger.Fatal("failed to load guardian wallet: %v", err)
	}
	logger.Info("guardian wallet address: %s", wallet.Address().Hex())

	el, err := elclient.New(cfg.RPCURLs, cfg.DepositContractAddr)
	if err != nil {
		logger.Fatal("failed to initialize execution-layer client: %v", err)
	}

	dsmClient, err := ethclient.Dial(cfg.RPCURLs[0])
	if err != nil {
		logger.Fatal("failed to dial RPC endpoint for DSM client: %v", err)
	}
	dsmContract, err := dsm.New(dsmClient, cfg.DSMContractAddr, wallet.PrivateKey(), cfg.ChainID)
	if err != nil {
		logger.Fatal("failed to initialize DSM contract client: %v", err)
	}

	keysAPI := keysapi.New(cfg.KeysAPIURL)

	status, err := gateKeysAPIVersion(keysAPI)
	if err != nil {
		logger.Fatal("keys-api version gate failed: %v", err)
	}
	if err := gateChainID(dsmClient, status.ChainID); err != nil {
		logger.Fatal("keys-api chain-id gate failed: %v", err)
	}

	messageBus := bus.New(cfg.PubsubServiceURL)

	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		logger.Fatal("failed to open sqlite store: %v", err)
	}
	defer store.DB.Close()

	tickInterval := domain.DefaultGuardianTickInterval
	if cfg.TickInterval != "" {
		if d, err := time.ParseDuration(cfg.TickInterval); err == nil {
			tickInterval = d
		} else {
			logger.Warn("invalid GUARDIAN_DEPOSIT_JOB_DURATION %q, using default %s", cfg.TickInterval, tickInterval)
		}
	}
	clock := services.NewTickerClock(tickInterval)

	guardian := services.NewGuardian(el, keysAPI, dsmContract, wallet, messageBus, store, store, clock,
		cfg.DeploymentBlock, cfg.LidoWC, cfg.BrokerTopic)
	guardian.CriticalBalanceWei = cfg.CriticalBalanceWei
	if cfg.AlertsURL != "" {
		guardian.Alerts = notifier.New(cfg.AlertsURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		guardian.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		guardian.WatchWalletBalance(ctx, cfg.WalletBalanceBlockRate)
	}()

	httpServer := startHTTPServers(cfg)

	handleShutdown(cancel)
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down metrics/health server: %v", err)
	}

	logger.Info("all services stopped, shutting down")
}

// startHTTPServers exposes /metrics and /healthz on a single mux, bound to
// cfg.MetricsAddr; HealthAddr is reserved for deployments that want the
// health check on a separate port and is otherwise unused.
func startHTTPServers(cfg config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics/health server stopped: %v", err)
		}
	}()
	return server
}

// gateKeysAPIVersion refuses to start against a Keys-API older than
// domain.MinKeysAPIVersion, returning the status response so callers can
// also gate on the chain it reports.
func gateKeysAPIVersion(client *keysapi.Client) (ports.StatusResponse, error) {
	status, err := client.Status(context.Background())
	if err != nil {
		return ports.StatusResponse{}, err
	}
	reported := status.AppVersion
	if reported == "" {
		return status, nil
	}
	if !semver.IsValid(withVPrefix(reported)) || !semver.IsValid(domain.MinKeysAPIVersion) {
		return status, nil
	}
	if semver.Compare(withVPrefix(reported), domain.MinKeysAPIVersion) < 0 {
		return status, fmt.Errorf("keys-api version %s is older than the minimum supported %s", reported, domain.MinKeysAPIVersion)
	}
	return status, nil
}

// gateChainID refuses to start if the Keys-API is indexing a different
// chain than the configured execution-layer RPC endpoints.
func gateChainID(el *ethclient.Client, keysAPIChainID uint64) error {
	elChainID, err := el.ChainID(context.Background())
	if err != nil {
		return fmt.Errorf("fetching EL chain id: %w", err)
	}
	if elChainID.Uint64() != keysAPIChainID {
		return fmt.Errorf("EL chain id %s does not match keys-api chain id %d", elChainID, keysAPIChainID)
	}
	return nil
}

func withVPrefix(v string) string {
	if len(v) > 0 && v[0] == 'v' {
		return v
	}
	return "v" + v
}

// handleShutdown listens for SIGINT/SIGTERM and cancels the context.
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal: %s, initiating shutdown", sig)
		cancel()
	}()
}
