package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"escrowd/cmd/internal/passphrase"
	"escrowd/config"
	"escrowd/core"
	"escrowd/crypto"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const operatorPassEnv = "ESCROWD_OPERATOR_PASS"

// genesisMarkerKey records that the configured genesis allocation has been
// applied, so restarts do not re-credit balances.
var genesisMarkerKey = []byte("escrowd/genesis-applied")

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ESCROWD_ENV"))
	logger := logging.Setup("escrowd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	operatorKey, err := loadOperatorKey(cfg)
	if err != nil {
		logger.Error("Failed to load operator key", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("operator identity loaded",
		slog.String("address", operatorKey.PubKey().Address().String()))

	node := core.NewNode(db, cfg.ProgramID())

	if err := applyGenesis(db, node, cfg); err != nil {
		logger.Error("Failed to apply genesis allocation", slog.Any("error", err))
		os.Exit(1)
	}

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("starting metrics server", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	server := rpc.NewServer(node)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// loadOperatorKey opens the operator keystore, trying the empty passphrase
// the default config writes before falling back to the configured source.
func loadOperatorKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	if key, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, ""); err == nil {
		return key, nil
	}
	source := passphrase.NewSource(operatorPassEnv)
	pass, err := source.Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(cfg.OperatorKeystorePath, pass)
}

func applyGenesis(db storage.Database, node *core.Node, cfg *config.Config) error {
	applied, err := db.Has(genesisMarkerKey)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	allocs, err := cfg.GenesisAllocations()
	if err != nil {
		return err
	}
	for addr, amount := range allocs {
		if err := node.SetBalance(addr, amount); err != nil {
			return err
		}
	}
	return db.Put(genesisMarkerKey, []byte{1})
}
