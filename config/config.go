package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"escrowd/crypto"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type Config struct {
	RPCAddress           string            `toml:"RPCAddress"`
	MetricsAddress       string            `toml:"MetricsAddress"`
	DataDir              string            `toml:"DataDir"`
	NetworkName          string            `toml:"NetworkName"`
	OperatorKeystorePath string            `toml:"OperatorKeystorePath"`
	GenesisAlloc         map[string]string `toml:"GenesisAlloc"`
}

// Load loads the configuration from the given path, creating a default file
// (and operator keystore) when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "escrow-local"
	}
	if cfg.GenesisAlloc == nil {
		cfg.GenesisAlloc = map[string]string{}
	}

	return cfg, nil
}

// ProgramID derives the 32-byte program identity that scopes every record and
// vault derivation. It is a pure function of the network name, so every node
// on the same network agrees on record locations.
func (c *Config) ProgramID() [32]byte {
	name := strings.TrimSpace(c.NetworkName)
	if name == "" {
		name = "escrow-local"
	}
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256([]byte("escrowd/program/"+name)))
	return id
}

// GenesisAllocations decodes the configured genesis balances into addresses
// and amounts. Amounts are base-10 and must be non-negative.
func (c *Config) GenesisAllocations() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(c.GenesisAlloc))
	for bech, raw := range c.GenesisAlloc {
		addr, err := crypto.DecodeAddress(bech)
		if err != nil {
			return nil, fmt.Errorf("config: genesis address %q: %w", bech, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("config: genesis amount %q for %s is not a non-negative integer", raw, bech)
		}
		var key [20]byte
		copy(key[:], addr.Bytes())
		out[key] = amount
	}
	return out, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:     ":8080",
		MetricsAddress: ":9090",
		DataDir:        "./escrow-data",
		NetworkName:    "escrow-local",
		GenesisAlloc:   map[string]string{},
	}
	cfg.OperatorKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
