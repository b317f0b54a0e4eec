package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var pairConfigFile = regexp.MustCompile(`^pair_config_([A-Za-z]+)\.json$`)

// PairConfig is one configured pool.
type PairConfig struct {
	Pair    string `json:"pair"`
	Address string `json:"address"`
}

// DexPairConfig maps a dex to its configured pools.
type DexPairConfig map[Dex][]PairConfig

// ChainPairConfig maps a chain to its per-dex pools.
type ChainPairConfig map[Chain]DexPairConfig

// LoadPairConfigs reads every pair_config_<chain>.json in dir. Any invalid file
// fails the whole load.
func LoadPairConfigs(dir string) (ChainPairConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pair config dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && pairConfigFile.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make(ChainPairConfig, len(names))
	for _, name := range names {
		match := pairConfigFile.FindStringSubmatch(name)
		chain, err := ParseChain(match[1])
		if err != nil {
			return nil, fmt.Errorf("pair config %s: %w", name, err)
		}
		cfg, err := loadDexPairConfig(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("pair config %s: %w", name, err)
		}
		out[chain] = cfg
	}
	return out, nil
}

func loadDexPairConfig(path string) (DexPairConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var raw map[string][]PairConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	cfg := make(DexPairConfig, len(raw))
	for key, pairs := range raw {
		dex, err := ParseDex(key)
		if err != nil {
			return nil, err
		}
		for i, pair := range pairs {
			if pair.Pair == "" {
				return nil, fmt.Errorf("%s[%d]: pair is required", dex, i)
			}
			if !common.IsHexAddress(pair.Address) {
				return nil, fmt.Errorf("%s[%d]: invalid address %q", dex, i, pair.Address)
			}
		}
		cfg[dex] = pairs
	}
	return cfg, nil
}

// Pairs returns the configured pools for chain and dex, failing when none exist.
func (c ChainPairConfig) Pairs(chain Chain, dex Dex) ([]PairConfig, error) {
	pairs := c[chain][dex]
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no pairs configured for %s/%s", chain, dex)
	}
	return pairs, nil
}
