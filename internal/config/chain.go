package config

import (
	"fmt"
	"strings"
)

// Chain identifies a configured EVM network.
type Chain string

// Dex identifies a supported exchange protocol.
type Dex string

const (
	ChainMainnet Chain = "mainnet"

	DexUniswapV2 Dex = "uniswap-v2"
)

var knownChains = []Chain{ChainMainnet}

var knownDexes = []Dex{DexUniswapV2}

// ParseChain validates a chain identifier (case-insensitive).
func ParseChain(input string) (Chain, error) {
	for _, chain := range knownChains {
		if strings.EqualFold(string(chain), strings.TrimSpace(input)) {
			return chain, nil
		}
	}
	return "", fmt.Errorf("unknown chain: %q", input)
}

// ParseDex validates a dex identifier (case-insensitive).
func ParseDex(input string) (Dex, error) {
	for _, dex := range knownDexes {
		if strings.EqualFold(string(dex), strings.TrimSpace(input)) {
			return dex, nil
		}
	}
	return "", fmt.Errorf("unknown dex: %q", input)
}
