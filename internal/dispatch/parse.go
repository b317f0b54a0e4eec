package dispatch

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseAddresses validates hex addresses and returns them lowercased.
func ParseAddresses(inputs []string) ([]string, error) {
	addresses := make([]string, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, strings.ToLower(common.HexToAddress(input).Hex()))
	}
	return addresses, nil
}

// ParseTopics validates 32-byte topic hashes and returns them lowercased.
func ParseTopics(inputs []string) ([]string, error) {
	topics := make([]string, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		data, err := hexutil.Decode(input)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %s", input)
		}
		if len(data) != common.HashLength {
			return nil, fmt.Errorf("invalid topic length: %s", input)
		}
		topics = append(topics, common.BytesToHash(data).Hex())
	}
	return topics, nil
}
