package dex

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/Kay-cwc/dex-market-data-stream/internal/config"
	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
	"github.com/Kay-cwc/dex-market-data-stream/internal/multicall"
)

// ResolvePairs resolves token0, token1 and both decimals for every configured
// pair through the batch executor. The token0 and token1 chains run
// concurrently; each decimals batch waits for its token batch. Any failed
// batch or undecodable result aborts the whole resolution.
func ResolvePairs(ctx context.Context, agg multicall.Aggregator, dex config.Dex, pairs []config.PairConfig) ([]model.PairMetadata, error) {
	if agg == nil {
		return nil, fmt.Errorf("batch executor is nil")
	}
	topics, err := DexTopics(dex)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return []model.PairMetadata{}, nil
	}

	pools := make([]common.Address, len(pairs))
	for i, pair := range pairs {
		if !common.IsHexAddress(pair.Address) {
			return nil, fmt.Errorf("pair %s: invalid address %q", pair.Pair, pair.Address)
		}
		pools[i] = common.HexToAddress(pair.Address)
	}

	var (
		tokens0, tokens1     []common.Address
		decimals0, decimals1 []uint8
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tokens0, err = fetchTokens(gctx, agg, pools, "token0"); err != nil {
			return err
		}
		decimals0, err = fetchDecimals(gctx, agg, tokens0)
		return err
	})
	g.Go(func() error {
		var err error
		if tokens1, err = fetchTokens(gctx, agg, pools, "token1"); err != nil {
			return err
		}
		decimals1, err = fetchDecimals(gctx, agg, tokens1)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve pair metadata: %w", err)
	}

	out := make([]model.PairMetadata, len(pairs))
	for i, pair := range pairs {
		pairTopics := make([]string, len(topics))
		copy(pairTopics, topics)
		out[i] = model.PairMetadata{
			Symbol:  pair.Pair,
			Address: strings.ToLower(pools[i].Hex()),
			Token0:  model.Token{Address: tokens0[i].Hex(), Decimals: int(decimals0[i])},
			Token1:  model.Token{Address: tokens1[i].Hex(), Decimals: int(decimals1[i])},
			Topics:  pairTopics,
		}
	}
	return out, nil
}

func fetchTokens(ctx context.Context, agg multicall.Aggregator, pools []common.Address, method string) ([]common.Address, error) {
	pairABI, err := V2PairABI()
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}
	calls, err := sameCall(pairABI, method, pools)
	if err != nil {
		return nil, err
	}
	tokens, err := multicall.Fetch(ctx, agg, calls, func(data []byte) (common.Address, error) {
		values, err := pairABI.Unpack(method, data)
		if err != nil {
			return common.Address{}, fmt.Errorf("unpack %s: %w", method, err)
		}
		return asAddress(values[0])
	})
	if err != nil {
		return nil, fmt.Errorf("%s batch: %w", method, err)
	}
	return tokens, nil
}

func fetchDecimals(ctx context.Context, agg multicall.Aggregator, tokens []common.Address) ([]uint8, error) {
	erc20, err := erc20ABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	calls, err := sameCall(erc20, "decimals", tokens)
	if err != nil {
		return nil, err
	}
	decimals, err := multicall.Fetch(ctx, agg, calls, func(data []byte) (uint8, error) {
		values, err := erc20.Unpack("decimals", data)
		if err != nil {
			return 0, fmt.Errorf("unpack decimals: %w", err)
		}
		return asUint8(values[0])
	})
	if err != nil {
		return nil, fmt.Errorf("decimals batch: %w", err)
	}
	return decimals, nil
}

func sameCall(parsed abi.ABI, method string, targets []common.Address) ([]multicall.Call, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	calls := make([]multicall.Call, len(targets))
	for i, target := range targets {
		calls[i] = multicall.Call{Target: target, CallData: data}
	}
	return calls, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > math.MaxUint8 {
			return 0, fmt.Errorf("decimals out of range: %s", v.String())
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
