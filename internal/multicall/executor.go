package multicall

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller is the subset of an eth client the executor needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Aggregator issues a batch of calls in one round trip.
type Aggregator interface {
	Aggregate(ctx context.Context, calls []Call) ([][]byte, error)
}

// Call is one read-only call routed through the aggregator.
type Call struct {
	Target   common.Address
	CallData []byte
}

// Result is the outcome of one call in an allow-failure batch.
type Result struct {
	Success    bool
	ReturnData []byte
}

type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Executor batches calls through a Multicall3 contract.
type Executor struct {
	caller  ContractCaller
	address common.Address
	abi     abi.ABI
}

// NewExecutor builds an executor against the canonical Multicall3 address.
func NewExecutor(caller ContractCaller) (*Executor, error) {
	return NewExecutorAt(caller, Multicall3Address)
}

// NewExecutorAt builds an executor against a custom aggregator deployment.
func NewExecutorAt(caller ContractCaller, address common.Address) (*Executor, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	parsed, err := ABI()
	if err != nil {
		return nil, fmt.Errorf("parse multicall abi: %w", err)
	}
	return &Executor{caller: caller, address: address, abi: parsed}, nil
}

// Aggregate runs every call in one eth_call. result[i] belongs to calls[i].
// A revert of any call fails the whole batch.
func (e *Executor) Aggregate(ctx context.Context, calls []Call) ([][]byte, error) {
	if len(calls) == 0 {
		return [][]byte{}, nil
	}

	values, err := e.call(ctx, "aggregate", calls)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unpack aggregate: expected 2 outputs, got %d", len(values))
	}
	returnData, ok := values[1].([][]byte)
	if !ok {
		return nil, fmt.Errorf("unpack aggregate: unexpected return type %T", values[1])
	}
	if len(returnData) != len(calls) {
		return nil, fmt.Errorf("aggregate returned %d results for %d calls", len(returnData), len(calls))
	}
	return returnData, nil
}

// TryAggregate runs every call through aggregate3 with allowFailure set, so
// individual reverts are reported per call instead of failing the batch.
func (e *Executor) TryAggregate(ctx context.Context, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return []Result{}, nil
	}

	args := make([]call3, len(calls))
	for i, c := range calls {
		args[i] = call3{Target: c.Target, AllowFailure: true, CallData: c.CallData}
	}

	values, err := e.call(ctx, "aggregate3", args)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack aggregate3: expected 1 output, got %d", len(values))
	}
	results := *abi.ConvertType(values[0], new([]Result)).(*[]Result)
	if len(results) != len(calls) {
		return nil, fmt.Errorf("aggregate3 returned %d results for %d calls", len(results), len(calls))
	}
	return results, nil
}

func (e *Executor) call(ctx context.Context, method string, args interface{}) ([]interface{}, error) {
	data, err := e.abi.Pack(method, args)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := e.address
	resp, err := e.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := e.abi.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// Fetch aggregates calls and decodes each result with decode, keeping order.
// The executor never decodes; decode errors carry the failing index.
func Fetch[T any](ctx context.Context, agg Aggregator, calls []Call, decode func([]byte) (T, error)) ([]T, error) {
	raw, err := agg.Aggregate(ctx, calls)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(raw))
	for i, data := range raw {
		value, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode result %d (%s): %w", i, calls[i].Target.Hex(), err)
		}
		out[i] = value
	}
	return out, nil
}
