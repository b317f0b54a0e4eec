package multicall

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// echoCaller answers aggregate calls by returning target||callData for each call.
type echoCaller struct {
	calls  int
	err    error
	failAt int
}

func (c *echoCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "aggregate":
		calls := *abi.ConvertType(args[0], new([]Call)).(*[]Call)
		out := make([][]byte, len(calls))
		for i, call := range calls {
			out[i] = echo(call.Target, call.CallData)
		}
		return method.Outputs.Pack(big.NewInt(1), out)
	case "aggregate3":
		calls := *abi.ConvertType(args[0], new([]call3)).(*[]call3)
		out := make([]Result, len(calls))
		for i, call := range calls {
			if i == c.failAt {
				out[i] = Result{Success: false, ReturnData: []byte{}}
				continue
			}
			out[i] = Result{Success: true, ReturnData: echo(call.Target, call.CallData)}
		}
		return method.Outputs.Pack(out)
	default:
		return nil, errors.New("unexpected method " + method.Name)
	}
}

func echo(target common.Address, data []byte) []byte {
	out := append([]byte{}, target.Bytes()...)
	return append(out, data...)
}

func testCalls(n int) []Call {
	calls := make([]Call, n)
	for i := range calls {
		calls[i] = Call{
			Target:   common.BigToAddress(big.NewInt(int64(i + 1))),
			CallData: []byte{byte(i), 0xaa},
		}
	}
	return calls
}

func TestAggregatePreservesOrder(t *testing.T) {
	for _, n := range []int{1, 2, 7} {
		caller := &echoCaller{failAt: -1}
		exec, err := NewExecutor(caller)
		if err != nil {
			t.Fatalf("executor: %v", err)
		}
		calls := testCalls(n)
		results, err := exec.Aggregate(context.Background(), calls)
		if err != nil {
			t.Fatalf("aggregate %d: %v", n, err)
		}
		if len(results) != n {
			t.Fatalf("expected %d results, got %d", n, len(results))
		}
		for i, res := range results {
			if !bytes.Equal(res, echo(calls[i].Target, calls[i].CallData)) {
				t.Fatalf("result %d does not match call %d", i, i)
			}
		}
		if caller.calls != 1 {
			t.Fatalf("expected exactly one round trip, got %d", caller.calls)
		}
	}
}

func TestAggregateEmptySkipsNetwork(t *testing.T) {
	caller := &echoCaller{failAt: -1}
	exec, err := NewExecutor(caller)
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	results, err := exec.Aggregate(context.Background(), nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", results)
	}
	if caller.calls != 0 {
		t.Fatalf("expected no round trip, got %d", caller.calls)
	}
}

func TestAggregateRevertFailsBatch(t *testing.T) {
	revert := errors.New("execution reverted")
	exec, err := NewExecutor(&echoCaller{err: revert, failAt: -1})
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	results, err := exec.Aggregate(context.Background(), testCalls(3))
	if !errors.Is(err, revert) {
		t.Fatalf("expected revert error, got %v", err)
	}
	if results != nil {
		t.Fatalf("expected no partial results")
	}
}

func TestTryAggregateReportsPerCallFailure(t *testing.T) {
	exec, err := NewExecutor(&echoCaller{failAt: 1})
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	calls := testCalls(3)
	results, err := exec.TryAggregate(context.Background(), calls)
	if err != nil {
		t.Fatalf("try aggregate: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Fatalf("unexpected success flags: %+v", results)
	}
	if !bytes.Equal(results[2].ReturnData, echo(calls[2].Target, calls[2].CallData)) {
		t.Fatalf("result 2 mismatch")
	}
}

func TestFetchDecodesInOrder(t *testing.T) {
	exec, err := NewExecutor(&echoCaller{failAt: -1})
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	calls := testCalls(4)
	firstBytes, err := Fetch(context.Background(), exec, calls, func(data []byte) (byte, error) {
		return data[len(data)-2], nil
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for i, b := range firstBytes {
		if b != byte(i) {
			t.Fatalf("index %d decoded %d", i, b)
		}
	}

	_, err = Fetch(context.Background(), exec, calls, func([]byte) (int, error) {
		return 0, errors.New("bad payload")
	})
	if err == nil {
		t.Fatalf("expected decode error")
	}
}
