package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	testPool  = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
	testTopic = "0x1c411e9a96e071241c2f21f7726b17ae89e3cab4c78be50e062b03a9fffbbad1"
)

type seenRequest struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	raw    []byte
}

func readRequest(t *testing.T, conn *websocket.Conn) (seenRequest, bool) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return seenRequest{}, false
	}
	var req seenRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Errorf("unmarshal request: %v", err)
		return seenRequest{}, false
	}
	req.raw = data
	return req, true
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func notificationFrame(subscription string) string {
	return `{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"` + subscription + `","result":{` +
		`"address":"` + testPool + `","blockHash":"0x01","blockNumber":"0x10","data":"0x00","logIndex":"0x0",` +
		`"removed":false,"topics":["` + testTopic + `"],"transactionHash":"0x02","transactionIndex":"0x0"}}}`
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:                  url,
		ConnectTimeout:       2 * time.Second,
		WriteTimeout:         time.Second,
		ReconnectDelay:       5 * time.Millisecond,
		MaxReconnectDelay:    20 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

func collect(ch chan model.LogNotification) Callback {
	return func(_ context.Context, n model.LogNotification) {
		ch <- n
	}
}

func runAsync(s *Subscriber, ctx context.Context) chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	return errCh
}

func waitErr(t *testing.T, errCh chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return")
		return nil
	}
}

func TestSubscribeForwardsNotifications(t *testing.T) {
	requests := make(chan seenRequest, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		req, ok := readRequest(t, conn)
		if !ok {
			return
		}
		requests <- req
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"jsonrpc":"2.0","result":"0xsub1"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"net_heartbeat"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte(notificationFrame("0xsub1")))
		drain(conn)
	}))
	defer server.Close()

	s, err := New(testConfig(wsURL(server)), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	assert.Equal(t, StateConnected, s.State())

	received := make(chan model.LogNotification, 4)
	require.NoError(t, s.Subscribe(ctx, Filter{Address: []string{testPool}, Topics: []string{testTopic}}, collect(received)))
	errCh := runAsync(s, ctx)

	req := <-requests
	assert.JSONEq(t,
		`{"id":1,"jsonrpc":"2.0","method":"eth_subscribe","params":["logs",{"address":["`+testPool+`"],"topics":["`+testTopic+`"]}]}`,
		string(req.raw))

	select {
	case n := <-received:
		assert.Equal(t, "0xsub1", n.Params.Subscription)
		assert.Equal(t, testPool, n.Params.Result.Address)
		assert.Equal(t, []string{testTopic}, n.Params.Result.Topics)
	case <-time.After(5 * time.Second):
		t.Fatalf("notification not forwarded")
	}
	assert.Equal(t, "0xsub1", s.SubscriptionID())
	assert.Empty(t, received)

	require.NoError(t, s.Close())
	assert.NoError(t, waitErr(t, errCh))
	assert.Equal(t, StateDisconnected, s.State())
}

func TestReconnectResubscribes(t *testing.T) {
	var conns atomic.Int32
	requests := make(chan seenRequest, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		req, ok := readRequest(t, conn)
		if !ok {
			return
		}
		requests <- req
		if n == 1 {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":2,"jsonrpc":"2.0","result":"0xsub2"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(notificationFrame("0xsub2")))
		drain(conn)
	}))
	defer server.Close()

	s, err := New(testConfig(wsURL(server)), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	received := make(chan model.LogNotification, 1)
	require.NoError(t, s.Subscribe(ctx, Filter{Address: []string{testPool}, Topics: []string{testTopic}}, collect(received)))
	errCh := runAsync(s, ctx)

	first := <-requests
	second := <-requests
	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), second.ID)
	assert.Equal(t, methodSubscribe, second.Method)
	assert.Equal(t, first.Params, second.Params)

	select {
	case n := <-received:
		assert.Equal(t, "0xsub2", n.Params.Subscription)
	case <-time.After(5 * time.Second):
		t.Fatalf("notification not forwarded after reconnect")
	}
	assert.Equal(t, int32(2), conns.Load())

	require.NoError(t, s.Close())
	assert.NoError(t, waitErr(t, errCh))
}

func TestRunReturnsReconnectExhausted(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		_ = conn.Close()
	}))
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.MaxReconnectAttempts = 2
	s, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	err = waitErr(t, runAsync(s, context.Background()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReconnectExhausted), "unexpected error: %v", err)
	assert.Equal(t, int32(3), conns.Load())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSubscribeReplacesPreviousFilter(t *testing.T) {
	requests := make(chan seenRequest, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if _, ok := readRequest(t, conn); !ok {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"jsonrpc":"2.0","result":"0xsub1"}`))
		for i := 0; i < 2; i++ {
			req, ok := readRequest(t, conn)
			if !ok {
				return
			}
			requests <- req
		}
		drain(conn)
	}))
	defer server.Close()

	s, err := New(testConfig(wsURL(server)), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	noop := func(context.Context, model.LogNotification) {}
	require.NoError(t, s.Subscribe(ctx, Filter{Address: []string{testPool}, Topics: []string{testTopic}}, noop))
	errCh := runAsync(s, ctx)

	require.Eventually(t, func() bool { return s.SubscriptionID() == "0xsub1" }, 5*time.Second, 5*time.Millisecond)

	other := "0x397ff1542f962076d0bfe58ea045ffa2d347aca0"
	require.NoError(t, s.Subscribe(ctx, Filter{Address: []string{testPool, other}, Topics: []string{testTopic}}, noop))

	unsubscribe := <-requests
	assert.Equal(t, uint64(2), unsubscribe.ID)
	assert.Equal(t, methodUnsubscribe, unsubscribe.Method)
	require.Len(t, unsubscribe.Params, 1)
	assert.JSONEq(t, `"0xsub1"`, string(unsubscribe.Params[0]))

	subscribe := <-requests
	assert.Equal(t, uint64(3), subscribe.ID)
	assert.Equal(t, methodSubscribe, subscribe.Method)
	require.Len(t, subscribe.Params, 2)
	assert.JSONEq(t, `{"address":["`+testPool+`","`+other+`"],"topics":["`+testTopic+`"]}`, string(subscribe.Params[1]))
	assert.Equal(t, "", s.SubscriptionID())

	require.NoError(t, s.Close())
	assert.NoError(t, waitErr(t, errCh))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		drain(conn)
	}))
	defer server.Close()

	s, err := New(testConfig(wsURL(server)), nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(s, ctx)
	cancel()
	assert.NoError(t, waitErr(t, errCh))
}

func TestClosedSubscriberRejectsCalls(t *testing.T) {
	s, err := New(Config{URL: "ws://127.0.0.1:1"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.ErrorIs(t, s.Connect(ctx), ErrClosed)
	assert.ErrorIs(t, s.Subscribe(ctx, Filter{}, func(context.Context, model.LogNotification) {}), ErrClosed)
	assert.ErrorIs(t, s.Run(ctx), ErrClosed)
}

func TestConnectFailsFast(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1")
	s, err := New(cfg, nil, nil)
	require.NoError(t, err)
	assert.Error(t, s.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, s.State())
}
