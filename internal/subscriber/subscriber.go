// Package subscriber maintains one eth_subscribe("logs") subscription over a
// JSON-RPC websocket and reconnects with bounded backoff.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
	"github.com/Kay-cwc/dex-market-data-stream/internal/observability"
)

var (
	// ErrClosed is returned by operations on a closed subscriber.
	ErrClosed = errors.New("subscriber closed")
	// ErrReconnectExhausted is returned by Run when every reconnect attempt failed.
	ErrReconnectExhausted = errors.New("websocket reconnect attempts exhausted")
	// ErrNotConnected is returned when a request is sent without a connection.
	ErrNotConnected = errors.New("websocket not connected")
)

const (
	methodSubscribe   = "eth_subscribe"
	methodUnsubscribe = "eth_unsubscribe"
)

// State is the connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Filter is the eth_subscribe logs filter.
type Filter struct {
	Address []string `json:"address"`
	Topics  []string `json:"topics"`
}

// Callback receives every log notification, synchronously on the pump goroutine.
type Callback func(ctx context.Context, n model.LogNotification)

// Config configures the websocket subscriber.
type Config struct {
	URL                  string
	ConnectTimeout       time.Duration
	WriteTimeout         time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
}

// DefaultConfig returns default subscriber settings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		ConnectTimeout:       15 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReconnectDelay:       time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		PingInterval:         30 * time.Second,
	}
}

// Subscriber owns one websocket connection and at most one logs filter.
type Subscriber struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics

	state     atomic.Int32
	closed    atomic.Bool
	requestID atomic.Uint64
	done      chan struct{}

	// connMu guards conn and serializes writes.
	connMu sync.Mutex
	conn   *websocket.Conn

	mu             sync.Mutex
	filter         *Filter
	callback       Callback
	subscriptionID string
	subscribeReq   uint64
	pending        map[uint64]string
}

// New builds a disconnected subscriber.
func New(cfg Config, logger *zap.Logger, metrics *observability.Metrics) (*Subscriber, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket url is required")
	}
	defaults := DefaultConfig(cfg.URL)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaults.ReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
		pending: make(map[uint64]string),
	}, nil
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// SubscriptionID returns the id acknowledged for the current filter, if any.
func (s *Subscriber) SubscriptionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptionID
}

func (s *Subscriber) setState(state State) {
	s.state.Store(int32(state))
	s.metrics.SetState(int(state))
}

// Connect dials the endpoint and re-sends the known filter, if any.
func (s *Subscriber) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, s.cfg.URL, nil)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.connMu.Lock()
	if s.closed.Load() {
		s.connMu.Unlock()
		_ = conn.Close()
		s.setState(StateDisconnected)
		return ErrClosed
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.connMu.Unlock()
	s.setState(StateConnected)
	s.logger.Info("websocket connected", zap.String("url", s.cfg.URL))

	s.mu.Lock()
	filter := s.filter
	s.subscriptionID = ""
	s.mu.Unlock()
	if filter != nil {
		if err := s.send(methodSubscribe, []interface{}{"logs", *filter}); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}
	return nil
}

// Subscribe replaces the single logs filter and its callback. The previous
// subscription, when acknowledged, is unsubscribed first. When disconnected
// the filter is sent on the next Connect.
func (s *Subscriber) Subscribe(ctx context.Context, filter Filter, cb Callback) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if cb == nil {
		return fmt.Errorf("callback is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := Filter{
		Address: append([]string{}, filter.Address...),
		Topics:  append([]string{}, filter.Topics...),
	}
	s.mu.Lock()
	previous := s.subscriptionID
	s.filter = &stored
	s.callback = cb
	s.subscriptionID = ""
	s.mu.Unlock()

	if s.State() != StateConnected {
		return nil
	}
	if previous != "" {
		if err := s.send(methodUnsubscribe, []interface{}{previous}); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", previous, err)
		}
	}
	if err := s.send(methodSubscribe, []interface{}{"logs", stored}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Run pumps inbound frames until ctx is cancelled or Close is called. A read
// failure triggers reconnect with exponential backoff; when attempts run out
// Run returns ErrReconnectExhausted.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	stop := context.AfterFunc(ctx, s.closeConn)
	defer stop()

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go s.pingLoop(pingCtx)

	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			if s.stopped(ctx) {
				return nil
			}
			return ErrNotConnected
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			if s.stopped(ctx) {
				return nil
			}
			s.setState(StateDisconnected)
			s.logger.Warn("websocket read failed", zap.Error(err))
			if err := s.reconnect(ctx); err != nil {
				if s.stopped(ctx) {
					return nil
				}
				return err
			}
			continue
		}
		s.handleFrame(ctx, frame)
	}
}

// Close stops Run and closes the connection. Safe to call more than once.
func (s *Subscriber) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
	s.setState(StateDisconnected)
	return nil
}

func (s *Subscriber) stopped(ctx context.Context) bool {
	return s.closed.Load() || ctx.Err() != nil
}

func (s *Subscriber) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.connMu.Unlock()
}

func (s *Subscriber) reconnect(ctx context.Context) error {
	s.closeConn()

	err := withRetry(ctx, s.cfg.MaxReconnectAttempts, s.cfg.ReconnectDelay, s.cfg.MaxReconnectDelay, func(ctx context.Context, attempt int) error {
		if s.closed.Load() {
			return ErrClosed
		}
		s.metrics.RecordReconnect()
		err := s.Connect(ctx)
		if err != nil {
			s.logger.Warn("websocket reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, s.cfg.MaxReconnectAttempts, err)
	}
	if s.State() != StateConnected {
		return fmt.Errorf("%w: reconnect disabled", ErrReconnectExhausted)
	}
	return nil
}

func (s *Subscriber) pingLoop(ctx context.Context) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
					s.logger.Debug("websocket ping failed", zap.Error(err))
				}
			}
			s.connMu.Unlock()
		}
	}
}

type rpcRequest struct {
	ID      uint64        `json:"id"`
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcFrame struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (s *Subscriber) send(method string, params []interface{}) error {
	id := s.requestID.Add(1)
	s.mu.Lock()
	s.pending[id] = method
	if method == methodSubscribe {
		s.subscribeReq = id
	}
	s.mu.Unlock()

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteJSON(rpcRequest{ID: id, JSONRPC: "2.0", Method: method, Params: params}); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}
	s.logger.Debug("rpc request sent", zap.Uint64("id", id), zap.String("method", method))
	return nil
}

func (s *Subscriber) handleFrame(ctx context.Context, data []byte) {
	var frame rpcFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.metrics.RecordFrame("malformed")
		s.logger.Warn("discard malformed frame", zap.Error(err), zap.ByteString("frame", truncate(data)))
		return
	}

	if frame.Method == model.SubscriptionMethod {
		var n model.LogNotification
		if err := json.Unmarshal(data, &n); err != nil {
			s.metrics.RecordFrame("malformed")
			s.logger.Warn("discard malformed notification", zap.Error(err))
			return
		}
		s.mu.Lock()
		cb := s.callback
		current := s.subscriptionID
		s.mu.Unlock()
		if current != "" && n.Params.Subscription != current {
			s.metrics.RecordFrame("stale")
			s.logger.Debug("discard notification for stale subscription", zap.String("subscription", n.Params.Subscription))
			return
		}
		s.metrics.RecordFrame("notification")
		if cb != nil {
			cb(ctx, n)
		}
		return
	}

	if frame.ID != nil {
		s.metrics.RecordFrame("response")
		s.handleResponse(*frame.ID, frame)
		return
	}

	s.metrics.RecordFrame("other")
	s.logger.Debug("discard frame", zap.ByteString("frame", truncate(data)))
}

func (s *Subscriber) handleResponse(id uint64, frame rpcFrame) {
	s.mu.Lock()
	method, ok := s.pending[id]
	delete(s.pending, id)
	latest := s.subscribeReq
	s.mu.Unlock()

	if frame.Error != nil {
		s.logger.Warn("rpc error response",
			zap.Uint64("id", id),
			zap.String("method", method),
			zap.Int("code", frame.Error.Code),
			zap.String("message", frame.Error.Message),
		)
		return
	}
	if !ok || method != methodSubscribe || id != latest {
		s.logger.Debug("rpc response", zap.Uint64("id", id), zap.String("method", method))
		return
	}

	var subscriptionID string
	if err := json.Unmarshal(frame.Result, &subscriptionID); err != nil {
		s.logger.Warn("invalid subscription id", zap.Uint64("id", id), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.subscriptionID = subscriptionID
	s.mu.Unlock()
	s.logger.Info("logs subscription active", zap.String("subscription", subscriptionID))
}

func truncate(data []byte) []byte {
	const max = 256
	if len(data) > max {
		return data[:max]
	}
	return data
}
