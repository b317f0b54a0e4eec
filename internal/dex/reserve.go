package dex

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Kay-cwc/dex-market-data-stream/internal/bus"
	"github.com/Kay-cwc/dex-market-data-stream/internal/config"
	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
	"github.com/Kay-cwc/dex-market-data-stream/internal/observability"
)

const reserveWordSize = 32

// Publisher sends a complete feed to a bus topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, feed model.Feed) error
}

// ReserveStream keeps the producer-side feed of every configured pool and
// republishes it on each pool reserve event.
type ReserveStream struct {
	topic     string
	addresses []string
	topics    []string
	publisher Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics

	mu    sync.Mutex
	feeds map[string]model.Feed
}

// NewReserveStream seeds one feed per pair, keyed by lowercased pool address.
func NewReserveStream(chain config.Chain, dex config.Dex, pairs []model.PairMetadata, publisher Publisher, logger *zap.Logger, metrics *observability.Metrics) (*ReserveStream, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	topics, err := DexTopics(dex)
	if err != nil {
		return nil, err
	}

	s := &ReserveStream{
		topic:     bus.TopicName(chain, dex),
		addresses: make([]string, 0, len(pairs)),
		topics:    topics,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		feeds:     make(map[string]model.Feed, len(pairs)),
	}
	for _, pair := range pairs {
		address := strings.ToLower(pair.Address)
		if _, dup := s.feeds[address]; dup {
			return nil, fmt.Errorf("duplicate pool address %s", address)
		}
		feed := pair.NewFeed()
		feed.Address = address
		s.feeds[address] = feed
		s.addresses = append(s.addresses, address)
	}
	return s, nil
}

// Topic returns the bus topic feeds are published to.
func (s *ReserveStream) Topic() string {
	return s.topic
}

// Filter returns the pool addresses and topics the stream listens to.
func (s *ReserveStream) Filter() ([]string, []string) {
	addresses := make([]string, len(s.addresses))
	copy(addresses, s.addresses)
	topics := make([]string, len(s.topics))
	copy(topics, s.topics)
	return addresses, topics
}

// Snapshot returns a copy of the producer-side feeds keyed by pool address.
func (s *ReserveStream) Snapshot() map[string]model.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.Feed, len(s.feeds))
	for address, feed := range s.feeds {
		out[address] = feed.Clone()
	}
	return out
}

// Handle processes one log notification. Malformed events, unknown pools and
// unknown topics are logged and ignored.
func (s *ReserveStream) Handle(ctx context.Context, n model.LogNotification) {
	if err := n.Validate(); err != nil {
		s.logger.Warn("malformed log event", zap.Error(err))
		return
	}
	log := n.Params.Result
	address := strings.ToLower(log.Address)

	s.mu.Lock()
	_, known := s.feeds[address]
	s.mu.Unlock()
	if !known {
		s.logger.Warn("unknown pair", zap.String("address", address), zap.String("tx", log.TransactionHash))
		return
	}

	switch kind := Classify(log.Topic0()); kind {
	case EventPoolReserve:
		s.handlePoolReserve(ctx, address, log)
	case EventUnknown:
		s.logger.Info("unsupported event topic", zap.String("address", address), zap.String("topic0", log.Topic0()))
	default:
		s.logger.Error("unhandled event kind", zap.Stringer("kind", kind))
	}
}

func (s *ReserveStream) handlePoolReserve(ctx context.Context, address string, log model.LogEvent) {
	s.mu.Lock()
	feed := s.feeds[address]
	r0, r1, err := DecodeReserves(log.Data, feed.Token0.Decimals, feed.Token1.Decimals)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("decode reserves failed", zap.String("address", address), zap.String("tx", log.TransactionHash), zap.Error(err))
		return
	}
	feed.R0 = r0
	feed.R1 = r1
	s.feeds[address] = feed
	out := feed.Clone()
	s.mu.Unlock()

	start := time.Now()
	err = s.publisher.Publish(ctx, s.topic, out)
	s.metrics.RecordPublish(s.topic, time.Since(start).Seconds(), err)
	if err != nil {
		s.logger.Error("publish feed failed", zap.String("topic", s.topic), zap.String("symbol", out.Symbol), zap.Error(err))
		return
	}
	s.logger.Debug("feed published",
		zap.String("topic", s.topic),
		zap.String("symbol", out.Symbol),
		zap.Float64("r0", out.R0),
		zap.Float64("r1", out.R1),
		zap.String("block", log.BlockNumber),
	)
}

// DecodeReserves reads reserve0 and reserve1 from the first two 32-byte words
// of a Sync event payload and scales them by the token decimals.
func DecodeReserves(data string, decimals0, decimals1 int) (float64, float64, error) {
	raw, err := hexutil.Decode(data)
	if err != nil {
		return 0, 0, fmt.Errorf("decode data: %w", err)
	}
	if len(raw) < 2*reserveWordSize {
		return 0, 0, fmt.Errorf("data too short: %d bytes", len(raw))
	}
	reserve0 := new(big.Int).SetBytes(raw[:reserveWordSize])
	reserve1 := new(big.Int).SetBytes(raw[reserveWordSize : 2*reserveWordSize])

	return ScaleReserve(reserve0, decimals0).InexactFloat64(), ScaleReserve(reserve1, decimals1).InexactFloat64(), nil
}

// ScaleReserve returns raw * 10^-decimals without rounding.
func ScaleReserve(raw *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -int32(decimals))
}
