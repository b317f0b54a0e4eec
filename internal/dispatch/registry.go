// Package dispatch routes log notifications to callbacks keyed by
// (address, topic0) and owns the single upstream subscription.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
	"github.com/Kay-cwc/dex-market-data-stream/internal/observability"
	"github.com/Kay-cwc/dex-market-data-stream/internal/subscriber"
)

// Key identifies one dispatch bucket. Both fields are lowercased.
type Key struct {
	Address string
	Topic   string
}

// NewKey builds a canonical key.
func NewKey(address, topic string) Key {
	return Key{Address: strings.ToLower(address), Topic: strings.ToLower(topic)}
}

// Callback handles a routed notification.
type Callback func(ctx context.Context, n model.LogNotification)

// Subscriber is the upstream log subscription the registry drives.
type Subscriber interface {
	Subscribe(ctx context.Context, filter subscriber.Filter, cb subscriber.Callback) error
}

// Registry fans notifications out to callbacks in registration order. It is
// the only caller of Subscriber.Subscribe.
type Registry struct {
	sub     Subscriber
	logger  *zap.Logger
	metrics *observability.Metrics

	// subMu serializes filter updates so the last sent filter is the union.
	subMu sync.Mutex

	mu        sync.RWMutex
	buckets   map[Key][]Callback
	addresses []string
	topics    []string
	seen      map[string]struct{}
}

// NewRegistry builds an empty registry over sub.
func NewRegistry(sub Subscriber, logger *zap.Logger, metrics *observability.Metrics) (*Registry, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sub:     sub,
		logger:  logger,
		metrics: metrics,
		buckets: make(map[Key][]Callback),
		seen:    make(map[string]struct{}),
	}, nil
}

// Register adds cb under every (address, topic) pair and forwards the merged
// filter upstream.
func (r *Registry) Register(ctx context.Context, addresses, topics []string, cb Callback) error {
	if cb == nil {
		return fmt.Errorf("callback is nil")
	}
	parsedAddresses, err := ParseAddresses(addresses)
	if err != nil {
		return err
	}
	parsedTopics, err := ParseTopics(topics)
	if err != nil {
		return err
	}
	if len(parsedAddresses) == 0 || len(parsedTopics) == 0 {
		return fmt.Errorf("register needs at least one address and one topic")
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.mu.Lock()
	for _, address := range parsedAddresses {
		for _, topic := range parsedTopics {
			key := Key{Address: address, Topic: topic}
			r.buckets[key] = append(r.buckets[key], cb)
		}
		r.addresses = r.appendUnique(r.addresses, "a:", address)
	}
	for _, topic := range parsedTopics {
		r.topics = r.appendUnique(r.topics, "t:", topic)
	}
	filter := subscriber.Filter{
		Address: append([]string{}, r.addresses...),
		Topics:  append([]string{}, r.topics...),
	}
	r.mu.Unlock()

	r.logger.Info("subscription registered",
		zap.Int("addresses", len(filter.Address)),
		zap.Int("topics", len(filter.Topics)),
	)
	if err := r.sub.Subscribe(ctx, filter, r.Dispatch); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (r *Registry) appendUnique(list []string, prefix, value string) []string {
	if _, ok := r.seen[prefix+value]; ok {
		return list
	}
	r.seen[prefix+value] = struct{}{}
	return append(list, value)
}

// Dispatch invokes every callback registered for the notification's
// (address, topic0), in registration order. Unregistered keys are dropped.
func (r *Registry) Dispatch(ctx context.Context, n model.LogNotification) {
	log := n.Params.Result
	key := NewKey(log.Address, log.Topic0())

	r.mu.RLock()
	callbacks := append([]Callback(nil), r.buckets[key]...)
	r.mu.RUnlock()

	if len(callbacks) == 0 {
		r.metrics.RecordDropped("unregistered")
		r.logger.Debug("drop unregistered log", zap.String("address", key.Address), zap.String("topic0", key.Topic))
		return
	}
	r.metrics.RecordDispatched()
	for _, cb := range callbacks {
		cb(ctx, n)
	}
}

// Filter returns the merged upstream filter.
func (r *Registry) Filter() subscriber.Filter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return subscriber.Filter{
		Address: append([]string{}, r.addresses...),
		Topics:  append([]string{}, r.topics...),
	}
}
