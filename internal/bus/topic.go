// Package bus relays feeds through Kafka using an Avro schema-registry codec.
package bus

import (
	"errors"

	"github.com/Kay-cwc/dex-market-data-stream/internal/config"
)

// MessageKey is set on every message so a topic's updates share one partition.
const MessageKey = "pool_reserve"

var (
	// ErrEmptyPayload is returned when a message carries no value.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrInvalidFeed is returned when a decoded record does not match the feed shape.
	ErrInvalidFeed = errors.New("invalid feed")
)

// TopicName returns the topic that carries feeds for one chain and dex.
func TopicName(chain config.Chain, dex config.Dex) string {
	return string(chain) + "-" + string(dex)
}

// SubjectName returns the registry subject for a topic's values.
func SubjectName(topic string) string {
	return topic + "-value"
}
