package bus

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
)

const (
	wireMagic     byte = 0x00
	wireHeaderLen      = 5
)

// Codec frames Avro payloads in the Confluent wire format:
// magic byte 0x00, 4-byte big-endian schema id, Avro binary body.
type Codec struct {
	registry SchemaRegistry
	schema   avro.Schema

	mu      sync.RWMutex
	ids     map[string]int
	schemas map[int]avro.Schema
}

// NewCodec builds a codec that writes with schema.
func NewCodec(registry SchemaRegistry, schema avro.Schema) (*Codec, error) {
	if registry == nil {
		return nil, fmt.Errorf("schema registry is nil")
	}
	if schema == nil {
		return nil, fmt.Errorf("writer schema is nil")
	}
	return &Codec{
		registry: registry,
		schema:   schema,
		ids:      make(map[string]int),
		schemas:  make(map[int]avro.Schema),
	}, nil
}

// NewFeedCodec builds a codec that writes with FeedSchema.
func NewFeedCodec(registry SchemaRegistry) (*Codec, error) {
	schema, err := FeedSchema()
	if err != nil {
		return nil, err
	}
	return NewCodec(registry, schema)
}

// Register ensures the writer schema is registered for topic and returns its id.
func (c *Codec) Register(ctx context.Context, topic string) (int, error) {
	subject := SubjectName(topic)

	c.mu.RLock()
	id, ok := c.ids[subject]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := c.registry.Register(ctx, subject, c.schema)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.ids[subject] = id
	c.schemas[id] = c.schema
	c.mu.Unlock()
	return id, nil
}

// Encode serializes value with the writer schema registered for topic.
func (c *Codec) Encode(ctx context.Context, topic string, value interface{}) ([]byte, error) {
	id, err := c.Register(ctx, topic)
	if err != nil {
		return nil, err
	}
	body, err := avro.Marshal(c.schema, value)
	if err != nil {
		return nil, fmt.Errorf("avro marshal: %w", err)
	}

	out := make([]byte, wireHeaderLen, wireHeaderLen+len(body))
	out[0] = wireMagic
	binary.BigEndian.PutUint32(out[1:wireHeaderLen], uint32(id))
	return append(out, body...), nil
}

// Decode parses a framed payload into a feed. Every feed field must be
// present in the writer's record.
func (c *Codec) Decode(ctx context.Context, payload []byte) (model.Feed, error) {
	if len(payload) == 0 {
		return model.Feed{}, ErrEmptyPayload
	}
	if len(payload) < wireHeaderLen || payload[0] != wireMagic {
		return model.Feed{}, fmt.Errorf("%w: bad wire header", ErrInvalidFeed)
	}
	id := int(binary.BigEndian.Uint32(payload[1:wireHeaderLen]))

	schema, err := c.writerSchema(ctx, id)
	if err != nil {
		return model.Feed{}, err
	}

	var record map[string]interface{}
	if err := avro.Unmarshal(schema, payload[wireHeaderLen:], &record); err != nil {
		return model.Feed{}, fmt.Errorf("%w: avro unmarshal: %v", ErrInvalidFeed, err)
	}
	return feedFromRecord(record)
}

func (c *Codec) writerSchema(ctx context.Context, id int) (avro.Schema, error) {
	c.mu.RLock()
	schema, ok := c.schemas[id]
	c.mu.RUnlock()
	if ok {
		return schema, nil
	}

	schema, err := c.registry.Schema(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.schemas[id] = schema
	c.mu.Unlock()
	return schema, nil
}

func feedFromRecord(record map[string]interface{}) (model.Feed, error) {
	var feed model.Feed
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		ErrorUnset: true,
		Result:     &feed,
	})
	if err != nil {
		return model.Feed{}, fmt.Errorf("feed decoder: %w", err)
	}
	if err := decoder.Decode(record); err != nil {
		return model.Feed{}, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}
	return feed, nil
}
