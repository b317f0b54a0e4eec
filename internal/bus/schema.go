package bus

import (
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
)

// FeedSchemaJSON is the Avro schema of a published feed. Every field is required.
const FeedSchemaJSON = `{
  "type": "record",
  "name": "Feed",
  "namespace": "marketdata",
  "fields": [
    {"name": "symbol", "type": "string"},
    {"name": "topics", "type": {"type": "array", "items": "string"}},
    {"name": "address", "type": "string"},
    {"name": "token0", "type": {
      "type": "record",
      "name": "Token",
      "fields": [
        {"name": "address", "type": "string"},
        {"name": "decimals", "type": "int"}
      ]
    }},
    {"name": "token1", "type": "Token"},
    {"name": "r0", "type": "double"},
    {"name": "r1", "type": "double"},
    {"name": "basePrice", "type": "double"}
  ]
}`

var (
	feedSchema     avro.Schema
	feedSchemaOnce sync.Once
	feedSchemaErr  error
)

// FeedSchema returns the parsed feed schema.
func FeedSchema() (avro.Schema, error) {
	feedSchemaOnce.Do(func() {
		feedSchema, feedSchemaErr = avro.Parse(FeedSchemaJSON)
		if feedSchemaErr != nil {
			feedSchemaErr = fmt.Errorf("parse feed schema: %w", feedSchemaErr)
		}
	})
	return feedSchema, feedSchemaErr
}
