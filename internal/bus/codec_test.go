package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/hamba/avro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kay-cwc/dex-market-data-stream/internal/config"
	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
)

const missingR0SchemaJSON = `{
  "type": "record",
  "name": "PartialFeed",
  "namespace": "marketdata.test",
  "fields": [
    {"name": "symbol", "type": "string"},
    {"name": "topics", "type": {"type": "array", "items": "string"}},
    {"name": "address", "type": "string"},
    {"name": "token0", "type": {
      "type": "record",
      "name": "PartialToken",
      "fields": [
        {"name": "address", "type": "string"},
        {"name": "decimals", "type": "int"}
      ]
    }},
    {"name": "token1", "type": "PartialToken"},
    {"name": "r1", "type": "double"},
    {"name": "basePrice", "type": "double"}
  ]
}`

func sampleFeed() model.Feed {
	return model.Feed{
		Symbol:    "WETH-USDC",
		Topics:    []string{"0x1c411e9a96e071241c2f21f7726b17ae89e3cab4c78be50e062b03a9fffbbad1"},
		Address:   "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc",
		Token0:    model.Token{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		Token1:    model.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		R0:        2.0,
		R1:        4000.0,
		BasePrice: 0,
	}
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "mainnet-uniswap-v2", TopicName(config.ChainMainnet, config.DexUniswapV2))
	assert.Equal(t, "mainnet-uniswap-v2-value", SubjectName("mainnet-uniswap-v2"))
}

func TestCodecRoundTrip(t *testing.T) {
	ctx := context.Background()
	codec, err := NewFeedCodec(NewMemoryRegistry())
	require.NoError(t, err)

	payload, err := codec.Encode(ctx, "mainnet-uniswap-v2", sampleFeed())
	require.NoError(t, err)
	require.Equal(t, byte(0x00), payload[0])
	assert.Equal(t, []byte{0, 0, 0, 1}, payload[1:5])

	got, err := codec.Decode(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, sampleFeed(), got)
}

func TestCodecDecodesWithSharedRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	writer, err := NewFeedCodec(reg)
	require.NoError(t, err)
	reader, err := NewFeedCodec(reg)
	require.NoError(t, err)

	payload, err := writer.Encode(ctx, "mainnet-uniswap-v2", sampleFeed())
	require.NoError(t, err)
	got, err := reader.Decode(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, sampleFeed(), got)
}

func TestCodecRejectsMissingR0(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	partial, err := avro.Parse(missingR0SchemaJSON)
	require.NoError(t, err)
	writer, err := NewCodec(reg, partial)
	require.NoError(t, err)
	reader, err := NewFeedCodec(reg)
	require.NoError(t, err)

	feed := sampleFeed()
	payload, err := writer.Encode(ctx, "mainnet-uniswap-v2", map[string]interface{}{
		"symbol":    feed.Symbol,
		"topics":    feed.Topics,
		"address":   feed.Address,
		"token0":    map[string]interface{}{"address": feed.Token0.Address, "decimals": feed.Token0.Decimals},
		"token1":    map[string]interface{}{"address": feed.Token1.Address, "decimals": feed.Token1.Decimals},
		"r1":        feed.R1,
		"basePrice": feed.BasePrice,
	})
	require.NoError(t, err)

	_, err = reader.Decode(ctx, payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFeed), "unexpected error: %v", err)
}

func TestCodecRejectsBadPayloads(t *testing.T) {
	ctx := context.Background()
	codec, err := NewFeedCodec(NewMemoryRegistry())
	require.NoError(t, err)

	_, err = codec.Decode(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = codec.Decode(ctx, []byte{0x01, 0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrInvalidFeed)

	_, err = codec.Decode(ctx, []byte{0x00, 0, 0, 0, 9, 0x02})
	assert.Error(t, err)
}

func TestMemoryRegistryReusesIDs(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	schema, err := FeedSchema()
	require.NoError(t, err)

	first, err := reg.Register(ctx, "a-value", schema)
	require.NoError(t, err)
	again, err := reg.Register(ctx, "a-value", schema)
	require.NoError(t, err)
	other, err := reg.Register(ctx, "b-value", schema)
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)

	got, err := reg.Schema(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, schema.Fingerprint(), got.Fingerprint())

	_, err = reg.Schema(ctx, 99)
	assert.Error(t, err)
}
