package model

// Feed is the latest known reserve snapshot of one pool. R0 and R1 are
// human-scaled by the token decimals; every other field is fixed at creation.
type Feed struct {
	Symbol    string   `json:"symbol" avro:"symbol" mapstructure:"symbol"`
	Topics    []string `json:"topics" avro:"topics" mapstructure:"topics"`
	Address   string   `json:"address" avro:"address" mapstructure:"address"`
	Token0    Token    `json:"token0" avro:"token0" mapstructure:"token0"`
	Token1    Token    `json:"token1" avro:"token1" mapstructure:"token1"`
	R0        float64  `json:"r0" avro:"r0" mapstructure:"r0"`
	R1        float64  `json:"r1" avro:"r1" mapstructure:"r1"`
	BasePrice float64  `json:"basePrice" avro:"basePrice" mapstructure:"basePrice"`
}

// Clone returns a deep copy of the feed.
func (f Feed) Clone() Feed {
	out := f
	if f.Topics != nil {
		out.Topics = make([]string, len(f.Topics))
		copy(out.Topics, f.Topics)
	}
	return out
}
