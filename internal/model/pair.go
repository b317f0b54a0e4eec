package model

// PairMetadata is the resolved, immutable description of one configured pool.
type PairMetadata struct {
	Symbol  string   `json:"symbol"`
	Address string   `json:"address"`
	Token0  Token    `json:"token0"`
	Token1  Token    `json:"token1"`
	Topics  []string `json:"topics"`
}

// NewFeed seeds a feed for the pair with zero reserves.
func (p PairMetadata) NewFeed() Feed {
	topics := make([]string, len(p.Topics))
	copy(topics, p.Topics)
	return Feed{
		Symbol:  p.Symbol,
		Topics:  topics,
		Address: p.Address,
		Token0:  p.Token0,
		Token1:  p.Token1,
	}
}
