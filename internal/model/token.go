package model

// Token captures the ERC20 fields a feed needs. Immutable once resolved.
type Token struct {
	Address  string `json:"address" avro:"address" mapstructure:"address"`
	Decimals int    `json:"decimals" avro:"decimals" mapstructure:"decimals"`
}
