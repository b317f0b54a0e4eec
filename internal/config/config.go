package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// StreamConfig holds configuration for the producer side (chain -> bus).
type StreamConfig struct {
	RPCWS                string
	RPCHTTP              string
	Chain                Chain
	Dex                  Dex
	PairConfigDir        string
	KafkaBrokers         []string
	SchemaRegistry       string
	ConnectTimeout       time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	MetricsListen        string
	PGDSN                string
	LogLevel             string
}

// ServeConfig holds configuration for the consumer side (bus -> state store -> http).
type ServeConfig struct {
	Chain           Chain
	Dex             Dex
	KafkaBrokers    []string
	SchemaRegistry  string
	GroupID         string
	Listen          string
	ShutdownTimeout time.Duration
	PGDSN           string
	LogLevel        string
}

// LoadStream merges config file, environment variables, and flags into StreamConfig.
func LoadStream(cfgFile string, flags *pflag.FlagSet) (StreamConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"chain":                  string(ChainMainnet),
		"dex":                    string(DexUniswapV2),
		"pair-config-dir":        "./config/pairs",
		"kafka-brokers":          "localhost:9092",
		"connect-timeout":        15 * time.Second,
		"reconnect-delay":        time.Second,
		"max-reconnect-delay":    30 * time.Second,
		"max-reconnect-attempts": 10,
		"ping-interval":          30 * time.Second,
		"log-level":              "info",
	})
	if err != nil {
		return StreamConfig{}, err
	}

	chain, err := ParseChain(v.GetString("chain"))
	if err != nil {
		return StreamConfig{}, err
	}
	dex, err := ParseDex(v.GetString("dex"))
	if err != nil {
		return StreamConfig{}, err
	}

	cfg := StreamConfig{
		RPCWS:                v.GetString("rpc-ws"),
		RPCHTTP:              v.GetString("rpc-http"),
		Chain:                chain,
		Dex:                  dex,
		PairConfigDir:        v.GetString("pair-config-dir"),
		KafkaBrokers:         getStringSlice(v, "kafka-brokers"),
		SchemaRegistry:       v.GetString("schema-registry"),
		ConnectTimeout:       v.GetDuration("connect-timeout"),
		ReconnectDelay:       v.GetDuration("reconnect-delay"),
		MaxReconnectDelay:    v.GetDuration("max-reconnect-delay"),
		MaxReconnectAttempts: v.GetInt("max-reconnect-attempts"),
		PingInterval:         v.GetDuration("ping-interval"),
		MetricsListen:        v.GetString("metrics-listen"),
		PGDSN:                v.GetString("pg-dsn"),
		LogLevel:             v.GetString("log-level"),
	}
	return cfg, nil
}

// Validate checks the values the stream pipeline cannot start without.
func (c StreamConfig) Validate() error {
	if err := requireURL("rpc-ws", c.RPCWS, "ws", "wss"); err != nil {
		return err
	}
	if err := requireURL("rpc-http", c.RPCHTTP, "http", "https"); err != nil {
		return err
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka-brokers is required")
	}
	if c.PairConfigDir == "" {
		return fmt.Errorf("pair-config-dir is required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect-timeout must be positive")
	}
	if c.ReconnectDelay <= 0 || c.MaxReconnectDelay < c.ReconnectDelay {
		return fmt.Errorf("reconnect-delay must be positive and not exceed max-reconnect-delay")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max-reconnect-attempts must not be negative")
	}
	return nil
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"chain":            string(ChainMainnet),
		"dex":              string(DexUniswapV2),
		"kafka-brokers":    "localhost:9092",
		"group-id":         "dex-data-consumer",
		"listen":           ":8080",
		"shutdown-timeout": 10 * time.Second,
		"log-level":        "info",
	})
	if err != nil {
		return ServeConfig{}, err
	}

	chain, err := ParseChain(v.GetString("chain"))
	if err != nil {
		return ServeConfig{}, err
	}
	dex, err := ParseDex(v.GetString("dex"))
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		Chain:           chain,
		Dex:             dex,
		KafkaBrokers:    getStringSlice(v, "kafka-brokers"),
		SchemaRegistry:  v.GetString("schema-registry"),
		GroupID:         v.GetString("group-id"),
		Listen:          v.GetString("listen"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		PGDSN:           v.GetString("pg-dsn"),
		LogLevel:        v.GetString("log-level"),
	}
	return cfg, nil
}

// Validate checks the values the serve pipeline cannot start without.
func (c ServeConfig) Validate() error {
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka-brokers is required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("group-id is required")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown-timeout must be positive")
	}
	return nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("MDS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func requireURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported scheme %q", name, u.Scheme)
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
