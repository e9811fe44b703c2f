package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rudmsa/feedagg/internal/exchange"
	"github.com/rudmsa/feedagg/internal/market"
)

var (
	ErrInvalid = errors.New("invalid config")
)

type Config struct {
	Exchanges  map[string]ExchangeConfig `yaml:"exchanges"`
	Feed       FeedConfig                `yaml:"feed"`
	Supervisor SupervisorConfig          `yaml:"supervisor"`
	Log        LogConfig                 `yaml:"log"`
	HTTP       HTTPConfig                `yaml:"http"`
	Sink       SinkConfig                `yaml:"sink"`
	Index      IndexConfig               `yaml:"index"`
}

// ExchangeConfig overrides per-exchange connection settings. Zero values
// fall back to the defaults.
type ExchangeConfig struct {
	Endpoint string `yaml:"endpoint"`
	// SubscribeRate is the sustained number of connection+subscribe
	// attempts allowed per second.
	SubscribeRate  float64 `yaml:"subscribe_rate"`
	SubscribeBurst int     `yaml:"subscribe_burst"`
}

type FeedConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	IdleTick         time.Duration `yaml:"idle_tick"`
	// BreakerFailures is the number of consecutive dial failures that opens
	// the exchange's circuit breaker.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

type SupervisorConfig struct {
	IdleTick                 time.Duration `yaml:"idle_tick"`
	InboundBuffer            int           `yaml:"inbound_buffer"`
	RequestBuffer            int           `yaml:"request_buffer"`
	ResponseBuffer           int           `yaml:"response_buffer"`
	TradeBuffer              int           `yaml:"trade_buffer"`
	UnsubscribeOnDecodeError bool          `yaml:"unsubscribe_on_decode_error"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json or auto
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type SinkConfig struct {
	Type    string   `yaml:"type"` // none, redis or kafka
	Addr    string   `yaml:"addr"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Prefix  string   `yaml:"prefix"`
}

type IndexConfig struct {
	Interval time.Duration `yaml:"interval"`
}

func Default() *Config {
	return &Config{
		Exchanges: map[string]ExchangeConfig{
			market.Coinbase.String():    {SubscribeRate: 1, SubscribeBurst: 5},
			market.Kraken.String():      {SubscribeRate: 1, SubscribeBurst: 5},
			market.Hyperliquid.String(): {SubscribeRate: 2, SubscribeBurst: 10},
		},
		Feed: FeedConfig{
			HandshakeTimeout: 15 * time.Second,
			IdleTick:         time.Second,
			BreakerFailures:  3,
			BreakerTimeout:   30 * time.Second,
		},
		Supervisor: SupervisorConfig{
			IdleTick:       15 * time.Second,
			InboundBuffer:  4096,
			RequestBuffer:  64,
			ResponseBuffer: 1024,
			TradeBuffer:    1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Sink: SinkConfig{
			Type:   "none",
			Topic:  "trades",
			Prefix: "trades",
		},
		Index: IndexConfig{
			Interval: 5 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config [%s]: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config [%s]: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	for name := range c.Exchanges {
		if _, err := market.ParseExchange(name); err != nil {
			return fmt.Errorf("%w: exchanges: %v", ErrInvalid, err)
		}
	}
	if c.Feed.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: feed.handshake_timeout must be positive", ErrInvalid)
	}
	if c.Feed.IdleTick <= 0 || c.Supervisor.IdleTick <= 0 {
		return fmt.Errorf("%w: idle_tick must be positive", ErrInvalid)
	}
	if c.Supervisor.InboundBuffer < 1 || c.Supervisor.RequestBuffer < 1 || c.Supervisor.ResponseBuffer < 1 {
		return fmt.Errorf("%w: supervisor buffers must be at least 1", ErrInvalid)
	}
	switch c.Sink.Type {
	case "", "none":
	case "redis":
		if c.Sink.Addr == "" {
			return fmt.Errorf("%w: sink.addr is required for redis", ErrInvalid)
		}
	case "kafka":
		if len(c.Sink.Brokers) == 0 || c.Sink.Topic == "" {
			return fmt.Errorf("%w: sink.brokers and sink.topic are required for kafka", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown sink type %q", ErrInvalid, c.Sink.Type)
	}
	return nil
}

// Exchange returns the effective settings for ex with defaults filled in.
func (c *Config) Exchange(ex market.Exchange) ExchangeConfig {
	ec := c.Exchanges[ex.String()]
	if ec.Endpoint == "" {
		ec.Endpoint, _ = exchange.DefaultEndpoint(ex)
	}
	if ec.SubscribeRate <= 0 {
		ec.SubscribeRate = 1
	}
	if ec.SubscribeBurst <= 0 {
		ec.SubscribeBurst = 1
	}
	return ec
}
