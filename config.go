package realtime

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default values for optional configuration fields.
const (
	DefaultTokenParam           = "token"
	DefaultConnectTimeout       = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultQueueCapacity        = 1000
	DefaultLogLevel             = "info"
)

// Config drives a ConnectionManager.
type Config struct {
	// URL is the base endpoint. http(s) schemes are rewritten to ws(s).
	URL string `yaml:"url"`
	// TokenParam is the query parameter carrying the caller identity.
	TokenParam     string        `yaml:"token_param"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// HeartbeatTimeout arms a liveness deadline after each heartbeat. Zero disables it.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	// ReconnectMaxDelay caps the backoff. Zero leaves it uncapped.
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	// MaxReconnectAttempts bounds retries after a lost or failed connection. Zero selects
	// DefaultMaxReconnectAttempts; a negative value disables automatic reconnection.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// ReopenInterval recycles a healthy connection periodically. Zero disables it.
	ReopenInterval time.Duration `yaml:"reopen_interval"`

	Queue QueueConfig `yaml:"queue"`

	LogLevel string `yaml:"log_level"`
}

// QueueConfig bounds the outbound queue. A negative capacity means unbounded.
type QueueConfig struct {
	Capacity int    `yaml:"capacity"`
	Overflow string `yaml:"overflow"`
}

// DefaultConfig returns a Config for url with every optional field defaulted.
func DefaultConfig(url string) Config {
	cfg := Config{URL: url}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a YAML config file, expanding ${VAR} references, then applies defaults
// and validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig for in-memory YAML.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config yaml")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "validate config")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TokenParam == "" {
		c.TokenParam = DefaultTokenParam
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = DefaultQueueCapacity
	}
	if c.Queue.Overflow == "" {
		c.Queue.Overflow = OverflowDropOldest.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks that required fields are set and values are coherent.
func (c Config) Validate() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	} else if _, err := parseEndpoint(c.URL); err != nil {
		errs = append(errs, err)
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, errors.New("connect_timeout must not be negative"))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, errors.New("write_timeout must not be negative"))
	}
	if c.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("heartbeat_interval must not be negative"))
	}
	if c.HeartbeatTimeout < 0 {
		errs = append(errs, errors.New("heartbeat_timeout must not be negative"))
	}
	if c.ReconnectBaseDelay < 0 {
		errs = append(errs, errors.New("reconnect_base_delay must not be negative"))
	}
	if c.ReconnectMaxDelay < 0 {
		errs = append(errs, errors.New("reconnect_max_delay must not be negative"))
	}
	if c.ReopenInterval < 0 {
		errs = append(errs, errors.New("reopen_interval must not be negative"))
	}
	if _, err := ParseOverflowPolicy(c.Queue.Overflow); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d config error(s):", len(errs))
	for _, err := range errs {
		msg += " " + err.Error() + ";"
	}
	return errors.New(msg)
}

func (c Config) overflowPolicy() OverflowPolicy {
	p, _ := ParseOverflowPolicy(c.Queue.Overflow)
	return p
}
