package grpcapi

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Default configuration values.
const (
	// DefaultKeepaliveTime is the default interval for keepalive pings.
	DefaultKeepaliveTime = 10 * time.Second

	// DefaultKeepaliveTimeout is the default timeout for keepalive responses.
	DefaultKeepaliveTimeout = 5 * time.Second

	// DefaultMaxMessageSize bounds request and response messages (16MB).
	DefaultMaxMessageSize = 16 * 1024 * 1024

	// DefaultCallTimeout bounds a single client call.
	DefaultCallTimeout = 30 * time.Second
)

// Configuration errors.
var (
	ErrNoEndpoint    = errors.New("grpc endpoint is required")
	ErrInvalidConfig = errors.New("invalid grpc configuration")
)

// ServerConfig holds the gRPC server configuration.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string

	// Token, when set, must be presented by clients in the x-token header.
	// Supports ${VAR_NAME} expansion.
	Token string

	// MaxMessageSize is the maximum message size in bytes.
	MaxMessageSize int

	// LogRequests enables request logging.
	LogRequests bool
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8900",
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// ClientConfig holds the configuration for the Runner client.
type ClientConfig struct {
	// Endpoint is the gRPC endpoint (host:port). Required.
	Endpoint string

	// Token is sent in the x-token header. Supports ${VAR_NAME} expansion.
	Token string

	// UseTLS enables TLS for the connection.
	UseTLS bool

	// Keepalive configuration.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// MaxMessageSize is the maximum message size in bytes.
	MaxMessageSize int

	// CallTimeout bounds each call when the caller's context has no deadline.
	CallTimeout time.Duration

	// Headers are additional headers to send with every call.
	Headers map[string]string
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		MaxMessageSize:   DefaultMaxMessageSize,
		CallTimeout:      DefaultCallTimeout,
		Headers:          make(map[string]string),
	}
}

// Validate checks the client configuration.
func (c *ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	if c.KeepaliveTime <= 0 || c.KeepaliveTimeout <= 0 {
		return fmt.Errorf("%w: keepalive durations must be positive", ErrInvalidConfig)
	}
	return nil
}

// WithDefaults returns a copy with zero fields filled from DefaultClientConfig.
func (c ClientConfig) WithDefaults() ClientConfig {
	defaults := DefaultClientConfig()

	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = defaults.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = defaults.CallTimeout
	}
	if c.Headers == nil {
		c.Headers = defaults.Headers
	}
	return c
}

// ExpandedToken returns the token with environment variable expansion.
func (c *ClientConfig) ExpandedToken() string {
	return os.ExpandEnv(c.Token)
}

// ExpandedToken returns the token with environment variable expansion.
func (c *ServerConfig) ExpandedToken() string {
	return os.ExpandEnv(c.Token)
}
