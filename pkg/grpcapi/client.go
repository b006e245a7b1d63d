package grpcapi

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// Client calls the bfjit.Runner service.
type Client struct {
	config ClientConfig
	conn   *grpc.ClientConn
	md     metadata.MD
}

// Dial connects to the configured endpoint. Extra dial options are appended,
// which tests use to install an in-memory dialer.
func Dial(config ClientConfig, extra ...grpc.DialOption) (*Client, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	kacp := keepalive.ClientParameters{
		Time:                config.KeepaliveTime,
		Timeout:             config.KeepaliveTimeout,
		PermitWithoutStream: true,
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	}

	if config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if config.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{
			token:      config.ExpandedToken(),
			requireTLS: config.UseTLS,
		}))
	}
	opts = append(opts, extra...)

	//nolint:staticcheck // Dial keeps passthrough resolution for plain host:port endpoints
	conn, err := grpc.Dial(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}

	return &Client{
		config: config,
		conn:   conn,
		md:     metadata.New(config.Headers),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if len(c.md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, c.md)
	}
	if _, ok := ctx.Deadline(); !ok && c.config.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.config.CallTimeout)
	}
	return ctx, func() {}
}

// Run compiles and runs source on the server.
func (c *Client) Run(ctx context.Context, source string) (*RunResponse, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	out := new(RunResponse)
	if err := c.conn.Invoke(ctx, RunMethod, &RunRequest{Source: source}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Compile compiles source on the server.
func (c *Client) Compile(ctx context.Context, source string) (*CompileResponse, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	out := new(CompileResponse)
	if err := c.conn.Invoke(ctx, CompileMethod, &CompileRequest{Source: source}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// tokenAuth implements grpc.PerRPCCredentials for token authentication.
type tokenAuth struct {
	token      string
	requireTLS bool
}

// GetRequestMetadata returns the authentication metadata.
func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		"x-token": t.token,
	}, nil
}

// RequireTransportSecurity returns whether TLS is required.
func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}
