package grpcapi

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fortiblox/bfjit/pkg/engine"
	"github.com/fortiblox/bfjit/pkg/jit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

// startTestServer runs a Runner server on the interpreter over an in-memory
// listener and returns a connected client.
func startTestServer(t *testing.T, serverCfg ServerConfig, clientCfg ClientConfig) (*Client, *engine.Engine) {
	t.Helper()
	return startBackendServer(t, engine.BackendInterp, serverCfg, clientCfg)
}

func startBackendServer(t *testing.T, backend engine.Backend, serverCfg ServerConfig, clientCfg ClientConfig) (*Client, *engine.Engine) {
	t.Helper()

	cfg := engine.DefaultConfig()
	cfg.Backend = backend
	eng, err := engine.New(cfg)
	if err != nil {
		t.Fatalf("engine.New() failed: %v", err)
	}

	ln := bufconn.Listen(bufSize)
	srv := NewServer(serverCfg, eng)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)

	clientCfg.Endpoint = "bufnet"
	client, err := Dial(clientCfg, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return ln.DialContext(ctx)
	}))
	if err != nil {
		cancel()
		t.Fatalf("Dial() failed: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		cancel()
		srv.Stop()
	})
	return client, eng
}

func TestRun(t *testing.T) {
	client, eng := startTestServer(t, DefaultServerConfig(), DefaultClientConfig())

	resp, err := client.Run(context.Background(), "++++++++[>++++++++<-]>+.+.")
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !bytes.Equal(resp.Output, []byte("AB")) || resp.Text != "AB" {
		t.Errorf("output = %q, text = %q", resp.Output, resp.Text)
	}
	if resp.Backend != string(engine.BackendInterp) {
		t.Errorf("Backend = %q", resp.Backend)
	}

	// Same bytes as running the engine directly.
	direct, err := eng.Run("++++++++[>++++++++<-]>+.+.")
	if err != nil {
		t.Fatalf("engine Run() failed: %v", err)
	}
	if !bytes.Equal(direct.Output, resp.Output) || direct.Hash.String() != resp.Hash {
		t.Error("gRPC result differs from engine result")
	}
}

func TestRunTextIsOneCharPerByte(t *testing.T) {
	client, _ := startTestServer(t, DefaultServerConfig(), DefaultClientConfig())

	resp, err := client.Run(context.Background(), "-.+++++++++++++++++++++++.")
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !bytes.Equal(resp.Output, []byte{0xff, 0x16}) {
		t.Fatalf("output = % x", resp.Output)
	}
	if resp.Text != jit.RenderText(resp.Output) || resp.Text != "ÿ\x16" {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestCompile(t *testing.T) {
	client, _ := startTestServer(t, DefaultServerConfig(), DefaultClientConfig())

	resp, err := client.Compile(context.Background(), "+[-]..")
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	if resp.Emits != 2 || resp.CodeSize == 0 || resp.Hash == "" {
		t.Errorf("Compile() = %+v", resp)
	}
}

func TestErrorCodes(t *testing.T) {
	client, _ := startTestServer(t, DefaultServerConfig(), DefaultClientConfig())

	tests := []struct {
		name   string
		source string
		code   codes.Code
	}{
		{"unexpected close", "+]", codes.InvalidArgument},
		{"unclosed loop", "[", codes.InvalidArgument},
		{"overflow", "+++[.-]", codes.ResourceExhausted},
		{"tape underflow", "<+", codes.OutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Run(context.Background(), tt.source)
			if got := status.Code(err); got != tt.code {
				t.Errorf("code = %s, want %s (%v)", got, tt.code, err)
			}
		})
	}
}

func TestOffTapeKeepsServing(t *testing.T) {
	backends := []engine.Backend{engine.BackendInterp}
	if jit.NativeSupported() {
		backends = append(backends, engine.BackendJIT)
	}

	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			client, _ := startBackendServer(t, backend, DefaultServerConfig(), DefaultClientConfig())

			_, err := client.Run(context.Background(), strings.Repeat(">", 40)+"+")
			if status.Code(err) != codes.OutOfRange {
				t.Fatalf("code = %s, want OutOfRange (%v)", status.Code(err), err)
			}

			resp, err := client.Run(context.Background(), "+++.")
			if err != nil {
				t.Fatalf("Run() after fault failed: %v", err)
			}
			if !bytes.Equal(resp.Output, []byte{3}) {
				t.Errorf("output = %v, want [3]", resp.Output)
			}
		})
	}
}

func TestTokenAuth(t *testing.T) {
	serverCfg := DefaultServerConfig()
	serverCfg.Token = "secret"

	t.Run("missing token", func(t *testing.T) {
		client, _ := startTestServer(t, serverCfg, DefaultClientConfig())
		_, err := client.Run(context.Background(), "+.")
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("code = %s, want Unauthenticated", status.Code(err))
		}
	})

	t.Run("valid token", func(t *testing.T) {
		clientCfg := DefaultClientConfig()
		clientCfg.Token = "secret"
		client, _ := startTestServer(t, serverCfg, clientCfg)
		if _, err := client.Run(context.Background(), "+."); err != nil {
			t.Errorf("Run() failed: %v", err)
		}
	})

	t.Run("expanded token", func(t *testing.T) {
		t.Setenv("BFJIT_TEST_TOKEN", "secret")
		clientCfg := DefaultClientConfig()
		clientCfg.Token = "${BFJIT_TEST_TOKEN}"
		client, _ := startTestServer(t, serverCfg, clientCfg)
		if _, err := client.Run(context.Background(), "+."); err != nil {
			t.Errorf("Run() failed: %v", err)
		}
	})
}

func TestCallTimeout(t *testing.T) {
	clientCfg := DefaultClientConfig()
	clientCfg.CallTimeout = time.Nanosecond
	client, _ := startTestServer(t, DefaultServerConfig(), clientCfg)

	_, err := client.Run(context.Background(), "+.")
	if status.Code(err) != codes.DeadlineExceeded {
		t.Errorf("code = %s, want DeadlineExceeded", status.Code(err))
	}
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ClientConfig)
		want   error
	}{
		{"no endpoint", func(c *ClientConfig) { c.Endpoint = "" }, ErrNoEndpoint},
		{"bad message size", func(c *ClientConfig) { c.MaxMessageSize = -1 }, ErrInvalidConfig},
		{"bad keepalive", func(c *ClientConfig) { c.KeepaliveTime = -1 }, ErrInvalidConfig},
		{"valid", func(c *ClientConfig) {}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClientConfig()
			cfg.Endpoint = "localhost:8900"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCodecRegistered(t *testing.T) {
	c := jsonCodec{}
	data, err := c.Marshal(&RunRequest{Source: "+."})
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	var req RunRequest
	if err := c.Unmarshal(data, &req); err != nil || req.Source != "+." {
		t.Errorf("Unmarshal() = %+v, %v", req, err)
	}
}
