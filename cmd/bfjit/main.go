// bfjit: JIT compiler and runner for eight-symbol tape programs.
//
// Run a program file (or "-" for stdin, or -e for inline source), dump its
// machine code, or serve the JSON-RPC and gRPC APIs.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/fortiblox/bfjit/internal/types"
	"github.com/fortiblox/bfjit/pkg/codecache"
	"github.com/fortiblox/bfjit/pkg/engine"
	"github.com/fortiblox/bfjit/pkg/grpcapi"
	"github.com/fortiblox/bfjit/pkg/jit"
	"github.com/fortiblox/bfjit/pkg/parser"
	"github.com/fortiblox/bfjit/pkg/rpc"
)

// GitCommit is set at build time.
var GitCommit = "dev"

// Configuration flags
var (
	backend      = flag.String("backend", "auto", "Execution backend: auto, jit, interp")
	tapeSize     = flag.Int("tape", jit.DefaultTapeSize, "Tape size in cells (multiple of 8, max 4096)")
	maxSteps     = flag.Uint64("max-steps", 0, "Interpreter step budget (0 = unlimited)")
	outputCap    = flag.Int("output-cap", 0, "Output buffer size in bytes (0 = one byte per '.')")
	cacheDir     = flag.String("cache-dir", "", "Code cache directory (empty disables the cache)")
	cacheBackend = flag.String("cache-backend", "bolt", "Code cache backend: bolt, badger")
	hashAlg      = flag.String("hash", "blake3", "Program hash: blake3, sha3")
	expr         = flag.String("e", "", "Program source given inline")
	dump         = flag.Bool("dump", false, "Print a hex dump of the generated machine code instead of running")
	render       = flag.Bool("render", false, "Print the whole output buffer, one character per byte")
	serve        = flag.Bool("serve", false, "Serve the JSON-RPC and gRPC APIs")
	rpcAddr      = flag.String("rpc-addr", ":8899", "JSON-RPC listen address (empty disables)")
	grpcAddr     = flag.String("grpc-addr", ":8900", "gRPC listen address (empty disables)")
	grpcToken    = flag.String("grpc-token", "", "Token required in the gRPC x-token header")
	logLevel     = flag.String("log-level", "info", "Log level: debug, info, error")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bfjit [flags] [program-file | -]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("bfjit %s (%s) %s/%s format=%d\n", engine.Version, GitCommit, runtime.GOOS, runtime.GOARCH, types.FormatVersion)
		os.Exit(0)
	}

	os.Exit(run())
}

// run executes the command and returns the exit code. Deferred cleanup,
// such as closing the code cache, happens before main exits.
func run() int {
	level, err := parseLogLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	errLog := configureLogging(level)

	cfg, cache, err := buildConfig(level)
	if err != nil {
		errLog.Printf("Invalid configuration: %v", err)
		return 1
	}
	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				errLog.Printf("Failed to close code cache: %v", err)
			}
		}()
	}

	eng, err := engine.New(cfg)
	if err != nil {
		errLog.Printf("Failed to create engine: %v", err)
		return 1
	}

	if *serve {
		if err := runServers(eng, level); err != nil {
			errLog.Printf("Server error: %v", err)
			return 1
		}
		return 0
	}

	source, err := readSource()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		flag.Usage()
		return 2
	}

	return runProgram(eng, source, os.Stdout, os.Stderr)
}

// severity filters the standard logger.
type severity int

const (
	levelDebug severity = iota // engine pipeline events and per-request lines
	levelInfo                  // startup and shutdown
	levelError                 // failures only
)

func parseLogLevel(s string) (severity, error) {
	switch s {
	case "debug":
		return levelDebug, nil
	case "info", "":
		return levelInfo, nil
	case "error":
		return levelError, nil
	default:
		return levelInfo, fmt.Errorf("unknown log level %q (want debug, info, error)", s)
	}
}

// configureLogging sets up the standard logger for level and returns the
// logger used for failures, which is never silenced.
func configureLogging(level severity) *log.Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	log.SetFlags(flags)
	log.SetOutput(os.Stderr)
	if level >= levelError {
		log.SetOutput(io.Discard)
	}
	return log.New(os.Stderr, "", flags)
}

// buildConfig turns the flags into an engine configuration.
func buildConfig(level severity) (engine.Config, codecache.Store, error) {
	cfg := engine.DefaultConfig()

	b, err := engine.ParseBackend(*backend)
	if err != nil {
		return cfg, nil, err
	}
	alg, err := types.ParseHashAlgorithm(*hashAlg)
	if err != nil {
		return cfg, nil, err
	}

	cfg.Backend = b
	cfg.HashAlgorithm = alg
	cfg.TapeSize = *tapeSize
	cfg.MaxSteps = *maxSteps
	cfg.OutputCap = *outputCap

	if level == levelDebug {
		cfg.Logger = log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds)
	}

	if *cacheDir != "" {
		store, err := codecache.Open(codecache.Backend(*cacheBackend), *cacheDir)
		if err != nil {
			return cfg, nil, fmt.Errorf("open code cache: %w", err)
		}
		cfg.Cache = store
		return cfg, store, nil
	}
	return cfg, nil, nil
}

// readSource returns the program text from -e, a file argument or stdin.
func readSource() (string, error) {
	if *expr != "" {
		return *expr, nil
	}
	if flag.NArg() != 1 {
		return "", errors.New("expected exactly one program file (or - for stdin, or -e)")
	}

	path := flag.Arg(0)
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read program: %w", err)
	}
	return string(data), nil
}

// runProgram compiles and runs (or dumps) source and returns the exit code.
func runProgram(eng *engine.Engine, source string, stdout, stderr io.Writer) int {
	c, err := eng.Compile(source)
	if err != nil {
		var perr *parser.ParseError
		if errors.As(err, &perr) {
			fmt.Fprintf(stderr, "parse error: %v\n", perr)
			return 1
		}
		fmt.Fprintf(stderr, "compile error: %v\n", err)
		return 1
	}
	defer c.Close()

	if *dump {
		code, err := c.Code()
		if err != nil {
			fmt.Fprintf(stderr, "assemble: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "; %s  %d bytes  tape=%d  emits=%d\n", c.Hash, len(code), eng.Config().TapeSize, c.Emits)
		fmt.Fprint(stdout, hex.Dump(code))
		return 0
	}

	res, err := c.Run()
	if res != nil {
		writeOutput(stdout, res.Output, c.Emits)
	}
	if err != nil {
		fmt.Fprintf(stderr, "run error: %v\n", err)
		return 1
	}
	return 0
}

// writeOutput prints output bytes. With -render the whole statically sized
// buffer is printed one character per byte, zero padding included.
func writeOutput(w io.Writer, out []byte, emits int) {
	if !*render {
		w.Write(out)
		return
	}
	size := emits
	if *outputCap > 0 {
		size = *outputCap
	}
	if size < len(out) {
		size = len(out)
	}
	buf := make([]byte, size)
	copy(buf, out)
	fmt.Fprintln(w, jit.RenderText(buf))
}

// runServers starts the enabled API servers and blocks until a signal arrives.
func runServers(eng *engine.Engine, level severity) error {
	if *rpcAddr == "" && *grpcAddr == "" {
		return errors.New("-serve needs -rpc-addr or -grpc-addr")
	}

	log.Printf("Starting bfjit %s (backend=%s, tape=%d)", engine.Version, eng.Backend(), eng.Config().TapeSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if *rpcAddr != "" {
		rpcCfg := rpc.DefaultConfig()
		rpcCfg.Addr = *rpcAddr
		rpcCfg.LogRequests = level == levelDebug
		server := rpc.New(rpcCfg, eng)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				errCh <- fmt.Errorf("json-rpc: %w", err)
				cancel()
			}
		}()
	}

	if *grpcAddr != "" {
		grpcCfg := grpcapi.DefaultServerConfig()
		grpcCfg.Addr = *grpcAddr
		grpcCfg.Token = *grpcToken
		grpcCfg.LogRequests = level == levelDebug
		server := grpcapi.NewServer(grpcCfg, eng)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}
