// Package engine drives the full pipeline: parse, hash, look up or generate
// code, and execute with the configured backend.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/fortiblox/bfjit/internal/types"
	"github.com/fortiblox/bfjit/pkg/codecache"
	"github.com/fortiblox/bfjit/pkg/interp"
	"github.com/fortiblox/bfjit/pkg/jit"
	"github.com/fortiblox/bfjit/pkg/parser"
)

// Version is the bfjit release version.
const Version = "0.3.0"

// Backend selects how programs are executed.
type Backend string

const (
	// BackendAuto uses the JIT where native execution is supported and the
	// interpreter elsewhere.
	BackendAuto   Backend = "auto"
	BackendJIT    Backend = "jit"
	BackendInterp Backend = "interp"
)

// ParseBackend parses a backend name.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendJIT:
		return BackendJIT, nil
	case BackendInterp:
		return BackendInterp, nil
	default:
		return "", fmt.Errorf("unknown backend %q", s)
	}
}

// ErrOutputOverflow is returned when a run emits more bytes than its output
// buffer holds. It matches both the JIT and interpreter overflow errors.
var ErrOutputOverflow = errors.New("output buffer overflow")

// ErrTapeOutOfBounds is returned when a run touches a cell off the tape, on
// either backend. Interpreter errors also carry the character position.
var ErrTapeOutOfBounds = interp.ErrTapeOutOfBounds

// Config holds engine configuration.
type Config struct {
	// Backend selects JIT or interpreter execution.
	Backend Backend

	// TapeSize is the number of data cells.
	TapeSize int

	// MaxSteps bounds interpreter runs. Zero is unlimited. The JIT has no step
	// limit; a non-terminating program never returns.
	MaxSteps uint64

	// OutputCap overrides the output buffer size. Zero sizes the buffer to the
	// program's static EmitByte count.
	OutputCap int

	// HashAlgorithm selects the program hash.
	HashAlgorithm types.HashAlgorithm

	// Cache stores generated code between runs. Nil disables caching.
	Cache codecache.Store

	// Logger receives pipeline events. Nil discards them.
	Logger *log.Logger
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendAuto,
		TapeSize:      jit.DefaultTapeSize,
		HashAlgorithm: types.HashBlake3,
	}
}

// Stats contains engine counters.
type Stats struct {
	Compiles    uint64
	Runs        uint64
	CacheHits   uint64
	CacheMisses uint64
	ParseErrors uint64
	RunErrors   uint64
}

// Engine compiles and runs programs.
type Engine struct {
	config  Config
	backend Backend
	log     *log.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates an engine.
func New(config Config) (*Engine, error) {
	if config.TapeSize == 0 {
		config.TapeSize = jit.DefaultTapeSize
	}
	if !jit.ValidTapeSize(config.TapeSize) {
		return nil, fmt.Errorf("%w: %d", jit.ErrInvalidTapeSize, config.TapeSize)
	}
	if config.OutputCap < 0 {
		return nil, fmt.Errorf("invalid output capacity %d", config.OutputCap)
	}
	alg, err := types.ParseHashAlgorithm(string(config.HashAlgorithm))
	if err != nil {
		return nil, err
	}
	config.HashAlgorithm = alg

	backend, err := ParseBackend(string(config.Backend))
	if err != nil {
		return nil, err
	}
	switch {
	case backend == BackendAuto && jit.NativeSupported():
		backend = BackendJIT
	case backend == BackendAuto:
		backend = BackendInterp
	case backend == BackendJIT && !jit.NativeSupported():
		return nil, jit.ErrUnsupportedPlatform
	}

	logger := config.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Engine{
		config:  config,
		backend: backend,
		log:     logger,
	}, nil
}

// Backend returns the resolved backend.
func (e *Engine) Backend() Backend {
	return e.backend
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) count(fn func(s *Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

// Compiled is a parsed program ready to run. Close releases native code.
type Compiled struct {
	engine *Engine

	Hash     types.Hash
	Symbols  string
	Ops      []parser.Op
	Emits    int
	CacheHit bool

	program *jit.Program // nil for the interpreter backend
}

// CodeSize returns the size of the generated machine code.
func (c *Compiled) CodeSize() int {
	if c.program != nil {
		return len(c.program.Code())
	}
	return jit.CodeSize(c.Ops, c.engine.config.TapeSize)
}

// Code returns the machine code for the program. For the interpreter backend
// it is assembled on demand and never executed.
func (c *Compiled) Code() ([]byte, error) {
	if c.program != nil {
		return c.program.Code(), nil
	}
	return jit.Assemble(c.Ops, jit.Options{TapeSize: c.engine.config.TapeSize})
}

// Close releases the executable region, if any.
func (c *Compiled) Close() error {
	if c.program == nil {
		return nil
	}
	return c.program.Close()
}

// Compile parses source and prepares it for the configured backend. Parse
// errors are returned unchanged as *parser.ParseError.
func (e *Engine) Compile(source string) (*Compiled, error) {
	ops, err := parser.Parse(source)
	if err != nil {
		e.count(func(s *Stats) { s.ParseErrors++ })
		return nil, err
	}

	symbols := parser.Symbols(ops)
	hash, err := types.HashProgram(e.config.HashAlgorithm, symbols, e.config.TapeSize)
	if err != nil {
		return nil, err
	}

	c := &Compiled{
		engine:  e,
		Hash:    hash,
		Symbols: symbols,
		Ops:     ops,
		Emits:   parser.CountEmits(ops),
	}
	e.count(func(s *Stats) { s.Compiles++ })

	if e.backend != BackendJIT {
		return c, nil
	}

	if prog := e.loadCached(hash, symbols); prog != nil {
		c.program = prog
		c.CacheHit = true
		return c, nil
	}

	prog, err := jit.Compile(ops, jit.Options{TapeSize: e.config.TapeSize})
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", hash, err)
	}
	c.program = prog
	e.log.Printf("[engine] compiled %s: %d ops, %d code bytes", hash, len(ops), len(prog.Code()))

	e.storeCached(c)
	return c, nil
}

// loadCached maps a cached image for hash. It returns nil on any miss.
func (e *Engine) loadCached(hash types.Hash, symbols string) *jit.Program {
	if e.config.Cache == nil {
		return nil
	}

	entry, err := e.config.Cache.Get(hash)
	if err != nil {
		if !errors.Is(err, codecache.ErrNotFound) {
			e.log.Printf("[engine] cache get %s: %v", hash, err)
		}
		e.count(func(s *Stats) { s.CacheMisses++ })
		return nil
	}
	if entry.Arch != runtime.GOARCH || entry.TapeSize != e.config.TapeSize || entry.Symbols != symbols {
		e.log.Printf("[engine] cache entry %s does not match program, ignoring", hash)
		e.count(func(s *Stats) { s.CacheMisses++ })
		return nil
	}

	prog, err := jit.Load(entry.Code, entry.Emits, entry.TapeSize)
	if err != nil {
		e.log.Printf("[engine] cache load %s: %v", hash, err)
		e.count(func(s *Stats) { s.CacheMisses++ })
		return nil
	}
	e.count(func(s *Stats) { s.CacheHits++ })
	e.log.Printf("[engine] cache hit %s", hash)
	return prog
}

func (e *Engine) storeCached(c *Compiled) {
	if e.config.Cache == nil {
		return
	}
	err := e.config.Cache.Put(&codecache.Entry{
		Hash:     c.Hash,
		Arch:     runtime.GOARCH,
		TapeSize: e.config.TapeSize,
		Emits:    c.Emits,
		Symbols:  c.Symbols,
		Code:     c.program.Code(),
	})
	if err != nil {
		e.log.Printf("[engine] cache put %s: %v", c.Hash, err)
	}
}

// Result is the outcome of a run.
type Result struct {
	Output   []byte
	Hash     types.Hash
	Backend  Backend
	CacheHit bool
	CodeSize int
	Elapsed  time.Duration
}

// Run executes the program. On output overflow the result holds the bytes
// written before the overflow and the error wraps ErrOutputOverflow.
func (c *Compiled) Run() (*Result, error) {
	e := c.engine
	capacity := c.Emits
	if e.config.OutputCap > 0 {
		capacity = e.config.OutputCap
	}

	res := &Result{
		Hash:     c.Hash,
		Backend:  e.backend,
		CacheHit: c.CacheHit,
		CodeSize: c.CodeSize(),
	}

	start := time.Now()
	var err error
	if c.program != nil {
		ctx := jit.NewContext(capacity)
		err = c.program.Invoke(ctx)
		res.Output = ctx.Output()
		switch {
		case errors.Is(err, jit.ErrOutputOverflow):
			err = fmt.Errorf("%w: %d bytes", ErrOutputOverflow, capacity)
		case errors.Is(err, jit.ErrTapeOutOfBounds):
			err = fmt.Errorf("%w (tape %d)", ErrTapeOutOfBounds, e.config.TapeSize)
		}
	} else {
		res.Output, err = interp.Run(c.Ops, capacity, interp.Opts{
			TapeSize: e.config.TapeSize,
			MaxSteps: e.config.MaxSteps,
		})
		if errors.Is(err, interp.ErrOutputOverflow) {
			err = fmt.Errorf("%w: %d bytes", ErrOutputOverflow, capacity)
		}
	}
	res.Elapsed = time.Since(start)

	e.count(func(s *Stats) {
		s.Runs++
		if err != nil {
			s.RunErrors++
		}
	})
	if err != nil {
		e.log.Printf("[engine] run %s failed after %s: %v", c.Hash, res.Elapsed, err)
		return res, err
	}
	e.log.Printf("[engine] run %s: %d bytes in %s", c.Hash, len(res.Output), res.Elapsed)
	return res, nil
}

// Run compiles and runs source, releasing the code afterwards.
func (e *Engine) Run(source string) (*Result, error) {
	c, err := e.Compile(source)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Run()
}
