package rpc

import (
	"encoding/json"
	"errors"
	"runtime"

	"github.com/fortiblox/bfjit/internal/types"
	"github.com/fortiblox/bfjit/pkg/engine"
	"github.com/fortiblox/bfjit/pkg/jit"
	"github.com/fortiblox/bfjit/pkg/parser"
)

// parseSourceParams extracts [source, config?] params.
func parseSourceParams(params json.RawMessage) (string, json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return "", nil, InvalidParamsError("invalid params")
	}
	if len(args) < 1 {
		return "", nil, InvalidParamsError("missing source parameter")
	}

	var source string
	if err := json.Unmarshal(args[0], &source); err != nil {
		return "", nil, InvalidParamsError("invalid source")
	}

	var cfg json.RawMessage
	if len(args) > 1 {
		cfg = args[1]
	}
	return source, cfg, nil
}

// programError maps compile and run failures to RPC errors.
func programError(err error) *RPCError {
	var perr *parser.ParseError
	if errors.As(err, &perr) {
		return ParseFailureError(perr.Error(), perr.Kind.String(), perr.Pos)
	}
	if errors.Is(err, engine.ErrOutputOverflow) {
		return NewRPCError(ProgramOutputOverflow, err.Error())
	}
	if errors.Is(err, engine.ErrTapeOutOfBounds) {
		return NewRPCError(ProgramTapeOutOfBounds, err.Error())
	}
	return NewRPCError(ProgramExecutionFailure, err.Error())
}

// compile parses and compiles a program without running it.
func (s *Server) compile(params json.RawMessage) (interface{}, *RPCError) {
	source, _, rpcErr := parseSourceParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	c, err := s.engine.Compile(source)
	if err != nil {
		return nil, programError(err)
	}
	defer c.Close()

	return CompileResult{
		Hash:     c.Hash.String(),
		CodeSize: c.CodeSize(),
		Emits:    c.Emits,
		CacheHit: c.CacheHit,
		Backend:  string(s.engine.Backend()),
	}, nil
}

// run compiles and executes a program and returns its encoded output.
func (s *Server) run(params json.RawMessage) (interface{}, *RPCError) {
	source, rawCfg, rpcErr := parseSourceParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var cfg RunConfig
	if len(rawCfg) > 0 {
		if err := json.Unmarshal(rawCfg, &cfg); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}
	encoding, ok := ParseEncoding(string(cfg.Encoding))
	if !ok {
		return nil, InvalidParamsError("unsupported encoding: " + string(cfg.Encoding))
	}

	res, err := s.engine.Run(source)
	if err != nil {
		return nil, programError(err)
	}

	output, err := EncodeOutput(res.Output, encoding)
	if err != nil {
		return nil, InternalServerErrorf("encode output: %v", err)
	}

	return RunResult{
		Hash:      res.Hash.String(),
		Output:    output,
		Encoding:  string(encoding),
		Text:      jit.RenderText(res.Output),
		Length:    len(res.Output),
		CacheHit:  res.CacheHit,
		Backend:   string(res.Backend),
		ElapsedUs: res.Elapsed.Microseconds(),
	}, nil
}

// getHealth returns the server health status.
func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the server version.
func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{
		Version:       engine.Version,
		FormatVersion: types.FormatVersion,
		Arch:          runtime.GOARCH,
		Native:        jit.NativeSupported(),
	}, nil
}

// getStats returns engine and code cache counters.
func (s *Server) getStats(params json.RawMessage) (interface{}, *RPCError) {
	st := s.engine.Stats()
	cfg := s.engine.Config()

	result := StatsResult{
		Backend:     string(s.engine.Backend()),
		TapeSize:    cfg.TapeSize,
		Compiles:    st.Compiles,
		Runs:        st.Runs,
		RunErrors:   st.RunErrors,
		ParseErrors: st.ParseErrors,
		CacheHits:   st.CacheHits,
		CacheMisses: st.CacheMisses,
	}

	if cfg.Cache != nil {
		cs, err := cfg.Cache.Stats()
		if err != nil {
			return nil, InternalServerErrorf("cache stats: %v", err)
		}
		result.Cache = &CacheStats{
			Entries:   cs.Entries,
			CodeBytes: cs.CodeBytes,
			DiskBytes: cs.DiskBytes,
		}
	}

	return result, nil
}
