package main

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fortiblox/bfjit/pkg/codecache"
	"github.com/fortiblox/bfjit/pkg/engine"
)

func newInterpEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Backend = engine.BackendInterp
	eng, err := engine.New(cfg)
	if err != nil {
		t.Fatalf("engine.New() failed: %v", err)
	}
	return eng
}

func TestRunProgram(t *testing.T) {
	eng := newInterpEngine(t)

	tests := []struct {
		name     string
		source   string
		code     int
		stdout   string
		stderrIn string
	}{
		{"output", "++++++++[>++++++++<-]>+.", 0, "A", ""},
		{"parse error", "+]", 1, "", "Unexpected loop close at character: 1"},
		{"overflow", "+++[.-]", 1, "\x03", "output buffer overflow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := runProgram(eng, tt.source, &stdout, &stderr)
			if code != tt.code {
				t.Errorf("exit code = %d, want %d", code, tt.code)
			}
			if stdout.String() != tt.stdout {
				t.Errorf("stdout = %q, want %q", stdout.String(), tt.stdout)
			}
			if !strings.Contains(stderr.String(), tt.stderrIn) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tt.stderrIn)
			}
		})
	}
}

func TestRunProgramDump(t *testing.T) {
	eng := newInterpEngine(t)

	*dump = true
	defer func() { *dump = false }()

	var stdout, stderr bytes.Buffer
	if code := runProgram(eng, "+.", &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr.String())
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "; ") || !strings.Contains(out, "00000000  55 48 89 e5") {
		t.Errorf("dump = %q", out)
	}
}

func TestWriteOutputRender(t *testing.T) {
	*render = true
	defer func() { *render = false }()

	var buf bytes.Buffer
	writeOutput(&buf, []byte("hi"), 4)
	if buf.String() != "hi\x00\x00\n" {
		t.Errorf("rendered = %q", buf.String())
	}
}

func TestRunClosesCache(t *testing.T) {
	dir := t.TempDir()

	defer func(e, d, b, l string) { *expr, *cacheDir, *backend, *logLevel = e, d, b, l }(*expr, *cacheDir, *backend, *logLevel)
	*expr, *cacheDir, *backend, *logLevel = "++[-]", dir, "interp", "error"
	defer log.SetOutput(os.Stderr)

	if code := run(); code != 0 {
		t.Fatalf("run() = %d, want 0", code)
	}

	// The file lock is free only if run closed the store.
	cfg := codecache.DefaultBoltConfig(dir)
	cfg.Timeout = 200 * time.Millisecond
	store, err := codecache.OpenBolt(cfg)
	if err != nil {
		t.Fatalf("cache still locked after run(): %v", err)
	}
	store.Close()
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want severity
		ok   bool
	}{
		{"debug", levelDebug, true},
		{"info", levelInfo, true},
		{"", levelInfo, true},
		{"error", levelError, true},
		{"warn", levelInfo, false},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestConfigureLogging(t *testing.T) {
	defer log.SetOutput(os.Stderr)

	for _, tt := range []struct {
		level  severity
		silent bool
	}{
		{levelDebug, false},
		{levelInfo, false},
		{levelError, true},
	} {
		errLog := configureLogging(tt.level)
		if errLog == nil {
			t.Fatal("configureLogging() returned nil")
		}
		if tt.silent != (log.Writer() != os.Stderr) {
			t.Errorf("level %d: standard logger writer silenced = %v, want %v", tt.level, log.Writer() != os.Stderr, tt.silent)
		}
		if errLog.Writer() != os.Stderr {
			t.Errorf("level %d: failure logger does not write to stderr", tt.level)
		}
	}
}

func TestBuildConfigDebugLogger(t *testing.T) {
	cfg, cache, err := buildConfig(levelDebug)
	if err != nil || cache != nil {
		t.Fatalf("buildConfig() = %v, %v", cache, err)
	}
	if cfg.Logger == nil {
		t.Error("debug level did not set an engine logger")
	}
	cfg, _, _ = buildConfig(levelInfo)
	if cfg.Logger != nil {
		t.Error("info level set an engine logger")
	}
}
