// Package rpc provides JSON-RPC 2.0 types for the bfjit API.
package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Encoding types for program output.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// RunConfig configures run requests.
type RunConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// CompileResult is returned by compile.
type CompileResult struct {
	Hash     string `json:"hash"`
	CodeSize int    `json:"codeSize"`
	Emits    int    `json:"emits"`
	CacheHit bool   `json:"cacheHit"`
	Backend  string `json:"backend"`
}

// RunResult is returned by run.
type RunResult struct {
	Hash      string `json:"hash"`
	Output    string `json:"output"`
	Encoding  string `json:"encoding"`
	Text      string `json:"text"`
	Length    int    `json:"length"`
	CacheHit  bool   `json:"cacheHit"`
	Backend   string `json:"backend"`
	ElapsedUs int64  `json:"elapsedUs"`
}

// VersionInfo represents server version information.
type VersionInfo struct {
	Version       string `json:"bfjit-core"`
	FormatVersion uint32 `json:"format-version"`
	Arch          string `json:"arch"`
	Native        bool   `json:"native"`
}

// StatsResult is returned by getStats.
type StatsResult struct {
	Backend     string      `json:"backend"`
	TapeSize    int         `json:"tapeSize"`
	Compiles    uint64      `json:"compiles"`
	Runs        uint64      `json:"runs"`
	RunErrors   uint64      `json:"runErrors"`
	ParseErrors uint64      `json:"parseErrors"`
	CacheHits   uint64      `json:"cacheHits"`
	CacheMisses uint64      `json:"cacheMisses"`
	Cache       *CacheStats `json:"cache,omitempty"`
}

// CacheStats describes the code cache.
type CacheStats struct {
	Entries   uint64 `json:"entries"`
	CodeBytes uint64 `json:"codeBytes"`
	DiskBytes int64  `json:"diskBytes"`
}
