package grpcapi

// RunRequest asks the server to compile and run a program.
type RunRequest struct {
	Source string `json:"source"`
}

// RunResponse carries a program's output.
type RunResponse struct {
	Hash      string `json:"hash"`
	Output    []byte `json:"output"`
	Text      string `json:"text"`
	CacheHit  bool   `json:"cacheHit"`
	Backend   string `json:"backend"`
	CodeSize  int    `json:"codeSize"`
	ElapsedUs int64  `json:"elapsedUs"`
}

// CompileRequest asks the server to compile a program without running it.
type CompileRequest struct {
	Source string `json:"source"`
}

// CompileResponse describes compiled code.
type CompileResponse struct {
	Hash     string `json:"hash"`
	CodeSize int    `json:"codeSize"`
	Emits    int    `json:"emits"`
	CacheHit bool   `json:"cacheHit"`
	Backend  string `json:"backend"`
}
