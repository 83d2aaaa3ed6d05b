package model

// Shared defaults used by the ingester and its tests.
const (
	DefaultPipePath    = "/dev/stdin"
	DefaultMaxLineSize = 1024 * 1024 // 1MB
)
