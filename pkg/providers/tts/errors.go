package tts

import "errors"

// Sentinel errors this package's vendor client wraps its failures with,
// mirroring the convention pkg/providers/llm and pkg/providers/stt use.
var (
	ErrSynthesisConnection = errors.New("tts connection failed")
	ErrSynthesisRequest    = errors.New("tts synthesis request failed")
)
