package stt

import "errors"

// Sentinel errors every vendor client in this package wraps its failures
// with, mirroring the convention pkg/providers/llm uses and, one layer up,
// internal/pipeline's own stage sentinels.
var (
	ErrTranscriptionRequest = errors.New("speech-to-text request failed")
	ErrTranscriptionJob     = errors.New("speech-to-text job failed")
)
