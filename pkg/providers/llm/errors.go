package llm

import "errors"

// Sentinel errors every vendor client in this package wraps its failures
// with, so a caller can errors.Is check for "request failed" vs "vendor
// replied with nothing" without parsing vendor-specific response bodies —
// the same sentinel-error convention internal/pipeline uses for its own
// stage failures.
var (
	ErrCompletionRequest = errors.New("llm completion request failed")
	ErrEmptyCompletion   = errors.New("llm provider returned no completion")
)
