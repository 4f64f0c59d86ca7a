// Package endpoint implements the voice-activity-based endpointer (§3, §4.5):
// an append-only PCM buffer that decides when a recording should stop.
package endpoint

import (
	"math"
	"time"
)

// Params are the endpointer's tunable thresholds (spec §6.3 "audio.*").
type Params struct {
	SilenceThreshold time.Duration
	MaxDuration      time.Duration
	MinDuration      time.Duration
	EnergyThreshold  float64
}

// Endpointer accumulates 16-bit little-endian mono PCM and tracks voice
// activity by RMS energy. Each DeviceSession owns one instance for its whole
// lifetime; it buffers audio only between Start and Stop.
type Endpointer struct {
	params Params

	buffer        []byte
	isRecording   bool
	startTime     time.Time
	lastVoiceTime time.Time

	now func() time.Time
}

// New creates an Endpointer. now defaults to time.Now; tests may override
// it for deterministic clock control.
func New(params Params) *Endpointer {
	return &Endpointer{params: params, now: time.Now}
}

// Start marks the endpointer as actively recording, stamping startTime and
// lastVoiceTime at the current instant.
func (e *Endpointer) Start() {
	n := e.now()
	e.isRecording = true
	e.startTime = n
	e.lastVoiceTime = n
	e.buffer = e.buffer[:0]
}

// IsRecording reports whether Start has been called without a matching Stop.
func (e *Endpointer) IsRecording() bool { return e.isRecording }

// Append adds bytes to the buffer and updates voice-activity tracking. A
// call while not recording is a silent no-op (spec §4.5 step 1).
func (e *Endpointer) Append(chunk []byte) {
	if !e.isRecording {
		return
	}
	e.buffer = append(e.buffer, chunk...)
	if rms(chunk) > e.params.EnergyThreshold {
		e.lastVoiceTime = e.now()
	}
}

// ShouldStop is pure over (now, startTime, lastVoiceTime, maxDuration,
// silenceThreshold, minDuration), per spec §3's invariant.
func (e *Endpointer) ShouldStop() bool {
	if !e.isRecording {
		return false
	}
	now := e.now()
	elapsed := now.Sub(e.startTime)
	silence := now.Sub(e.lastVoiceTime)

	if elapsed >= e.params.MaxDuration {
		return true
	}
	return silence >= e.params.SilenceThreshold && elapsed >= e.params.MinDuration
}

// Stop returns the accumulated bytes and clears isRecording. Idempotent:
// calling Stop again returns an empty slice.
func (e *Endpointer) Stop() []byte {
	if !e.isRecording {
		return nil
	}
	e.isRecording = false
	out := e.buffer
	e.buffer = nil
	return out
}

// rms computes sqrt(mean(x_i^2)) over the chunk reinterpreted as signed
// little-endian 16-bit samples, normalized to [-1, 1]. An odd trailing byte
// is tolerated by truncation. Empty input yields 0.
func rms(chunk []byte) float64 {
	n := len(chunk) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n*2; i += 2 {
		sample := int16(chunk[i]) | int16(chunk[i+1])<<8
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}
