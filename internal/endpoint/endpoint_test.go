package endpoint

import (
	"testing"
	"time"
)

func loudChunk(n int) []byte {
	chunk := make([]byte, n)
	for i := 0; i < n; i += 2 {
		chunk[i] = 0xff
		chunk[i+1] = 0x7f
	}
	return chunk
}

func quietChunk(n int) []byte {
	return make([]byte, n)
}

func TestShouldStop_SilenceAfterMinDuration(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := New(Params{
		SilenceThreshold: 500 * time.Millisecond,
		MaxDuration:      10 * time.Second,
		MinDuration:      300 * time.Millisecond,
		EnergyThreshold:  0.02,
	})
	e.now = func() time.Time { return clock }
	e.Start()

	clock = clock.Add(200 * time.Millisecond)
	e.Append(loudChunk(100))
	if e.ShouldStop() {
		t.Fatal("should not stop while still speaking within min duration")
	}

	clock = clock.Add(600 * time.Millisecond)
	e.Append(quietChunk(100))
	if !e.ShouldStop() {
		t.Fatal("expected stop after silence exceeds threshold and min duration elapsed")
	}
}

func TestShouldStop_MaxDurationForcesStop(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := New(Params{
		SilenceThreshold: 5 * time.Second,
		MaxDuration:      1 * time.Second,
		MinDuration:      100 * time.Millisecond,
		EnergyThreshold:  0.02,
	})
	e.now = func() time.Time { return clock }
	e.Start()
	clock = clock.Add(1100 * time.Millisecond)
	e.Append(loudChunk(10))
	if !e.ShouldStop() {
		t.Fatal("expected max-duration to force a stop even while still speaking")
	}
}

func TestAppend_NotRecordingIsNoop(t *testing.T) {
	e := New(Params{EnergyThreshold: 0.02})
	e.Append(loudChunk(100))
	if len(e.Stop()) != 0 {
		t.Fatal("expected append while not recording to be dropped")
	}
}

func TestStop_IdempotentAfterStop(t *testing.T) {
	e := New(Params{EnergyThreshold: 0.02})
	e.Start()
	e.Append(loudChunk(10))
	first := e.Stop()
	if len(first) == 0 {
		t.Fatal("expected first stop to return buffered bytes")
	}
	second := e.Stop()
	if len(second) != 0 {
		t.Fatal("expected second stop to be a no-op")
	}
}

func TestRMS_EmptyAndOddLength(t *testing.T) {
	if rms(nil) != 0 {
		t.Error("expected rms of empty input to be 0")
	}
	// Odd trailing byte must be tolerated by truncation, not panic.
	_ = rms([]byte{0x01, 0x02, 0x03})
}
