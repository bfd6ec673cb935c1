// Package clockrand provides the production Clock and RandomSource port
// implementations: wall-clock epoch milliseconds and math/rand/v2-backed
// uniform floats, matching the generator Resinat-Resin's scanloop package
// uses for jitter (math/rand/v2, not the legacy math/rand).
package clockrand

import (
	"math/rand/v2"
	"time"
)

// SystemClock reports real wall-clock time in epoch milliseconds.
type SystemClock struct{}

func (SystemClock) NowEpochMs() int64 {
	return time.Now().UnixMilli()
}

// SystemRandom is a concurrency-safe uniform [0,1) source backed by
// math/rand/v2's global generator, which is safe for concurrent use.
type SystemRandom struct{}

func (SystemRandom) NextF64() float64 {
	return rand.Float64()
}
