// Package clock supplies the engine's single nanosecond time source.
package clock

import "time"

// Source returns the current time as nanoseconds.
// Now() is called at the top of each main-loop iteration, after every
// receive, and when sending.
type Source interface {
	Now() int64
}

// Monotonic returns time.Now().UnixNano(): wall-clock nanoseconds since
// the Unix epoch, the same scale as the receive timestamps socketmux
// reports. UnixNano drops Go's runtime monotonic reading, so the value
// follows adjustments of the system clock.
type Monotonic struct{}

// Now implements Source.
func (Monotonic) Now() int64 {
	return time.Now().UnixNano()
}

// Fake is a deterministic Source for property tests: advance it explicitly
// instead of sleeping.
type Fake struct {
	ns int64
}

// NewFake creates a Fake clock starting at the given nanosecond value.
func NewFake(start int64) *Fake {
	return &Fake{ns: start}
}

// Now implements Source.
func (f *Fake) Now() int64 {
	return f.ns
}

// Advance moves the fake clock forward by d nanoseconds and returns the
// new value.
func (f *Fake) Advance(d int64) int64 {
	f.ns += d
	return f.ns
}

// Set pins the fake clock to an absolute nanosecond value.
func (f *Fake) Set(ns int64) {
	f.ns = ns
}
