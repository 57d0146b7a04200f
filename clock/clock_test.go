package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvanceAndSet(t *testing.T) {
	f := NewFake(1000)
	assert.Equal(t, int64(1000), f.Now())

	assert.Equal(t, int64(1500), f.Advance(500))
	assert.Equal(t, int64(1500), f.Now())

	f.Set(42)
	assert.Equal(t, int64(42), f.Now())
}

func TestMonotonicIsNonDecreasing(t *testing.T) {
	var m Monotonic
	a := m.Now()
	b := m.Now()
	assert.LessOrEqual(t, a, b)
}
