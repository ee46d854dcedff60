package circuitbreaker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_ClosedByDefault(t *testing.T) {
	b := New("store", 3)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Failures())
}

func TestBreaker_TripsAtThreshold(t *testing.T) {
	b := New("store", 3)

	assert.False(t, b.RecordFailure())
	assert.False(t, b.RecordFailure())
	assert.Equal(t, StateClosed, b.State())

	assert.True(t, b.RecordFailure())
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 3, b.Failures())
}

func TestBreaker_SuccessResetsRun(t *testing.T) {
	b := New("store", 3)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Zero(t, b.Failures())

	// The run starts over: two more failures are not enough.
	assert.False(t, b.RecordFailure())
	assert.False(t, b.RecordFailure())
	assert.True(t, b.RecordFailure())
}

func TestBreaker_SuccessClosesOpenBreaker(t *testing.T) {
	b := New("store", 1)
	assert.True(t, b.RecordFailure())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_DefaultThreshold(t *testing.T) {
	b := New("store", 0)
	assert.Equal(t, 5, b.Threshold())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestBreaker_ConcurrentFailures(t *testing.T) {
	b := New("store", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.RecordFailure()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, b.Failures())
	assert.Equal(t, StateOpen, b.State())
}
