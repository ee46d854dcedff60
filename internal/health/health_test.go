package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(context.Context) Status { return Status{Healthy: true} }

func TestRegistry_Empty(t *testing.T) {
	ok, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, ok)
	assert.Empty(t, statuses)
}

func TestRegistry_AggregatesInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("store", func(context.Context) Status {
		time.Sleep(20 * time.Millisecond) // finishes last
		return Status{Healthy: true}
	})
	r.Register("simulation", func(context.Context) Status {
		return Status{Healthy: false, Detail: "stopped"}
	})

	ok, statuses := r.CheckAll(context.Background())
	assert.False(t, ok)
	require.Len(t, statuses, 2)
	assert.Equal(t, "store", statuses[0].Name, "names come from registration")
	assert.True(t, statuses[0].Healthy)
	assert.GreaterOrEqual(t, statuses[0].LatencyMS, int64(20))
	assert.Equal(t, "simulation", statuses[1].Name)
	assert.Equal(t, "stopped", statuses[1].Detail)
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("store", func(context.Context) Status { return Status{Healthy: false} })
	r.Register("store", healthy)

	ok, statuses := r.CheckAll(context.Background())
	assert.True(t, ok)
	assert.Len(t, statuses, 1)
}

func TestRegistry_SlowCheckerTimesOut(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	r.Register("store", func(context.Context) Status {
		<-release // ignores ctx
		return Status{Healthy: true}
	})

	start := time.Now()
	ok, statuses := r.CheckAll(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, ok)
	require.Len(t, statuses, 1)
	assert.Equal(t, "check timed out", statuses[0].Detail)
}

func TestRegistry_ConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("store", healthy)
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()

	_, statuses := r.CheckAll(context.Background())
	assert.Len(t, statuses, 1)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestStoreChecker(t *testing.T) {
	ok := StoreChecker(pingFunc(func(context.Context) error { return nil }))
	assert.True(t, ok(context.Background()).Healthy)

	down := StoreChecker(pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }))
	st := down(context.Background())
	assert.False(t, st.Healthy)
	assert.Equal(t, "dial tcp: refused", st.Detail)
}

func TestLoopChecker(t *testing.T) {
	alive := true
	check := LoopChecker(func() bool { return alive }, func() string { return "running" })

	st := check(context.Background())
	assert.True(t, st.Healthy)
	assert.Equal(t, "running", st.Detail)

	alive = false
	assert.False(t, check(context.Background()).Healthy)

	assert.Empty(t, LoopChecker(func() bool { return true }, nil)(context.Background()).Detail)
}
