package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), time.Second, nil, "panicky", func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	// Reaching here without the test process dying is the assertion.
}

func TestSafeGo_RunsFunction(t *testing.T) {
	done := make(chan error, 1)
	SafeGo(context.Background(), time.Second, nil, "ok", func(ctx context.Context) error {
		done <- nil
		return errors.New("logged, not propagated")
	})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	expired := make(chan struct{})
	SafeGo(context.Background(), 10*time.Millisecond, nil, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		close(expired)
		return ctx.Err()
	})

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("context did not expire")
	}
}

func TestJanitor_RunsAndStops(t *testing.T) {
	j := NewJanitor(nil)

	var mu sync.Mutex
	runs := 0
	require.NoError(t, j.Every(100*time.Millisecond, "tick", func() error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	}))
	require.NoError(t, j.Every(100*time.Millisecond, "panicky", func() error {
		panic("boom")
	}))
	require.NoError(t, j.Every(100*time.Millisecond, "failing", func() error {
		return errors.New("nope")
	}))

	j.Start()
	time.Sleep(350 * time.Millisecond)
	j.Stop()

	mu.Lock()
	count := runs
	mu.Unlock()
	assert.GreaterOrEqual(t, count, 2)

	// No more runs after Stop.
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, count, runs)
	mu.Unlock()
}
