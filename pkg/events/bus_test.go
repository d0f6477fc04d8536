package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishAssignsIDAndTimestamp(t *testing.T) {
	bus := NewBus()

	var got Event
	bus.Subscribe(func(ev Event) { got = ev })

	bus.Publish(Event{Type: TypeLoginSucceeded, UserID: "u1"})

	require.Equal(t, TypeLoginSucceeded, got.Type)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	bus.Subscribe(func(Event) { order = append(order, 1) })
	bus.Subscribe(func(Event) { order = append(order, 2) })

	bus.Publish(Event{Type: TypeUserCreated})
	assert.Equal(t, []int{1, 2}, order)
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()

	delivered := false
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { delivered = true })

	bus.Publish(Event{Type: TypeUserLocked})
	assert.True(t, delivered)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(Event{Type: TypeLoginFailed})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}
