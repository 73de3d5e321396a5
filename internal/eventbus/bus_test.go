package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func event(linkID uuid.UUID, owner *uuid.UUID) ClickStreamEvent {
	return ClickStreamEvent{
		EventID:   uuid.New(),
		Timestamp: time.Now().UTC(),
		LinkID:    linkID,
		ShortCode: "abc12345",
		OwnerID:   owner,
	}
}

func collect(t *testing.T) (func(ClickStreamEvent), func() []ClickStreamEvent) {
	t.Helper()
	var mu sync.Mutex
	var got []ClickStreamEvent
	return func(ev ClickStreamEvent) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}, func() []ClickStreamEvent {
			mu.Lock()
			defer mu.Unlock()
			out := make([]ClickStreamEvent, len(got))
			copy(out, got)
			return out
		}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	fn, got := collect(t)
	cancel := bus.Subscribe(Filter{}, fn)
	defer cancel()

	ev := event(uuid.New(), nil)
	bus.Publish(ev)

	waitFor(t, func() bool { return len(got()) == 1 })
	assert.Equal(t, ev.EventID, got()[0].EventID)
}

func TestFilterByLinkAndOwner(t *testing.T) {
	bus := NewBus(zap.NewNop())
	linkID := uuid.New()
	owner := uuid.New()

	fn, got := collect(t)
	cancel := bus.Subscribe(Filter{LinkID: &linkID, OwnerID: &owner}, fn)
	defer cancel()

	other := uuid.New()
	bus.Publish(event(linkID, &owner)) // the only match
	bus.Publish(event(uuid.New(), &owner))
	bus.Publish(event(linkID, nil))
	bus.Publish(event(linkID, &other))

	waitFor(t, func() bool { return len(got()) >= 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, got(), 1)
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop())
	fn, got := collect(t)
	cancel := bus.Subscribe(Filter{}, fn)

	bus.Publish(event(uuid.New(), nil))
	waitFor(t, func() bool { return len(got()) == 1 })

	cancel()
	cancel() // safe to call twice
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Publish(event(uuid.New(), nil))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, got(), 1)
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var drops atomic.Int64
	bus.OnDrop(func() { drops.Add(1) })

	block := make(chan struct{})
	cancel := bus.Subscribe(Filter{}, func(ClickStreamEvent) { <-block })
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Far more events than the subscriber buffer holds.
		for i := 0; i < subscriberBuffer*3; i++ {
			bus.Publish(event(uuid.New(), nil))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
	close(block)
	assert.Greater(t, drops.Load(), int64(0))
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	bus := NewBus(zap.NewNop())
	cancelBad := bus.Subscribe(Filter{}, func(ClickStreamEvent) { panic("boom") })
	defer cancelBad()

	fn, got := collect(t)
	cancelGood := bus.Subscribe(Filter{}, fn)
	defer cancelGood()

	bus.Publish(event(uuid.New(), nil))
	bus.Publish(event(uuid.New(), nil))

	waitFor(t, func() bool { return len(got()) == 2 })
}

func TestSubscriberChangeHook(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var mu sync.Mutex
	var counts []int
	bus.OnSubscriberChange(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})

	c1 := bus.Subscribe(Filter{}, func(ClickStreamEvent) {})
	c2 := bus.Subscribe(Filter{}, func(ClickStreamEvent) {})
	c1()
	c1() // second cancel must not fire the hook again
	c2()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 1, 0}, counts)
}

func TestSubscriberCount(t *testing.T) {
	bus := NewBus(zap.NewNop())
	require.Equal(t, 0, bus.SubscriberCount())

	c1 := bus.Subscribe(Filter{}, func(ClickStreamEvent) {})
	c2 := bus.Subscribe(Filter{}, func(ClickStreamEvent) {})
	assert.Equal(t, 2, bus.SubscriberCount())

	c1()
	assert.Equal(t, 1, bus.SubscriberCount())
	c2()
	assert.Equal(t, 0, bus.SubscriberCount())
}
