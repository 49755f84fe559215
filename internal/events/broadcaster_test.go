package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	first, cancelFirst := b.Subscribe(4)
	defer cancelFirst()
	second, cancelSecond := b.Subscribe(4)
	defer cancelSecond()

	b.Publish(Event{Level: "INFO", Module: "scheduler", Message: "started"})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, "scheduler", ev.Module)
			assert.Equal(t, "started", ev.Message)
			assert.False(t, ev.Time.IsZero(), "publish stamps a missing time")
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBroadcaster_FullSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	slow, cancelSlow := b.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := b.Subscribe(8)
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(Event{Message: "tick"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Len(t, slow, 1, "the slow subscriber only keeps what fits")
	assert.Len(t, fast, 5)
}

func TestBroadcaster_Cancel(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	require.Equal(t, 1, b.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, b.Subscribers())

	_, open := <-ch
	assert.False(t, open)

	b.Publish(Event{Message: "after cancel"})
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	b.Close()

	_, open := <-ch
	assert.False(t, open)
	cancel()

	late, _ := b.Subscribe(1)
	_, open = <-late
	assert.False(t, open, "subscribing after close yields a closed channel")
}
