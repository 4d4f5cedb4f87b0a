package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Event{Type: "new_observation", TimestampMS: 1})

	select {
	case ev := <-ch:
		assert.Equal(t, "new_observation", ev.Type)
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestBroadcasterDropsWhenSubscriberBufferFull(t *testing.T) {
	b := NewBroadcaster()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: "new_observation", TimestampMS: int64(i)})
	}

	// Must not block or panic; the buffer (16) is smaller than 100 publishes,
	// so some events are necessarily dropped rather than queued unbounded.
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			require.LessOrEqual(t, count, 16)
			return
		}
	}
}

func TestBroadcasterUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	b.Publish(Event{Type: "new_observation"})

	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after unsubscribe")
}

func TestBroadcasterUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	_, unsubscribe := b.Subscribe()
	unsubscribe()
	assert.NotPanics(t, unsubscribe)
}
