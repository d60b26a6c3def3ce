package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(16)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(KindTargetLost, "emulator-5554", nil)

	select {
	case ev := <-ch:
		assert.Equal(t, KindTargetLost, ev.Kind)
		assert.Equal(t, "emulator-5554", ev.Target)
		assert.Equal(t, int64(1), ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub(16)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Far more events than the subscriber buffer holds.
		for i := 0; i < 1000; i++ {
			h.Publish(KindRecordingRoll, "t1", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestSnapshotSince(t *testing.T) {
	h := NewHub(4)
	for i := 0; i < 6; i++ {
		h.Publish(KindTargetFound, "t1", nil)
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 4, "ring keeps only the newest capacity events")
	assert.Equal(t, int64(3), all[0].ID)

	newer := h.SnapshotSince(4)
	require.Len(t, newer, 2)
	assert.Equal(t, int64(5), newer[0].ID)
	assert.Equal(t, int64(6), newer[1].ID)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)
}
