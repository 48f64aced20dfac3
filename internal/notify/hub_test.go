package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testUpdate struct {
	Status string `json:"status"`
}

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	a := hub.Subscribe("attendance", 4)
	b := hub.Subscribe("attendance", 4)

	hub.Broadcast("attendance", testUpdate{Status: "present"})

	for _, sub := range []*Subscription{a, b} {
		var got testUpdate
		require.NoError(t, json.Unmarshal(recv(t, sub.C()), &got))
		assert.Equal(t, "present", got.Status)
	}
}

func TestBroadcastScopedToTopic(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	other := hub.Subscribe("other", 4)
	hub.Broadcast("attendance", testUpdate{Status: "late"})

	select {
	case <-other.C():
		t.Fatal("subscriber on another topic received the broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	slow := hub.Subscribe("attendance", 1)
	fast := hub.Subscribe("attendance", 16)

	// Fill the slow subscriber's buffer, then keep broadcasting. Broadcast
	// must never block and the fast subscriber must see every message.
	for i := 0; i < 10; i++ {
		done := make(chan struct{})
		go func() {
			hub.Broadcast("attendance", testUpdate{Status: "present"})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("broadcast blocked on a slow subscriber")
		}
	}

	assert.Len(t, slow.C(), 1)
	assert.Len(t, fast.C(), 10)
}

func TestLateSubscriberMissesEarlierBroadcasts(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	hub.Broadcast("attendance", testUpdate{Status: "present"})
	late := hub.Subscribe("attendance", 4)

	assert.Empty(t, late.C())
}

func TestCloseSubscriptionStopsDelivery(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	sub := hub.Subscribe("attendance", 4)
	sub.Close()

	// Channel is closed and broadcasting afterwards does not panic.
	_, open := <-sub.C()
	assert.False(t, open)
	hub.Broadcast("attendance", testUpdate{Status: "present"})
}

func TestHubCloseClosesAllSubscribers(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Subscribe("attendance", 4)
	b := hub.Subscribe("other", 4)

	hub.Close()

	_, open := <-a.C()
	assert.False(t, open)
	_, open = <-b.C()
	assert.False(t, open)

	// Idempotent, and broadcasting after close is a no-op.
	hub.Close()
	hub.Broadcast("attendance", testUpdate{Status: "present"})
}
