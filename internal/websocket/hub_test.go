package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	return h
}

func TestHub_RegisterAndGetClientCount(t *testing.T) {
	h := newRunningHub(t)
	c := &Client{ID: "a", Send: make(chan Message, 4), Hub: h}

	h.register <- c
	assert.Eventually(t, func() bool { return h.GetClientCount() == 1 }, time.Second, time.Millisecond)
}

func TestHub_UnregisterRemovesClientAndClosesSend(t *testing.T) {
	h := newRunningHub(t)
	c := &Client{ID: "b", Send: make(chan Message, 4), Hub: h}

	h.register <- c
	assert.Eventually(t, func() bool { return h.GetClientCount() == 1 }, time.Second, time.Millisecond)

	h.unregister <- c
	assert.Eventually(t, func() bool { return h.GetClientCount() == 0 }, time.Second, time.Millisecond)

	_, open := <-c.Send
	assert.False(t, open, "unregister should close the client's send channel")
}

func TestHub_BroadcastFansOutToAllClients(t *testing.T) {
	h := newRunningHub(t)
	c1 := &Client{ID: "c1", Send: make(chan Message, 4), Hub: h}
	c2 := &Client{ID: "c2", Send: make(chan Message, 4), Hub: h}
	h.register <- c1
	h.register <- c2
	assert.Eventually(t, func() bool { return h.GetClientCount() == 2 }, time.Second, time.Millisecond)

	h.Broadcast(MessageTypePhaseChange, map[string]interface{}{"phase": "Homing"})

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Send:
			assert.Equal(t, MessageTypePhaseChange, msg.Type)
			assert.Equal(t, "Homing", msg.Data["phase"])
		case <-time.After(time.Second):
			t.Fatalf("client %s never received the broadcast", c.ID)
		}
	}
}

func TestHub_RegisterReplaysLastPhaseToNewClient(t *testing.T) {
	h := newRunningHub(t)
	first := &Client{ID: "first", Send: make(chan Message, 4), Hub: h}
	h.register <- first
	assert.Eventually(t, func() bool { return h.GetClientCount() == 1 }, time.Second, time.Millisecond)

	h.Broadcast(MessageTypePhaseChange, map[string]interface{}{"phase": "Cycle1"})
	select {
	case <-first.Send:
	case <-time.After(time.Second):
		t.Fatal("first client never received the broadcast")
	}

	late := &Client{ID: "late", Send: make(chan Message, 4), Hub: h}
	h.register <- late

	select {
	case msg := <-late.Send:
		assert.Equal(t, MessageTypePhaseChange, msg.Type)
		assert.Equal(t, "Cycle1", msg.Data["phase"])
	case <-time.After(time.Second):
		t.Fatal("late-joining client was not replayed the last phase change")
	}
}

func TestHub_BroadcastDropsWhenClientSendBufferFull(t *testing.T) {
	h := newRunningHub(t)
	c := &Client{ID: "slow", Send: make(chan Message, 1), Hub: h}
	h.register <- c
	assert.Eventually(t, func() bool { return h.GetClientCount() == 1 }, time.Second, time.Millisecond)

	// Fill the buffered channel directly, then broadcast twice: the hub
	// must not block when a client's Send channel is saturated.
	c.Send <- Message{Type: MessageTypeLog}
	done := make(chan struct{})
	go func() {
		h.Broadcast(MessageTypeLog, nil)
		h.Broadcast(MessageTypeLog, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a saturated client send channel")
	}
}
