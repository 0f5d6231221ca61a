package display

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgeflow/drillctl/internal/websocket"
)

func TestConsole_ShowRecordsLast(t *testing.T) {
	c := NewConsole()
	c.Show("LOAD WORKPIECE / PRESS START")
	assert.Equal(t, "LOAD WORKPIECE / PRESS START", c.Last())

	c.Show("PAUSED")
	assert.Equal(t, "PAUSED", c.Last())
}

func TestHub_ShowBroadcastsDisplayMessage(t *testing.T) {
	wsHub := websocket.NewHub()
	h := NewHub(wsHub)
	// Broadcast's channel is buffered; no Run() goroutine is needed to
	// observe that Show does not block or panic.
	assert.NotPanics(t, func() { h.Show("OPEN AND UNLOAD / PRESS START FOR NEXT CYCLE") })
}

func TestMulti_ShowFansOutToEverySink(t *testing.T) {
	a, b := NewConsole(), NewConsole()
	m := Multi{Sinks: []Sink{a, b}}
	m.Show("PAUSED")

	assert.Equal(t, "PAUSED", a.Last())
	assert.Equal(t, "PAUSED", b.Last())
}
