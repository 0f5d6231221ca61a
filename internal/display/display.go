// Package display implements the write-only status-string sink of
// spec.md §6: a single line of human-readable text the control core
// pushes on phase transitions, pauses, and faults. It never reads back
// what was shown.
package display

import (
	"fmt"
	"sync"

	"github.com/edgeflow/drillctl/internal/websocket"
)

// Sink accepts a display line. Implementations must not block the
// caller for more than a trivial amount of time: the control task calls
// this inline from its own hooks.
type Sink interface {
	Show(message string)
}

// Console writes display lines to stdout, prefixed for operator
// visibility on a headless unit with only a serial console attached.
type Console struct {
	mu   sync.Mutex
	last string
}

// NewConsole creates a Console sink.
func NewConsole() *Console { return &Console{} }

// Show implements Sink.
func (c *Console) Show(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = message
	fmt.Printf("[display] %s\n", message)
}

// Last returns the most recently shown line.
func (c *Console) Last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Hub pushes display lines to every connected operator-panel websocket
// client, adapting the hub's broadcast channel into a Sink.
type Hub struct {
	hub *websocket.Hub
}

// NewHub wraps an existing websocket.Hub as a display Sink.
func NewHub(hub *websocket.Hub) *Hub {
	return &Hub{hub: hub}
}

// Show implements Sink.
func (h *Hub) Show(message string) {
	h.hub.Broadcast(websocket.MessageTypeDisplay, map[string]interface{}{
		"message": message,
	})
}

// Multi fans a single Show call out to every wrapped Sink.
type Multi struct {
	Sinks []Sink
}

// Show implements Sink.
func (m Multi) Show(message string) {
	for _, s := range m.Sinks {
		s.Show(message)
	}
}
