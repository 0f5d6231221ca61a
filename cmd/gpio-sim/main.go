// Command gpio-sim is a standalone HTTP+websocket stand-in for the
// drill rig's GPIO, addressed by internal/hal.SimProvider. It lets the
// control core run end-to-end off real hardware: digital pins default
// low and latch whatever was last written or pushed, the joystick
// analog channel defaults centered, and any pin can be flipped from a
// script to drive the rig through its phases.
package main

import (
	"flag"
	"log"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type pinState struct {
	mu      sync.RWMutex
	digital map[int]bool
	analog  map[int]int
}

func newPinState() *pinState {
	return &pinState{
		digital: make(map[int]bool),
		analog:  map[int]int{0: 512}, // joystick centered
	}
}

func (p *pinState) getDigital(pin int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.digital[pin]
}

func (p *pinState) setDigital(pin int, v bool) {
	p.mu.Lock()
	p.digital[pin] = v
	p.mu.Unlock()
}

func (p *pinState) getAnalog(channel int) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.analog[channel]
	return v, ok
}

type pinPush struct {
	Pin   int  `json:"pin"`
	Value bool `json:"value"`
}

// hub fans a pin write out to every connected websocket client, the
// same role internal/websocket.Hub plays for the real coordinator.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub() *hub { return &hub{clients: make(map[*websocket.Conn]struct{})} }

func (h *hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) push(pin int, value bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.WriteJSON(pinPush{Pin: pin, Value: value}); err != nil {
			c.Close()
			delete(h.clients, c)
		}
	}
}

type server struct {
	state *pinState
	hub   *hub
}

func (s *server) healthz(c *fiber.Ctx) error {
	return c.SendString("ok")
}

func (s *server) getDigital(c *fiber.Ctx) error {
	pin, err := strconv.Atoi(c.Params("pin"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad pin"})
	}
	return c.JSON(fiber.Map{"value": s.state.getDigital(pin)})
}

func (s *server) postDigital(c *fiber.Ctx) error {
	pin, err := strconv.Atoi(c.Params("pin"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad pin"})
	}
	var body struct {
		Value bool `json:"value"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad body"})
	}
	s.state.setDigital(pin, body.Value)
	s.hub.push(pin, body.Value)
	return c.JSON(fiber.Map{"value": body.Value})
}

func (s *server) getAnalog(c *fiber.Ctx) error {
	channel, err := strconv.Atoi(c.Params("channel"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad channel"})
	}
	v, ok := s.state.getAnalog(channel)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no such channel"})
	}
	return c.JSON(fiber.Map{"value": v})
}

func (s *server) handleWS(conn *websocket.Conn) {
	s.hub.add(conn)
	defer func() {
		s.hub.remove(conn)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	s := &server{state: newPinState(), hub: newHub()}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/healthz", s.healthz)
	app.Get("/digital/:pin", s.getDigital)
	app.Post("/digital/:pin", s.postDigital)
	app.Get("/analog/:channel", s.getAnalog)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		s.handleWS(conn)
	}))

	log.Printf("gpio-sim: listening on %s", *addr)
	if err := app.Listen(*addr); err != nil {
		log.Fatalf("gpio-sim: %v", err)
	}
}
