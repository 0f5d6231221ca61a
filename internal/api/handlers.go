package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/edgeflow/drillctl/internal/coordinator"
)

type handlers struct {
	deps Deps
}

func (h *handlers) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "drillctl",
	})
}

type selectModeRequest struct {
	Mode int `json:"mode"`
}

func (h *handlers) selectMode(c *fiber.Ctx) error {
	var req selectModeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	res := h.deps.Coordinator.SelectMode(req.Mode)
	return writeResult(c, res)
}

func (h *handlers) selectManual(c *fiber.Ctx) error {
	res := h.deps.Coordinator.SelectManual()
	return writeResult(c, res)
}

func (h *handlers) pressStartVirtual(c *fiber.Ctx) error {
	h.deps.Coordinator.PressStartVirtual()
	return c.JSON(fiber.Map{"ok": true})
}

func (h *handlers) pressStopVirtual(c *fiber.Ctx) error {
	h.deps.Coordinator.PressStopVirtual()
	return c.JSON(fiber.Map{"ok": true})
}

type pinRequest struct {
	PIN string `json:"pin"`
}

// requirePIN gates emergency_stop/reset_virtual with the operator PIN
// (internal/security), independent of the JWT bearer auth already
// guarding every protected route.
func (h *handlers) requirePIN(c *fiber.Ctx) bool {
	if h.deps.PIN == nil || h.deps.PINHash == "" {
		return true
	}
	var req pinRequest
	if err := c.BodyParser(&req); err != nil {
		return false
	}
	return h.deps.PIN.Verify(h.deps.PINHash, req.PIN) == nil
}

func (h *handlers) emergencyStop(c *fiber.Ctx) error {
	if !h.requirePIN(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "invalid operator pin"})
	}
	h.deps.Coordinator.EmergencyStop()
	return c.JSON(fiber.Map{"ok": true})
}

func (h *handlers) resetVirtual(c *fiber.Ctx) error {
	if !h.requirePIN(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "invalid operator pin"})
	}
	h.deps.Coordinator.ResetVirtual()
	return c.JSON(fiber.Map{"ok": true})
}

func (h *handlers) snapshot(c *fiber.Ctx) error {
	status := h.deps.Coordinator.Snapshot()
	return c.JSON(fiber.Map{
		"phase":           status.Cycle.Phase.String(),
		"mode":            status.Cycle.SelectedMode,
		"manual_active":   status.ManualActive,
		"manual_drill_on": status.ManualDrillOn,
		"spindle_rev":     status.Cycle.SpindleRevCount,
		"queue_depth":     status.QueueDepth,
	})
}

func writeResult(c *fiber.Ctx, res coordinator.CommandResult) error {
	if !res.OK {
		code := fiber.StatusConflict
		switch res.Err {
		case coordinator.ErrInvalidMode:
			code = fiber.StatusBadRequest
		case coordinator.ErrQueueFull:
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{"error": res.Err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true, "data": res.Data})
}
