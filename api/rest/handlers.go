package rest

import (
	"time"

	"yqhp/fanout/internal/master"

	"github.com/gofiber/fiber/v2"
)

// healthCheck handles GET /health. A master that is not running reports 503.
func (s *Server) healthCheck(c *fiber.Ctx) error {
	state := s.master.State()
	resp := HealthResponse{
		Status:    "healthy",
		State:     string(state),
		Address:   s.master.Address(),
		Workers:   len(s.master.Workers()),
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if state != master.StateRunning {
		resp.Status = "unhealthy"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

// listWorkers handles GET /api/v1/workers
func (s *Server) listWorkers(c *fiber.Ctx) error {
	workers := s.master.Workers()
	if workers == nil {
		workers = []master.WorkerRecord{}
	}
	return c.JSON(WorkerListResponse{
		Workers: workers,
		Total:   len(workers),
	})
}

// getWorker handles GET /api/v1/workers/:id
func (s *Server) getWorker(c *fiber.Ctx) error {
	id := c.Params("id")
	for _, w := range s.master.Workers() {
		if w.ID == id {
			return c.JSON(w)
		}
	}
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
		Error:   "not_found",
		Message: "Worker not found: " + id,
	})
}

// listOrders handles GET /api/v1/orders
func (s *Server) listOrders(c *fiber.Ctx) error {
	orders := s.master.Orders()
	if orders == nil {
		orders = []master.OrderStatus{}
	}
	return c.JSON(OrderListResponse{
		Orders: orders,
		Total:  len(orders),
	})
}

// getStats handles GET /api/v1/stats
func (s *Server) getStats(c *fiber.Ctx) error {
	return c.JSON(s.master.Stats())
}
