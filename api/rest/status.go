package rest

import (
	"fmt"
	"strings"
	"time"

	"yqhp/fanout/internal/master"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
)

// StatusClient queries a status server.
type StatusClient struct {
	baseURL string
	timeout time.Duration
	agent   *fiber.Client
}

// NewStatusClient creates a client for the server at address ("host:port" or a URL).
func NewStatusClient(address string, timeout time.Duration) *StatusClient {
	base := address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StatusClient{
		baseURL: strings.TrimRight(base, "/"),
		timeout: timeout,
		agent:   fiber.AcquireClient(),
	}
}

// Close releases the underlying client.
func (c *StatusClient) Close() {
	fiber.ReleaseClient(c.agent)
}

// Health fetches /api/v1/health. A 503 still returns the decoded body.
func (c *StatusClient) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get("/api/v1/health", &resp, fiber.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Workers fetches /api/v1/workers.
func (c *StatusClient) Workers() ([]master.WorkerRecord, error) {
	var resp WorkerListResponse
	if err := c.get("/api/v1/workers", &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

// Orders fetches /api/v1/orders.
func (c *StatusClient) Orders() ([]master.OrderStatus, error) {
	var resp OrderListResponse
	if err := c.get("/api/v1/orders", &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// Stats fetches /api/v1/stats.
func (c *StatusClient) Stats() (*master.StatsSnapshot, error) {
	var resp master.StatsSnapshot
	if err := c.get("/api/v1/stats", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *StatusClient) get(path string, out any, accept ...int) error {
	req := c.agent.Get(c.baseURL + path)
	req.Timeout(c.timeout)

	statusCode, body, errs := req.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("GET %s failed: %v", path, errs[0])
	}

	ok := statusCode == fiber.StatusOK
	for _, code := range accept {
		ok = ok || statusCode == code
	}
	if !ok {
		var e ErrorResponse
		if sonic.Unmarshal(body, &e) == nil && e.Message != "" {
			return fmt.Errorf("GET %s failed with status %d: %s", path, statusCode, e.Message)
		}
		return fmt.Errorf("GET %s failed with status: %d", path, statusCode)
	}

	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
