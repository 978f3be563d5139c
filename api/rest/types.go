package rest

import "yqhp/fanout/internal/master"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	Address   string `json:"address"`
	Workers   int    `json:"workers"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// WorkerListResponse lists registered workers.
type WorkerListResponse struct {
	Workers []master.WorkerRecord `json:"workers"`
	Total   int                   `json:"total"`
}

// OrderListResponse lists in-flight work orders.
type OrderListResponse struct {
	Orders []master.OrderStatus `json:"orders"`
	Total  int                  `json:"total"`
}
