package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Cache     string `json:"cache"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker interface defines the health check dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// CacheHealth checks a CPM_ROOT cache directory for writability.
type CacheHealth struct {
	Root string
}

// Health probes Root for writability, satisfying HealthChecker.
func (c CacheHealth) Health(ctx context.Context) error {
	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return fmt.Errorf("cache root %s: %w", c.Root, err)
	}
	probe := filepath.Join(c.Root, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("cache root %s not writable: %w", c.Root, err)
	}
	return os.Remove(probe)
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
// It checks the packet cache's writability and returns appropriate status codes.
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		err := checker.Health(ctx)

		response := HealthResponse{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")

		if err != nil {
			response.Status = "unhealthy"
			response.Cache = "unwritable"
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(response)
			return
		}

		response.Status = "healthy"
		response.Cache = "writable"
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}
