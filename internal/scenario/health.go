package scenario

import (
	"context"
	"net/http"

	"github.com/studiowebux/difyload/internal/executor"
)

// Health checks that the API host answers
type Health struct {
	base
}

// NewHealth creates the health domain for one virtual user
func NewHealth(deps Deps) *Health {
	return &Health{base: newBase("health", deps)}
}

// Tasks returns the single health check
func (h *Health) Tasks() []Task {
	return []Task{
		{Name: "health_check", Weight: 1, Run: h.Check},
	}
}

// PerformAll runs the health check
func (h *Health) PerformAll(ctx context.Context) error {
	return h.protect(ctx, h.Check)
}

// Check requests the API root
func (h *Health) Check(ctx context.Context) error {
	_, err := h.send(ctx, executor.Request{
		Name:   "/health-check",
		Method: http.MethodGet,
		Path:   "/",
	}, "health_check")
	return err
}
