package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"video_transcode_pipeline/internal/transcode/domain"

	"github.com/gofiber/fiber/v2"
)

// CallbackNotifier tells an external collaborator that a job is done
type CallbackNotifier interface {
	Notify(ctx context.Context, url string, payload domain.CallbackPayload) error
}

// HTTPCallback posts the payload as JSON with the fiber client
type HTTPCallback struct {
	timeout time.Duration
}

// NewHTTPCallback timeout bounds every call, default 10s
func NewHTTPCallback(timeout time.Duration) *HTTPCallback {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCallback{timeout: timeout}
}

// Notify returns an error on transport failure or a non 2xx answer
func (c *HTTPCallback) Notify(ctx context.Context, url string, payload domain.CallbackPayload) error {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("callback %s: %w", url, context.DeadlineExceeded)
	}

	agent := fiber.Post(url)
	agent.JSON(payload)
	agent.Timeout(timeout)
	if err := agent.Parse(); err != nil {
		return fmt.Errorf("callback %s: %w", url, err)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("callback %s: %w", url, errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("callback %s: status %d: %s", url, code, tail(body, 256))
	}
	return nil
}
