package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
)

// observe logs every request and records it in the HTTP metrics. Routes are
// labelled by their pattern so ids in the path don't explode cardinality.
func (s *Server) observe(c fiber.Ctx) error {
	start := time.Now()
	s.metrics.HTTPRequestsInFlight.Inc()
	defer s.metrics.HTTPRequestsInFlight.Dec()

	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
	}
	route := c.Route().Path
	elapsed := time.Since(start)
	s.metrics.RecordHTTPRequest(c.Method(), route, status, elapsed)

	attrs := []any{
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"duration", elapsed,
		"request_id", requestid.FromContext(c),
	}
	switch {
	case status >= 500:
		s.logger.Error("request", attrs...)
	case status >= 400:
		s.logger.Warn("request", attrs...)
	default:
		s.logger.Debug("request", attrs...)
	}
	return err
}

// requireSession rejects requests whose session has no upstream binding.
func (s *Server) requireSession(c fiber.Ctx) error {
	if _, err := s.gw.CheckSession(c.Context(), s.sessionID(c)); err != nil {
		return s.fail(c, err)
	}
	return c.Next()
}
