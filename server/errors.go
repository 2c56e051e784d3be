package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/meikuraledutech/fluxflow"
	"github.com/meikuraledutech/fluxflow/gateway"
)

// fail writes err as {"error", "kind", "details"} with the mapped status.
func (s *Server) fail(c fiber.Ctx, err error) error {
	var gerr *gateway.Error
	var eerr *fluxflow.EdgeError
	switch {
	case errors.As(err, &gerr):
		body := fiber.Map{"error": gerr.Error(), "kind": gerr.Kind}
		if len(gerr.Body) > 0 {
			body["details"] = gerr.Body
		}
		return c.Status(gerr.HTTPStatus()).JSON(body)

	case errors.As(err, &eerr):
		s.metrics.RecordEdgeRejection(eerr.Reason())
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": eerr.Error(),
			"kind":  gateway.KindValidation,
			"details": fiber.Map{
				"reason":     eerr.Reason(),
				"source":     eerr.Source,
				"target":     eerr.Target,
				"sourceKind": eerr.SourceKind,
				"targetKind": eerr.TargetKind,
			},
		})

	case errors.Is(err, fluxflow.ErrInvalidPayload),
		errors.Is(err, fluxflow.ErrDuplicateNode),
		errors.Is(err, fluxflow.ErrKindMismatch):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "kind": gateway.KindValidation})

	case errors.Is(err, fluxflow.ErrOutputNotFound),
		errors.Is(err, fluxflow.ErrPresetNotFound),
		errors.Is(err, fluxflow.ErrNodeNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error(), "kind": gateway.KindNotFound})
	}

	s.logger.Error("request failed", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

// badBody reports an undecodable request body. Graph decoding errors that
// carry a compiler cause keep their own mapping.
func (s *Server) badBody(c fiber.Ctx, err error) error {
	var eerr *fluxflow.EdgeError
	if errors.As(err, &eerr) ||
		errors.Is(err, fluxflow.ErrInvalidPayload) ||
		errors.Is(err, fluxflow.ErrDuplicateNode) {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body", "kind": gateway.KindValidation})
}

// handleError is the app-level fallback for errors returned by handlers and
// middleware, such as unmatched routes.
func (s *Server) handleError(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= 500 {
		s.logger.Error("unhandled error", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
