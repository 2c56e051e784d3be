package server

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"

	"github.com/meikuraledutech/fluxflow"
	"github.com/meikuraledutech/fluxflow/gateway"
)

type edgeRequest struct {
	Graph  *fluxflow.Graph `json:"graph"`
	Source string          `json:"source"`
	Target string          `json:"target"`
}

type runRequest struct {
	Graph    *fluxflow.Graph `json:"graph"`
	OutputID string          `json:"outputId"`
}

type runResponse struct {
	OutputID string               `json:"outputId"`
	Script   string               `json:"script"`
	Result   *gateway.QueryResult `json:"result"`
}

// Graph bodies are decoded with encoding/json directly so compiler errors
// raised inside Graph.UnmarshalJSON reach fail unwrapped.
func decodeBody(c fiber.Ctx, out any) error {
	return json.Unmarshal(c.Body(), out)
}

func (s *Server) compile(c fiber.Ctx) error {
	g := fluxflow.NewGraph()
	if err := decodeBody(c, g); err != nil {
		s.metrics.RecordCompilation("error", 0)
		return s.badBody(c, err)
	}
	outputs := g.Compile()
	s.metrics.RecordCompilation("ok", len(outputs))
	return c.JSON(outputs)
}

func (s *Server) validateEdge(c fiber.Ctx) error {
	var req edgeRequest
	if err := decodeBody(c, &req); err != nil {
		return s.badBody(c, err)
	}
	if req.Graph == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "graph is required", "kind": gateway.KindValidation})
	}
	if err := fluxflow.ValidateEdge(req.Graph, req.Source, req.Target); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// run compiles the requested output and executes it upstream.
func (s *Server) run(c fiber.Ctx) error {
	var req runRequest
	if err := decodeBody(c, &req); err != nil {
		return s.badBody(c, err)
	}
	if req.Graph == nil || req.OutputID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "graph and outputId are required", "kind": gateway.KindValidation})
	}
	script, err := req.Graph.Script(req.OutputID)
	if err != nil {
		return s.fail(c, err)
	}
	res, err := s.gw.RunQuery(c.Context(), s.sessionID(c), script)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(runResponse{OutputID: req.OutputID, Script: script, Result: res})
}
