package server

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/meikuraledutech/fluxflow"
	"github.com/meikuraledutech/fluxflow/gateway"
)

type savePresetRequest struct {
	ID    string          `json:"id"`
	Label string          `json:"label"`
	Graph *fluxflow.Graph `json:"graph"`
}

type mergeResponse struct {
	Graph *fluxflow.Graph   `json:"graph"`
	IDMap map[string]string `json:"idMap"`
}

func (s *Server) listPresets(c fiber.Ctx) error {
	presets, err := s.presets.ListPresets(c.Context())
	s.metrics.RecordPresetOperation("list", err)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(presets)
}

// savePreset snapshots the posted graph. An empty id gets a fresh uuid; an
// existing id is replaced.
func (s *Server) savePreset(c fiber.Ctx) error {
	var req savePresetRequest
	if err := decodeBody(c, &req); err != nil {
		return s.badBody(c, err)
	}
	if req.Graph == nil || req.Label == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "label and graph are required", "kind": gateway.KindValidation})
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	p := req.Graph.Snapshot(req.ID, req.Label)
	err := s.presets.SavePreset(c.Context(), &p)
	s.metrics.RecordPresetOperation("save", err)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// preset loads the preset named by the :id param, writing a 404 when absent.
func (s *Server) preset(c fiber.Ctx) (*fluxflow.Preset, error) {
	p, err := s.presets.GetPreset(c.Context(), c.Params("id"))
	s.metrics.RecordPresetOperation("get", err)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fluxflow.ErrPresetNotFound
	}
	return p, nil
}

func (s *Server) getPreset(c fiber.Ctx) error {
	p, err := s.preset(c)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(p)
}

func (s *Server) deletePreset(c fiber.Ctx) error {
	err := s.presets.DeletePreset(c.Context(), c.Params("id"))
	s.metrics.RecordPresetOperation("delete", err)
	if err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// loadPreset returns the graph that fully replaces the caller's live graph.
func (s *Server) loadPreset(c fiber.Ctx) error {
	p, err := s.preset(c)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fluxflow.LoadPreset(*p))
}

// mergePreset adds the preset's nodes to the posted graph under fresh ids.
func (s *Server) mergePreset(c fiber.Ctx) error {
	p, err := s.preset(c)
	if err != nil {
		return s.fail(c, err)
	}
	g := fluxflow.NewGraph()
	if err := decodeBody(c, g); err != nil {
		return s.badBody(c, err)
	}
	idMap := g.AddExistingPreset(*p)
	return c.JSON(mergeResponse{Graph: g, IDMap: idMap})
}
