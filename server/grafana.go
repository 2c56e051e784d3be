package server

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"

	"github.com/meikuraledutech/fluxflow/gateway"
)

// sendRaw writes an upstream JSON body unchanged.
func sendRaw(c fiber.Ctx, status int, body json.RawMessage) error {
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(status).Send(body)
}

func sendResult(c fiber.Ctx, res *gateway.Result) error {
	return sendRaw(c, res.Status, res.Body)
}

func (s *Server) userData(c fiber.Ctx) error {
	body, err := s.gw.UserProfile(c.Context(), s.sessionID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return sendRaw(c, fiber.StatusOK, body)
}

func (s *Server) userFolders(c fiber.Ctx) error {
	body, err := s.gw.ListFolders(c.Context(), s.sessionID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return sendRaw(c, fiber.StatusOK, body)
}

func (s *Server) userDashboards(c fiber.Ctx) error {
	body, err := s.gw.ListDashboards(c.Context(), s.sessionID(c), c.Query("folderUid"))
	if err != nil {
		return s.fail(c, err)
	}
	return sendRaw(c, fiber.StatusOK, body)
}

func (s *Server) getDashboard(c fiber.Ctx) error {
	body, err := s.gw.GetDashboard(c.Context(), s.sessionID(c), c.Params("uid"))
	if err != nil {
		return s.fail(c, err)
	}
	return sendRaw(c, fiber.StatusOK, body)
}

func (s *Server) updateDashboard(c fiber.Ctx) error {
	var req gateway.UpdateDashboardRequest
	if err := c.Bind().JSON(&req); err != nil {
		return s.badBody(c, err)
	}
	res, err := s.gw.UpdateDashboard(c.Context(), s.sessionID(c), req)
	if err != nil {
		return s.fail(c, err)
	}
	return sendResult(c, res)
}

func (s *Server) createDashboard(c fiber.Ctx) error {
	var req gateway.CreateDashboardRequest
	if err := c.Bind().JSON(&req); err != nil {
		return s.badBody(c, err)
	}
	res, err := s.gw.CreateDashboard(c.Context(), s.sessionID(c), req)
	if err != nil {
		return s.fail(c, err)
	}
	return sendResult(c, res)
}

func (s *Server) createNamedDashboard(c fiber.Ctx) error {
	var req gateway.NamedDashboardRequest
	if err := c.Bind().JSON(&req); err != nil {
		return s.badBody(c, err)
	}
	res, err := s.gw.CreateNamedDashboard(c.Context(), s.sessionID(c), req)
	if err != nil {
		return s.fail(c, err)
	}
	return sendResult(c, res)
}

func (s *Server) deleteDashboard(c fiber.Ctx) error {
	res, err := s.gw.DeleteDashboard(c.Context(), s.sessionID(c), c.Params("uid"))
	if err != nil {
		return s.fail(c, err)
	}
	return sendResult(c, res)
}

func (s *Server) createPanel(c fiber.Ctx) error {
	var req gateway.CreatePanelRequest
	if err := c.Bind().JSON(&req); err != nil {
		return s.badBody(c, err)
	}
	res, err := s.gw.CreatePanel(c.Context(), s.sessionID(c), req)
	if err != nil {
		return s.fail(c, err)
	}
	return sendResult(c, res)
}

func (s *Server) updatePanel(c fiber.Ctx) error {
	var req gateway.PanelQueryUpdate
	if err := c.Bind().JSON(&req); err != nil {
		return s.badBody(c, err)
	}
	res, err := s.gw.UpdatePanelQuery(c.Context(), s.sessionID(c), req)
	if err != nil {
		return s.fail(c, err)
	}
	return sendResult(c, res)
}

func (s *Server) listBuckets(c fiber.Ctx) error {
	buckets, err := s.gw.ListBuckets(c.Context(), s.sessionID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"buckets": buckets})
}

func (s *Server) bucketMetadata(c fiber.Ctx) error {
	meta, err := s.gw.BucketMetadata(c.Context(), s.sessionID(c), c.Query("bucket"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(meta)
}
