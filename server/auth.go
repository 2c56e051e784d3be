package server

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) sessionID(c fiber.Ctx) string {
	return c.Cookies(s.cookieName)
}

func (s *Server) setSessionCookie(c fiber.Ctx, sid string) {
	ck := &fiber.Cookie{
		Name:     s.cookieName,
		Value:    sid,
		Path:     "/",
		HTTPOnly: true,
		Secure:   s.cookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if s.sessionTTL > 0 {
		ck.MaxAge = int(s.sessionTTL.Seconds())
	}
	c.Cookie(ck)
}

// login issues a fresh session id on every successful login; any binding
// held by the previous id is dropped.
func (s *Server) login(c fiber.Ctx) error {
	var req loginRequest
	if err := c.Bind().JSON(&req); err != nil {
		return s.badBody(c, err)
	}

	sid := uuid.NewString()
	info, err := s.gw.Login(c.Context(), sid, req.Username, req.Password)
	if err != nil {
		return s.fail(c, err)
	}
	if old := s.sessionID(c); old != "" {
		if err := s.gw.Logout(c.Context(), old); err != nil {
			s.logger.Warn("drop previous session", "error", err)
		}
	}
	s.setSessionCookie(c, sid)
	return c.JSON(info)
}

func (s *Server) logout(c fiber.Ctx) error {
	if err := s.gw.Logout(c.Context(), s.sessionID(c)); err != nil {
		return s.fail(c, err)
	}
	c.ClearCookie(s.cookieName)
	return c.JSON(fiber.Map{"message": "logged out"})
}

func (s *Server) checkSession(c fiber.Ctx) error {
	info, err := s.gw.CheckSession(c.Context(), s.sessionID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(info)
}

func (s *Server) ping(c fiber.Ctx) error {
	body, err := s.gw.Ping(c.Context())
	if err != nil {
		return s.fail(c, err)
	}
	return sendRaw(c, fiber.StatusOK, body)
}
