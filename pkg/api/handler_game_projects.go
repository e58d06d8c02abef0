package api

import (
	"github.com/gin-gonic/gin"
)

// GetGameProject handles GET /game_projects/:id — returns the manifest JSON,
// or 404 GAME_PROJECT_NOT_FOUND if the project directory/manifest is absent.
func (s *Server) GetGameProject(c *gin.Context) {
	id := c.Param("id")
	m, err := loadManifest(s.cfg.GameProjectsRoot, id)
	if err != nil {
		writeError(c, err)
		return
	}
	jsonOK(c, m)
}

// sessionsResponse is the body of GET /game_projects/:id/sessions.
type sessionsResponse struct {
	GameProjectID string            `json:"gameProjectId"`
	Sessions      []sessionResponse `json:"sessions"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	CreatedAt string `json:"createdAt"`
}

// ListSessions handles GET /game_projects/:id/sessions.
func (s *Server) ListSessions(c *gin.Context) {
	id := c.Param("id")
	sessions, err := s.store.ListSessions(id)
	if err != nil {
		writeError(c, sessionListFailed(err))
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{SessionID: sess.SessionID, CreatedAt: sess.CreatedAt.Format(timeOutputLayout)})
	}
	jsonOK(c, sessionsResponse{GameProjectID: id, Sessions: out})
}
