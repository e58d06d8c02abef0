// Package api implements Api (C6): a thin gin-based HTTP adapter over
// RunStore, Registry, and PipelineDriver. Every handler validates its
// payload shape, resolves the run's location, opens the store, delegates to
// the driver or projection, and closes the store on every exit path — per
// spec.md §4.6.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/config"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/manifest"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/orchestrator"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/store"
)

const requestIDKey = "requestId"

// timeOutputLayout formats the session createdAt timestamps of GET
// /game_projects/:id/sessions; other timestamps use encoding/json's default
// time format.
const timeOutputLayout = "2006-01-02T15:04:05.000Z07:00"

// Server wires the router's components into gin handlers. Registry is not
// held directly — PipelineDriver already owns it and resolves module URLs
// internally per stage.
type Server struct {
	cfg    *config.Config
	store  *store.Store
	driver *orchestrator.Driver
}

// NewServer builds a Server from the process's already-constructed
// components (built once in cmd/router/main.go and never rebuilt per
// request).
func NewServer(cfg *config.Config, st *store.Store, driver *orchestrator.Driver) *Server {
	return &Server{cfg: cfg, store: st, driver: driver}
}

// Router builds a gin.Engine with the middleware chain and every route from
// spec.md §6.1 registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestIDMiddleware(), requestLoggerMiddleware(), recoveryMiddleware())

	router.GET("/health", s.Health)
	router.GET("/game_projects/:id", s.GetGameProject)
	router.GET("/game_projects/:id/sessions", s.ListSessions)
	router.POST("/run/start", s.StartRun)
	router.GET("/run/:runId/state", s.GetRunState)
	router.GET("/run/:runId/turn/:turn/pipeline", s.GetTurnPipeline)
	router.POST("/run/:runId/open-saved-folder", s.OpenSavedFolder)
	router.POST("/turn", s.ProcessTurn)
	router.POST("/turn/step/start", s.StartTurnStep)
	router.POST("/turn/step/next", s.AdvanceTurnStep)

	return router
}

// requestID returns the request-scoped id set by requestIDMiddleware.
func requestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// openHandle resolves runID to its owning game project via the "folder is
// authoritative" rule (spec.md §6.3), opens its store, and returns the open
// handle, which carries the game project id. The caller must defer h.Close().
func (s *Server) openHandle(ctx context.Context, runID string) (*store.Handle, error) {
	gameProjectID, ok, err := s.store.ResolveRunLocation(runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrRunNotFound
	}
	return s.store.Open(ctx, gameProjectID, runID)
}

func newRunID() string {
	return uuid.NewString()
}

func logger(c *gin.Context) *slog.Logger {
	return slog.With("requestId", requestID(c))
}

func jsonOK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}

func loadManifest(root, gameProjectID string) (*manifest.Manifest, error) {
	return manifest.Load(root, gameProjectID)
}
