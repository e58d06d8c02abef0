package api

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/projection"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/store"
)

// StartRun handles POST /run/start: creates a new run under the process's
// configured default game project, seeding its store and lore corpus.
func (s *Server) StartRun(c *gin.Context) {
	gameProjectID := s.cfg.DefaultGameProjectID
	if gameProjectID == "" {
		writeError(c, badRequest("BAD_TURN_REQUEST", "no default game project configured (GAME_PROJECT_ID)"))
		return
	}
	m, err := loadManifest(s.cfg.GameProjectsRoot, gameProjectID)
	if err != nil {
		writeError(c, err)
		return
	}

	seed, err := store.LoadSeedFromFiles(m.WorldFilePath(s.cfg.GameProjectsRoot), m.EntriesFilePath(s.cfg.GameProjectsRoot))
	if err != nil {
		writeError(c, runStartFailed(err))
		return
	}

	runID := newRunID()
	if err := s.store.InitializeRun(c.Request.Context(), gameProjectID, runID, seed); err != nil {
		writeError(c, runStartFailed(err))
		return
	}

	logger(c).Info("run started", "runId", runID, "gameProjectId", gameProjectID)
	jsonOK(c, gin.H{"runId": runID, "gameProject": m})
}

// GetRunState handles GET /run/:runId/state.
func (s *Server) GetRunState(c *gin.Context) {
	runID := c.Param("runId")
	ctx := c.Request.Context()

	h, err := s.openHandle(ctx, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Close()

	state, err := projection.Project(ctx, h)
	if err != nil {
		writeError(c, err)
		return
	}
	jsonOK(c, gin.H{
		"runId":         runID,
		"gameProjectId": h.GameProjectID(),
		"messages":      state.Messages,
		"debugEntries":  state.DebugEntries,
		"nextTurn":      state.NextTurn,
	})
}

// GetTurnPipeline handles GET /run/:runId/turn/:turn/pipeline.
func (s *Server) GetTurnPipeline(c *gin.Context) {
	runID := c.Param("runId")
	turn, ok := parseTurnParam(c, c.Param("turn"))
	if !ok {
		return
	}
	ctx := c.Request.Context()

	h, err := s.openHandle(ctx, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Close()

	execution, err := h.GetTurnExecution(ctx, turn)
	if err != nil {
		writeError(c, err)
		return
	}
	events, err := h.ListPipelineEvents(ctx, turn)
	if err != nil {
		writeError(c, err)
		return
	}
	jsonOK(c, gin.H{"runId": runID, "turn": turn, "execution": execution, "events": events})
}

// OpenSavedFolder handles POST /run/:runId/open-saved-folder: reports the
// on-disk path of the run's save folder for the UI to hand to the host OS.
// Actually opening a file-manager window is a UI concern (spec.md §1's
// "browser UI... explicitly out of scope"); the API's job ends at resolving
// and reporting the path.
func (s *Server) OpenSavedFolder(c *gin.Context) {
	runID := c.Param("runId")
	gameProjectID, ok, err := s.store.ResolveRunLocation(runID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, models.ErrRunNotFound)
		return
	}
	openedPath := savedFolderPath(s.cfg.GameProjectsRoot, gameProjectID, runID)
	jsonOK(c, gin.H{"ok": true, "runId": runID, "openedPath": openedPath})
}

func parseTurnParam(c *gin.Context, raw string) (int, bool) {
	turn, err := strconv.Atoi(raw)
	if err != nil || turn < 1 {
		writeError(c, badRequest("INVALID_TURN_INDEX", fmt.Sprintf("turn must be a positive integer, got %q", raw)))
		return 0, false
	}
	return turn, true
}

func savedFolderPath(root, gameProjectID, runID string) string {
	return filepath.Join(root, gameProjectID, "saved", runID)
}
