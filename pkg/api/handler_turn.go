package api

import (
	"github.com/gin-gonic/gin"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/orchestrator"
)

// turnRequestBody is the shared shape of POST /turn and POST
// /turn/step/start (spec.md §6.1).
type turnRequestBody struct {
	RunID       string `json:"runId" binding:"required"`
	Turn        int    `json:"turn"`
	PlayerInput string `json:"playerInput" binding:"required"`
	PlayerID    string `json:"playerId" binding:"required"`
}

// ProcessTurn handles POST /turn: runs the full eight-stage pipeline in one
// call and returns the turn execution (checkpoint and result) with the stage
// pipeline events; the module_trace payload itself is not returned.
func (s *Server) ProcessTurn(c *gin.Context) {
	var body turnRequestBody
	if !bindTurnRequest(c, &body) {
		return
	}
	ctx := c.Request.Context()

	h, err := s.openHandle(ctx, body.RunID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Close()

	bindings, err := s.moduleBindings(h.GameProjectID())
	if err != nil {
		writeError(c, err)
		return
	}

	execution, events, err := s.driver.ProcessTurnViaRouter(ctx, h, orchestrator.TurnRequest{
		Turn: body.Turn, PlayerInput: body.PlayerInput, PlayerID: body.PlayerID, Bindings: bindings,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	jsonOK(c, gin.H{"runId": body.RunID, "turn": body.Turn, "execution": execution, "events": events})
}

// StartTurnStep handles POST /turn/step/start: creates the turn_execution
// row (cursor=0) and records frontend_input, but runs no stage.
func (s *Server) StartTurnStep(c *gin.Context) {
	var body turnRequestBody
	if !bindTurnRequest(c, &body) {
		return
	}
	ctx := c.Request.Context()

	h, err := s.openHandle(ctx, body.RunID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Close()

	bindings, err := s.moduleBindings(h.GameProjectID())
	if err != nil {
		writeError(c, err)
		return
	}

	execution, err := s.driver.StartTurnStepExecution(ctx, h, orchestrator.TurnRequest{
		Turn: body.Turn, PlayerInput: body.PlayerInput, PlayerID: body.PlayerID, Bindings: bindings,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	events, err := h.ListPipelineEvents(ctx, body.Turn)
	if err != nil {
		writeError(c, err)
		return
	}
	jsonOK(c, gin.H{"runId": body.RunID, "turn": body.Turn, "execution": execution, "pipelineEvents": events})
}

// advanceRequestBody is the shape of POST /turn/step/next.
type advanceRequestBody struct {
	RunID string `json:"runId" binding:"required"`
	Turn  int    `json:"turn"`
}

// AdvanceTurnStep handles POST /turn/step/next: executes exactly one stage
// at the execution's current cursor.
func (s *Server) AdvanceTurnStep(c *gin.Context) {
	var body advanceRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, badRequest("BAD_TURN_REQUEST", err.Error()))
		return
	}
	if body.Turn < 1 {
		writeError(c, badRequest("INVALID_TURN_INDEX", "turn must be a positive integer"))
		return
	}
	ctx := c.Request.Context()

	h, err := s.openHandle(ctx, body.RunID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Close()

	bindings, err := s.moduleBindings(h.GameProjectID())
	if err != nil {
		writeError(c, err)
		return
	}

	execution, event, err := s.driver.AdvanceTurnStepExecution(ctx, h, body.Turn, bindings)
	if err != nil {
		writeError(c, err)
		return
	}
	jsonOK(c, gin.H{
		"runId":          body.RunID,
		"turn":           body.Turn,
		"execution":      execution,
		"pipelineEvents": []any{event},
		"result":         execution.Result,
	})
}

func bindTurnRequest(c *gin.Context, body *turnRequestBody) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		writeError(c, badRequest("BAD_TURN_REQUEST", err.Error()))
		return false
	}
	if body.Turn < 1 {
		writeError(c, badRequest("INVALID_TURN_INDEX", "turn must be a positive integer"))
		return false
	}
	return true
}

// moduleBindings loads the game project's manifest and returns its module
// role → URL bindings, for Registry.Resolve's manifest-binding precedence
// tier (spec.md §4.3).
func (s *Server) moduleBindings(gameProjectID string) (map[string]string, error) {
	m, err := loadManifest(s.cfg.GameProjectsRoot, gameProjectID)
	if err != nil {
		return nil, err
	}
	return m.ModuleBindings, nil
}
