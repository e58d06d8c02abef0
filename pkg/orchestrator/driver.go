// Package orchestrator implements PipelineDriver (spec.md §4.4): the fixed
// eight-stage sequencer that resolves each stage's module endpoint, builds
// its request from the accumulating Checkpoint, validates and folds back its
// response, and finalizes persistence in world_state_update. It supports two
// execution modes — a single-shot run to completion (ProcessTurnViaRouter)
// and a step-by-step run driven by repeated client calls (StartTurnStep
// Execution / AdvanceTurnStepExecution) — sharing the same per-stage logic
// so the two modes can never diverge in behavior.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/moduleclient"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/registry"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/store"
)

// stageFrontendInput is the synthetic first pipeline event recorded for
// every turn, capturing the player input that triggered it (spec.md §4.4).
const stageFrontendInput = "frontend_input"

// Driver runs the fixed pipeline against a run's store and a resolved set of
// module endpoints.
type Driver struct {
	registry *registry.Registry
	client   *moduleclient.Client
}

// New builds a Driver from the process's registry and module client.
func New(reg *registry.Registry, client *moduleclient.Client) *Driver {
	return &Driver{registry: reg, client: client}
}

// TurnRequest is the input to a new turn, normal or step mode. Turn is the
// caller-asserted turn number (spec.md §6.1's POST /turn and /turn/step/start
// bodies both carry it); beginTurn rejects it unless it equals 1 + the
// store's max committed snapshot turn.
type TurnRequest struct {
	Turn        int
	PlayerInput string
	PlayerID    string
	Bindings    map[string]string // role -> manifest module binding
}

// ProcessTurnViaRouter runs a turn to completion in one call: it creates the
// turn_execution row, records the frontend_input event, then executes every
// stage in order without pausing. Returns the finished execution and the
// pipeline events of the stages it ran; the frontend_input event is stored
// but not included in the returned slice.
func (d *Driver) ProcessTurnViaRouter(ctx context.Context, h *store.Handle, req TurnRequest) (*models.TurnExecution, []models.PipelineEvent, error) {
	rc, err := d.beginTurn(ctx, h, req, models.ModeNormal)
	if err != nil {
		return nil, nil, err
	}

	var events []models.PipelineEvent
	cp := &models.Checkpoint{}
	stages := models.Stages()
	for cursor := 0; cursor < len(stages); cursor++ {
		event, runErr := d.executeCursor(ctx, h, req.Bindings, rc, cp, cursor)
		events = append(events, event)
		if appendErr := h.AppendPipelineEvent(ctx, rc.Turn, event); appendErr != nil {
			return nil, events, appendErr
		}
		completed := cursor == len(stages)-1
		if progressErr := h.UpdateTurnExecutionProgress(ctx, rc.Turn, cursor+1, *cp, completed, turnResultIfComplete(completed, cp)); progressErr != nil {
			return nil, events, progressErr
		}
		if runErr != nil {
			slog.With("runId", rc.RunID, "turn", rc.Turn, "stage", event.Stage).Error("pipeline stage failed", "error", runErr)
			te, getErr := h.GetTurnExecution(ctx, rc.Turn)
			if getErr != nil {
				return nil, events, getErr
			}
			return te, events, stageError(models.StageName(event.Stage), runErr)
		}
	}

	te, err := h.GetTurnExecution(ctx, rc.Turn)
	return te, events, err
}

// StartTurnStepExecution begins a step-mode turn: it creates the
// turn_execution row (cursor=0, completed=false) and records the
// frontend_input event, but runs no stage. The caller drives progress via
// AdvanceTurnStepExecution.
func (d *Driver) StartTurnStepExecution(ctx context.Context, h *store.Handle, req TurnRequest) (*models.TurnExecution, error) {
	rc, err := d.beginTurn(ctx, h, req, models.ModeStep)
	if err != nil {
		return nil, err
	}
	return h.GetTurnExecution(ctx, rc.Turn)
}

// AdvanceTurnStepExecution executes exactly one stage at the execution's
// current cursor and persists the result. Calling it again after completion
// is a no-op: it returns the already-stored TurnExecution (and its stored
// TurnResult) with a zero PipelineEvent and no error, rather than
// re-executing anything.
func (d *Driver) AdvanceTurnStepExecution(ctx context.Context, h *store.Handle, turn int, bindings map[string]string) (*models.TurnExecution, models.PipelineEvent, error) {
	te, err := h.GetTurnExecution(ctx, turn)
	if err != nil {
		return nil, models.PipelineEvent{}, err
	}
	if te.Completed {
		return te, models.PipelineEvent{}, nil
	}

	rc := models.RunContext{
		RequestID:     te.RequestID,
		RunID:         h.RunID(),
		GameProjectID: te.GameProjectID,
		Turn:          te.Turn,
		PlayerID:      te.PlayerID,
		PlayerInput:   te.PlayerInput,
	}

	cp := te.Checkpoint.Clone()
	stages := models.Stages()
	cursor := te.Cursor
	event, runErr := d.executeCursor(ctx, h, bindings, rc, cp, cursor)
	if appendErr := h.AppendPipelineEvent(ctx, rc.Turn, event); appendErr != nil {
		return nil, event, appendErr
	}
	completed := runErr == nil && cursor == len(stages)-1
	if progressErr := h.UpdateTurnExecutionProgress(ctx, rc.Turn, cursor+1, *cp, completed, turnResultIfComplete(completed, cp)); progressErr != nil {
		return nil, event, progressErr
	}

	te, getErr := h.GetTurnExecution(ctx, rc.Turn)
	if getErr != nil {
		return nil, event, getErr
	}
	if runErr != nil {
		return te, event, stageError(models.Stages()[cursor], runErr)
	}
	return te, event, nil
}

// beginTurn validates turn sequencing (invariant: turn == 1 + max snapshot
// turn), enforces the single-active-execution invariant, creates the
// turn_execution row, and records the frontend_input event.
func (d *Driver) beginTurn(ctx context.Context, h *store.Handle, req TurnRequest, mode models.ExecutionMode) (models.RunContext, error) {
	active, err := h.GetActiveTurnExecution(ctx)
	if err != nil {
		return models.RunContext{}, err
	}
	if active != nil {
		return models.RunContext{}, &models.StepExecutionConflictError{ActiveTurn: active.Turn}
	}

	maxTurn, err := h.MaxSnapshotTurn(ctx)
	if err != nil {
		return models.RunContext{}, err
	}
	expected := maxTurn + 1
	if req.Turn != expected {
		return models.RunContext{}, &models.TurnSequenceConflictError{ExpectedTurn: expected, ReceivedTurn: req.Turn}
	}
	turn := req.Turn

	rc := models.RunContext{
		RequestID:     uuid.NewString(),
		RunID:         h.RunID(),
		GameProjectID: h.GameProjectID(),
		Turn:          turn,
		PlayerID:      req.PlayerID,
		PlayerInput:   req.PlayerInput,
	}

	if _, err := h.AppendEvent(ctx, turn, models.EventPlayerInput, models.PlayerInputPayload{Text: req.PlayerInput, PlayerID: req.PlayerID}); err != nil {
		return models.RunContext{}, err
	}

	if err := h.CreateTurnExecution(ctx, models.TurnExecution{
		RunID:         rc.RunID,
		Turn:          turn,
		Mode:          mode,
		Cursor:        0,
		Completed:     false,
		PlayerInput:   req.PlayerInput,
		PlayerID:      req.PlayerID,
		RequestID:     rc.RequestID,
		GameProjectID: rc.GameProjectID,
		Checkpoint:    models.Checkpoint{},
	}); err != nil {
		return models.RunContext{}, err
	}

	now := time.Now().UTC()
	frontendEvent := models.PipelineEvent{
		Turn:       turn,
		StepNumber: 1,
		Stage:      stageFrontendInput,
		Status:     models.PipelineEventOK,
		Response:   map[string]any{"playerInput": req.PlayerInput, "playerId": req.PlayerID},
		StartedAt:  now,
		FinishedAt: now,
	}
	if err := h.AppendPipelineEvent(ctx, turn, frontendEvent); err != nil {
		return models.RunContext{}, err
	}

	return rc, nil
}

// executeCursor runs the stage at Stages()[cursor], mutating cp in place,
// and returns the PipelineEvent to persist. A non-nil error means the stage
// failed fatally: the caller still persists the error event and the
// execution's current (non-advanced-past-failure) progress.
func (d *Driver) executeCursor(ctx context.Context, h *store.Handle, bindings map[string]string, rc models.RunContext, cp *models.Checkpoint, cursor int) (models.PipelineEvent, error) {
	stage := models.Stages()[cursor]
	stepNumber := cursor + 2 // +1 for 0-based cursor, +1 for the leading frontend_input event
	started := time.Now().UTC()

	if stage == models.StageWorldStateUpdate {
		return d.executeWorldStateUpdate(ctx, h, rc, cp, stepNumber, started)
	}

	if models.SkippedOnRefusal()[stage] && cp.RefusalReason != "" {
		return models.PipelineEvent{
			Turn: rc.Turn, StepNumber: stepNumber, Stage: string(stage),
			Status: models.PipelineEventSkipped, StartedAt: started, FinishedAt: started,
		}, nil
	}

	call, ok := stageCalls[stage]
	if !ok {
		err := fmt.Errorf("no module call registered for stage %s", stage)
		return errorEvent(rc.Turn, stepNumber, stage, "", started, err), err
	}

	baseURL, err := d.registry.Resolve(call.role, bindings[call.role])
	if err != nil {
		return errorEvent(rc.Turn, stepNumber, stage, call.endpoint, started, err), err
	}

	var lore []models.LoreEntry
	if stage == models.StageLoremasterRetrieve {
		lore, err = h.ListLore(ctx)
		if err != nil {
			return errorEvent(rc.Turn, stepNumber, stage, call.endpoint, started, err), err
		}
	}

	outcome := call.run(ctx, d, baseURL, rc, lore, cp)
	finished := time.Now().UTC()
	if outcome.err != nil {
		event := errorEvent(rc.Turn, stepNumber, stage, call.endpoint, started, outcome.err)
		event.Request = outcome.request
		event.FinishedAt = finished
		return event, outcome.err
	}

	cp.MergeWarnings(outcome.warnings)
	return models.PipelineEvent{
		Turn: rc.Turn, StepNumber: stepNumber, Stage: string(stage), Endpoint: call.endpoint,
		Status: models.PipelineEventOK, Request: outcome.request, Response: outcome.response,
		Warnings: outcome.warnings, StartedAt: started, FinishedAt: finished,
	}, nil
}

// executeWorldStateUpdate finalizes the turn: it synthesizes the refusal
// committed diff when the turn was short-circuited, records the module_trace
// and committed_diff events, appends the new snapshot, and reports success.
func (d *Driver) executeWorldStateUpdate(ctx context.Context, h *store.Handle, rc models.RunContext, cp *models.Checkpoint, stepNumber int, started time.Time) (models.PipelineEvent, error) {
	stage := models.StageWorldStateUpdate
	if cp.RefusalReason != "" && cp.Committed == nil {
		cp.Committed = refusalDiff(rc.Turn, cp.RefusalReason)
		cp.NarrationText = cp.RefusalReason
	}

	priorEvents, err := h.ListPipelineEvents(ctx, rc.Turn)
	if err != nil {
		return errorEvent(rc.Turn, stepNumber, stage, "", started, err), err
	}

	// This stage's own PipelineEvent is only appended to the store by the
	// caller, after executeWorldStateUpdate returns — but module_trace must
	// embed the complete set of pipeline_events for the turn, itself
	// included. Build it now and fold it into priorEvents before recording
	// the trace.
	finished := time.Now().UTC()
	selfEvent := models.PipelineEvent{
		Turn: rc.Turn, StepNumber: stepNumber, Stage: string(stage),
		Status: models.PipelineEventOK, Response: map[string]any{"committedTurn": rc.Turn},
		StartedAt: started, FinishedAt: finished,
	}

	trace := models.TurnTrace{
		Intent: cp.Intent,
		Loremaster: models.LoremasterTrace{
			Retrieval: cp.LoreRetrieval,
			Pre:       cp.LoremasterPre,
			Post:      cp.LorePost,
		},
		Proposal:         cp.Proposal,
		Arbiter:          cp.ArbiterDecision,
		Committed:        cp.Committed,
		Warnings:         cp.Warnings,
		NarrationText:    cp.NarrationText,
		PipelineEvents:   append(priorEvents, selfEvent),
		LLMConversations: cp.LLMConversations,
	}
	if cp.RefusalReason != "" {
		trace.Refusal = &models.RefusalTrace{Reason: cp.RefusalReason}
	}

	if _, err := h.AppendEvent(ctx, rc.Turn, models.EventModuleTrace, trace); err != nil {
		return errorEvent(rc.Turn, stepNumber, stage, "", started, err), err
	}
	if _, err := h.AppendEvent(ctx, rc.Turn, models.EventCommittedDiff, cp.Committed); err != nil {
		return errorEvent(rc.Turn, stepNumber, stage, "", started, err), err
	}

	snapshot := nextSnapshot(rc, cp.Committed)
	if err := h.AppendSnapshot(ctx, snapshot); err != nil {
		return errorEvent(rc.Turn, stepNumber, stage, "", started, err), err
	}

	return selfEvent, nil
}

func errorEvent(turn, stepNumber int, stage models.StageName, endpoint string, started time.Time, err error) models.PipelineEvent {
	return models.PipelineEvent{
		Turn: turn, StepNumber: stepNumber, Stage: string(stage), Endpoint: endpoint,
		Status: models.PipelineEventError, Error: err.Error(), StartedAt: started, FinishedAt: time.Now().UTC(),
	}
}

func turnResultIfComplete(completed bool, cp *models.Checkpoint) *models.TurnResult {
	if !completed {
		return nil
	}
	return &models.TurnResult{NarrationText: cp.NarrationText, Warnings: cp.Warnings}
}
