package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
)

func TestInitializeRun_SeedsSnapshotAndLore(t *testing.T) {
	root := t.TempDir()
	st := New(root)
	ctx := context.Background()

	seed := SeedData{
		WorldContext: "the dunes stretch endlessly",
		Entries: []models.LoreEntry{
			{Subject: "crawler", Data: "a tracked desert vehicle", Source: "lore/default_lore_entries.csv"},
		},
	}
	require.NoError(t, st.InitializeRun(ctx, "proj-1", "run-1", seed))

	h, err := st.Open(ctx, "proj-1", "run-1")
	require.NoError(t, err)
	defer h.Close()

	maxTurn, err := h.MaxSnapshotTurn(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, maxTurn)

	lore, err := h.ListLore(ctx)
	require.NoError(t, err)
	require.Len(t, lore, 2) // world_context + crawler
	subjects := map[string]string{}
	for _, l := range lore {
		subjects[l.Subject] = l.Data
	}
	assert.Equal(t, "the dunes stretch endlessly", subjects["world_context"])
	assert.Equal(t, "a tracked desert vehicle", subjects["crawler"])
}

func TestInitializeRun_IdempotentOnExistingFolder(t *testing.T) {
	root := t.TempDir()
	st := New(root)
	ctx := context.Background()

	require.NoError(t, st.InitializeRun(ctx, "proj-1", "run-1", SeedData{}))
	require.NoError(t, st.InitializeRun(ctx, "proj-1", "run-1", SeedData{}))

	h, err := st.Open(ctx, "proj-1", "run-1")
	require.NoError(t, err)
	defer h.Close()

	maxTurn, err := h.MaxSnapshotTurn(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, maxTurn, "seed snapshot must not be duplicated on re-init")
}

func TestAppendPipelineEvent_RejectsOutOfOrderStepNumber(t *testing.T) {
	root := t.TempDir()
	st := New(root)
	ctx := context.Background()
	require.NoError(t, st.InitializeRun(ctx, "proj-1", "run-1", SeedData{}))
	h, err := st.Open(ctx, "proj-1", "run-1")
	require.NoError(t, err)
	defer h.Close()

	err = h.AppendPipelineEvent(ctx, 1, models.PipelineEvent{StepNumber: 2, Stage: "intent_extractor"})
	require.Error(t, err, "step 2 before step 1 must be rejected")

	require.NoError(t, h.AppendPipelineEvent(ctx, 1, models.PipelineEvent{StepNumber: 1, Stage: "frontend_input"}))
	require.NoError(t, h.AppendPipelineEvent(ctx, 1, models.PipelineEvent{StepNumber: 2, Stage: "intent_extractor"}))

	events, err := h.ListPipelineEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].StepNumber)
	assert.Equal(t, 2, events[1].StepNumber)
}

func TestCreateTurnExecution_RejectsDuplicate(t *testing.T) {
	root := t.TempDir()
	st := New(root)
	ctx := context.Background()
	require.NoError(t, st.InitializeRun(ctx, "proj-1", "run-1", SeedData{}))
	h, err := st.Open(ctx, "proj-1", "run-1")
	require.NoError(t, err)
	defer h.Close()

	te := models.TurnExecution{RunID: "run-1", Turn: 1, Mode: models.ModeNormal, PlayerInput: "look", PlayerID: "p1", RequestID: "req-1", GameProjectID: "proj-1"}
	require.NoError(t, h.CreateTurnExecution(ctx, te))
	err = h.CreateTurnExecution(ctx, te)
	assert.ErrorIs(t, err, models.ErrExecutionAlreadyExists)
}

func TestGetActiveTurnExecution(t *testing.T) {
	root := t.TempDir()
	st := New(root)
	ctx := context.Background()
	require.NoError(t, st.InitializeRun(ctx, "proj-1", "run-1", SeedData{}))
	h, err := st.Open(ctx, "proj-1", "run-1")
	require.NoError(t, err)
	defer h.Close()

	active, err := h.GetActiveTurnExecution(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	te := models.TurnExecution{RunID: "run-1", Turn: 1, Mode: models.ModeStep, PlayerInput: "look", PlayerID: "p1", RequestID: "req-1", GameProjectID: "proj-1"}
	require.NoError(t, h.CreateTurnExecution(ctx, te))

	active, err = h.GetActiveTurnExecution(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 1, active.Turn)

	require.NoError(t, h.UpdateTurnExecutionProgress(ctx, 1, 8, models.Checkpoint{}, true, &models.TurnResult{NarrationText: "done"}))

	active, err = h.GetActiveTurnExecution(ctx)
	require.NoError(t, err)
	assert.Nil(t, active, "completed executions are no longer active")
}

func TestResolveRunLocation(t *testing.T) {
	root := t.TempDir()
	st := New(root)
	ctx := context.Background()
	require.NoError(t, st.InitializeRun(ctx, "proj-1", "run-xyz", SeedData{}))

	gameProjectID, ok, err := st.ResolveRunLocation("run-xyz")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "proj-1", gameProjectID)

	_, ok, err = st.ResolveRunLocation("does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSessions(t *testing.T) {
	root := t.TempDir()
	st := New(root)
	ctx := context.Background()
	require.NoError(t, st.InitializeRun(ctx, "proj-1", "run-a", SeedData{}))
	require.NoError(t, st.InitializeRun(ctx, "proj-1", "run-b", SeedData{}))

	sessions, err := st.ListSessions("proj-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestListSessions_UnknownProject(t *testing.T) {
	root := t.TempDir()
	st := New(root)
	sessions, err := st.ListSessions("nope")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
