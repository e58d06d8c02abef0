package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
)

// Handle is a write-serialized connection to one run's store.
type Handle struct {
	db            *sql.DB
	gameProjectID string
	runID         string
}

// DB returns the underlying connection, for health checks.
func (h *Handle) DB() *sql.DB { return h.db }

// RunID returns the run this handle is open against.
func (h *Handle) RunID() string { return h.runID }

// GameProjectID returns the owning game project id.
func (h *Handle) GameProjectID() string { return h.gameProjectID }

// Close releases the underlying connection.
func (h *Handle) Close() error {
	return h.db.Close()
}

const timeLayout = time.RFC3339Nano

// AppendEvent inserts an append-only event row.
func (h *Handle) AppendEvent(ctx context.Context, turn int, eventType models.EventType, payload any) (models.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.Event{}, models.NewStoreError("appendEvent: marshal payload", err)
	}
	now := time.Now().UTC()
	res, err := h.db.ExecContext(ctx,
		`INSERT INTO events (turn, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		turn, string(eventType), string(data), now.Format(timeLayout))
	if err != nil {
		return models.Event{}, models.NewStoreError("appendEvent: insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Event{}, models.NewStoreError("appendEvent: last insert id", err)
	}
	return models.Event{ID: id, Turn: turn, EventType: eventType, Payload: payload, CreatedAt: now}, nil
}

// ListEvents returns every event row ordered by (turn ASC, id ASC), the
// fold order StateProjection requires.
func (h *Handle) ListEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT id, turn, event_type, payload, created_at FROM events ORDER BY turn ASC, id ASC`)
	if err != nil {
		return nil, models.NewStoreError("listEvents: query", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			id        int64
			turn      int
			eventType string
			payload   string
			createdAt string
		)
		if err := rows.Scan(&id, &turn, &eventType, &payload, &createdAt); err != nil {
			return nil, models.NewStoreError("listEvents: scan", err)
		}
		var decoded any
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			return nil, models.NewStoreError("listEvents: unmarshal payload", err)
		}
		ts, _ := time.Parse(timeLayout, createdAt)
		events = append(events, models.Event{ID: id, Turn: turn, EventType: models.EventType(eventType), Payload: decoded, CreatedAt: ts})
	}
	return events, rows.Err()
}

// appendSnapshot inserts a new snapshot row.
func (h *Handle) appendSnapshot(ctx context.Context, snapshot models.Snapshot) error {
	worldData, err := json.Marshal(snapshot.WorldState)
	if err != nil {
		return models.NewStoreError("appendSnapshot: marshal world state", err)
	}
	viewData, err := json.Marshal(snapshot.ViewState)
	if err != nil {
		return models.NewStoreError("appendSnapshot: marshal view state", err)
	}
	now := time.Now().UTC()
	_, err = h.db.ExecContext(ctx,
		`INSERT INTO snapshots (turn, world_state, view_state, created_at) VALUES (?, ?, ?, ?)`,
		snapshot.Turn, string(worldData), string(viewData), now.Format(timeLayout))
	if err != nil {
		return models.NewStoreError("appendSnapshot: insert", err)
	}
	return nil
}

// AppendSnapshot inserts a new snapshot row (exported for world_state_update).
func (h *Handle) AppendSnapshot(ctx context.Context, snapshot models.Snapshot) error {
	return h.appendSnapshot(ctx, snapshot)
}

// GetSnapshot returns the snapshot recorded for turn.
func (h *Handle) GetSnapshot(ctx context.Context, turn int) (models.Snapshot, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT id, world_state, view_state, created_at FROM snapshots WHERE turn = ? ORDER BY id DESC LIMIT 1`, turn)

	var (
		id                    int64
		worldData, viewData   string
		createdAt             string
	)
	if err := row.Scan(&id, &worldData, &viewData, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Snapshot{}, models.NewStoreError("getSnapshot", fmt.Errorf("no snapshot for turn %d", turn))
		}
		return models.Snapshot{}, models.NewStoreError("getSnapshot: scan", err)
	}

	var worldState models.WorldState
	if err := json.Unmarshal([]byte(worldData), &worldState); err != nil {
		return models.Snapshot{}, models.NewStoreError("getSnapshot: unmarshal world state", err)
	}
	var viewState models.ViewState
	if err := json.Unmarshal([]byte(viewData), &viewState); err != nil {
		return models.Snapshot{}, models.NewStoreError("getSnapshot: unmarshal view state", err)
	}
	ts, _ := time.Parse(timeLayout, createdAt)
	return models.Snapshot{ID: id, Turn: turn, WorldState: worldState, ViewState: viewState, CreatedAt: ts}, nil
}

// MaxSnapshotTurn returns the highest turn recorded in snapshots, or 0 if
// none exist (before the seed snapshot is written, which should never
// happen post-InitializeRun).
func (h *Handle) MaxSnapshotTurn(ctx context.Context) (int, error) {
	var maxTurn sql.NullInt64
	if err := h.db.QueryRowContext(ctx, `SELECT MAX(turn) FROM snapshots`).Scan(&maxTurn); err != nil {
		return 0, models.NewStoreError("maxSnapshotTurn: query", err)
	}
	if !maxTurn.Valid {
		return 0, nil
	}
	return int(maxTurn.Int64), nil
}

// upsertLore inserts or replaces a lore row, keyed by subject.
func (h *Handle) upsertLore(ctx context.Context, entry models.LoreEntry) error {
	now := time.Now().UTC()
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO lore (subject, data, source, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(subject) DO UPDATE SET data = excluded.data, source = excluded.source`,
		entry.Subject, entry.Data, entry.Source, now.Format(timeLayout))
	if err != nil {
		return models.NewStoreError("upsertLore: insert", err)
	}
	return nil
}

// ListLore returns every seeded lore entry.
func (h *Handle) ListLore(ctx context.Context) ([]models.LoreEntry, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT subject, data, source, created_at FROM lore ORDER BY subject ASC`)
	if err != nil {
		return nil, models.NewStoreError("listLore: query", err)
	}
	defer rows.Close()

	var entries []models.LoreEntry
	for rows.Next() {
		var (
			subject, data, source, createdAt string
		)
		if err := rows.Scan(&subject, &data, &source, &createdAt); err != nil {
			return nil, models.NewStoreError("listLore: scan", err)
		}
		ts, _ := time.Parse(timeLayout, createdAt)
		entries = append(entries, models.LoreEntry{Subject: subject, Data: data, Source: source, CreatedAt: ts})
	}
	return entries, rows.Err()
}

// AppendPipelineEvent inserts a pipeline event row. event.StepNumber must
// equal 1 + the count of prior events for (runId, turn); spec.md §4.1.
func (h *Handle) AppendPipelineEvent(ctx context.Context, turn int, event models.PipelineEvent) error {
	var count int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pipeline_events WHERE run_id = ? AND turn = ?`, h.runID, turn).Scan(&count); err != nil {
		return models.NewStoreError("appendPipelineEvent: count", err)
	}
	expected := count + 1
	if event.StepNumber != expected {
		return models.NewStoreError("appendPipelineEvent", errors.New("step number out of order: expected "+strconv.Itoa(expected)+", got "+strconv.Itoa(event.StepNumber)))
	}

	event.RunID = h.runID
	event.Turn = turn
	data, err := json.Marshal(event)
	if err != nil {
		return models.NewStoreError("appendPipelineEvent: marshal", err)
	}
	_, err = h.db.ExecContext(ctx,
		`INSERT INTO pipeline_events (run_id, turn, step_number, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		h.runID, turn, event.StepNumber, string(data), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return models.NewStoreError("appendPipelineEvent: insert", err)
	}
	return nil
}

// ListPipelineEvents returns every pipeline event for a turn, ordered by
// step_number ascending.
func (h *Handle) ListPipelineEvents(ctx context.Context, turn int) ([]models.PipelineEvent, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT payload FROM pipeline_events WHERE run_id = ? AND turn = ? ORDER BY step_number ASC`,
		h.runID, turn)
	if err != nil {
		return nil, models.NewStoreError("listPipelineEvents: query", err)
	}
	defer rows.Close()

	var events []models.PipelineEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, models.NewStoreError("listPipelineEvents: scan", err)
		}
		var event models.PipelineEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, models.NewStoreError("listPipelineEvents: unmarshal", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CreateTurnExecution inserts a new turn_execution row. Fails with
// models.ErrExecutionAlreadyExists if (runId, turn) is already present.
func (h *Handle) CreateTurnExecution(ctx context.Context, te models.TurnExecution) error {
	var exists int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turn_execution WHERE run_id = ? AND turn = ?`, h.runID, te.Turn).Scan(&exists); err != nil {
		return models.NewStoreError("createTurnExecution: check existing", err)
	}
	if exists > 0 {
		return models.ErrExecutionAlreadyExists
	}

	checkpointData, err := json.Marshal(te.Checkpoint)
	if err != nil {
		return models.NewStoreError("createTurnExecution: marshal checkpoint", err)
	}
	now := time.Now().UTC()
	_, err = h.db.ExecContext(ctx,
		`INSERT INTO turn_execution
		 (run_id, turn, mode, cursor, completed, player_input, player_id, request_id, game_project_id, checkpoint, result, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		h.runID, te.Turn, string(te.Mode), te.Cursor, te.PlayerInput, te.PlayerID, te.RequestID, te.GameProjectID,
		string(checkpointData), now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return models.NewStoreError("createTurnExecution: insert", err)
	}
	return nil
}

// GetActiveTurnExecution returns the run's single non-completed execution
// row, if any (spec.md invariant 2: at most one live execution per run).
func (h *Handle) GetActiveTurnExecution(ctx context.Context) (*models.TurnExecution, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT turn FROM turn_execution WHERE run_id = ? AND completed = 0 ORDER BY turn DESC LIMIT 1`, h.runID)
	var turn int
	if err := row.Scan(&turn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, models.NewStoreError("getActiveTurnExecution: scan", err)
	}
	return h.GetTurnExecution(ctx, turn)
}

// GetTurnExecution fetches the execution row for (runId, turn).
func (h *Handle) GetTurnExecution(ctx context.Context, turn int) (*models.TurnExecution, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT mode, cursor, completed, player_input, player_id, request_id, game_project_id, checkpoint, result, created_at, updated_at
		 FROM turn_execution WHERE run_id = ? AND turn = ?`, h.runID, turn)

	var (
		mode, playerInput, playerID, requestID, gameProjectID, checkpointData string
		result                                                                sql.NullString
		completed                                                             int
		cursor                                                                int
		createdAt, updatedAt                                                  string
	)
	if err := row.Scan(&mode, &cursor, &completed, &playerInput, &playerID, &requestID, &gameProjectID, &checkpointData, &result, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrExecutionNotFound
		}
		return nil, models.NewStoreError("getTurnExecution: scan", err)
	}

	var checkpoint models.Checkpoint
	if err := json.Unmarshal([]byte(checkpointData), &checkpoint); err != nil {
		return nil, models.NewStoreError("getTurnExecution: unmarshal checkpoint", err)
	}
	var turnResult *models.TurnResult
	if result.Valid && result.String != "" {
		turnResult = &models.TurnResult{}
		if err := json.Unmarshal([]byte(result.String), turnResult); err != nil {
			return nil, models.NewStoreError("getTurnExecution: unmarshal result", err)
		}
	}
	createdTS, _ := time.Parse(timeLayout, createdAt)
	updatedTS, _ := time.Parse(timeLayout, updatedAt)

	return &models.TurnExecution{
		RunID:         h.runID,
		Turn:          turn,
		Mode:          models.ExecutionMode(mode),
		Cursor:        cursor,
		Completed:     completed != 0,
		PlayerInput:   playerInput,
		PlayerID:      playerID,
		RequestID:     requestID,
		GameProjectID: gameProjectID,
		Checkpoint:    checkpoint,
		Result:        turnResult,
		CreatedAt:     createdTS,
		UpdatedAt:     updatedTS,
	}, nil
}

// ReadTurnExecutionCheckpoint returns just the checkpoint for (runId, turn).
func (h *Handle) ReadTurnExecutionCheckpoint(ctx context.Context, turn int) (models.Checkpoint, error) {
	te, err := h.GetTurnExecution(ctx, turn)
	if err != nil {
		return models.Checkpoint{}, err
	}
	return te.Checkpoint, nil
}

// UpdateTurnExecutionProgress advances cursor/checkpoint and, when
// completed=true, stores the final result and makes the row terminal.
func (h *Handle) UpdateTurnExecutionProgress(ctx context.Context, turn, cursor int, checkpoint models.Checkpoint, completed bool, result *models.TurnResult) error {
	checkpointData, err := json.Marshal(checkpoint)
	if err != nil {
		return models.NewStoreError("updateTurnExecutionProgress: marshal checkpoint", err)
	}
	var resultData sql.NullString
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return models.NewStoreError("updateTurnExecutionProgress: marshal result", err)
		}
		resultData = sql.NullString{String: string(data), Valid: true}
	}

	res, err := h.db.ExecContext(ctx,
		`UPDATE turn_execution SET cursor = ?, checkpoint = ?, completed = ?, result = ?, updated_at = ?
		 WHERE run_id = ? AND turn = ?`,
		cursor, string(checkpointData), boolToInt(completed), resultData, time.Now().UTC().Format(timeLayout), h.runID, turn)
	if err != nil {
		return models.NewStoreError("updateTurnExecutionProgress: update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.NewStoreError("updateTurnExecutionProgress: rows affected", err)
	}
	if n == 0 {
		return models.ErrExecutionNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
