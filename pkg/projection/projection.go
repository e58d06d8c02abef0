// Package projection implements StateProjection (spec.md §4.5): folding a
// run's append-only events into the chat transcript, debug trace list, and
// next-turn index the API and UI consume.
package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
)

// Source is the subset of the RunStore a projection needs: the full event
// log and the highest committed snapshot turn.
type Source interface {
	ListEvents(ctx context.Context) ([]models.Event, error)
	MaxSnapshotTurn(ctx context.Context) (int, error)
}

// Project folds events ordered by (turn ASC, id ASC) into a SessionState.
// It is a pure function of persisted rows (spec.md invariant 5): calling it
// twice against the same store yields an equal result.
func Project(ctx context.Context, src Source) (models.SessionState, error) {
	events, err := src.ListEvents(ctx)
	if err != nil {
		return models.SessionState{}, fmt.Errorf("projection: listing events: %w", err)
	}

	type turnAccumulator struct {
		turn       int
		playerText string
		engineText string
		trace      *models.TurnTrace
		timestamp  models.DebugEntry
		hasTrace   bool
	}

	order := []int{}
	byTurn := map[int]*turnAccumulator{}
	get := func(turn int) *turnAccumulator {
		acc, ok := byTurn[turn]
		if !ok {
			acc = &turnAccumulator{turn: turn}
			byTurn[turn] = acc
			order = append(order, turn)
		}
		return acc
	}

	for _, event := range events {
		acc := get(event.Turn)
		switch event.EventType {
		case models.EventPlayerInput:
			var payload models.PlayerInputPayload
			if err := reconstruct(event.Payload, &payload); err != nil {
				return models.SessionState{}, fmt.Errorf("projection: decoding player_input turn %d: %w", event.Turn, err)
			}
			acc.playerText = payload.Text
		case models.EventModuleTrace:
			var trace models.TurnTrace
			if err := reconstruct(event.Payload, &trace); err != nil {
				return models.SessionState{}, fmt.Errorf("projection: decoding module_trace turn %d: %w", event.Turn, err)
			}
			acc.engineText = trace.NarrationText
			acc.trace = &trace
			acc.hasTrace = true
			acc.timestamp = models.DebugEntry{Timestamp: event.CreatedAt, Turn: event.Turn, Trace: &trace}
		case models.EventCommittedDiff:
			// Not surfaced directly in the projected view; narration and
			// observations are already captured via module_trace.
		}
	}

	var messages []models.ChatMessage
	var debugEntries []models.DebugEntry
	for _, turn := range order {
		acc := byTurn[turn]
		messages = append(messages, models.ChatMessage{
			Turn:       acc.turn,
			PlayerText: acc.playerText,
			EngineText: acc.engineText,
		})
		if acc.hasTrace {
			debugEntries = append(debugEntries, acc.timestamp)
		}
	}

	maxSnapshotTurn, err := src.MaxSnapshotTurn(ctx)
	if err != nil {
		return models.SessionState{}, fmt.Errorf("projection: max snapshot turn: %w", err)
	}

	return models.SessionState{
		Messages:     messages,
		DebugEntries: debugEntries,
		NextTurn:     maxSnapshotTurn + 1,
	}, nil
}

// reconstruct round-trips a decoded-as-any JSON value into a typed struct.
func reconstruct(payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
