package orchestrator

import (
	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
)

// nextSnapshot builds the snapshot world_state_update appends for a turn,
// per spec.md §4.4: worldState carries only the committed summary and
// viewState only the committed operations as lastObservation — the richer
// entity/fact ledger lives in the seed (turn 0) snapshot and module-service
// state, not in the router's per-turn snapshot row.
func nextSnapshot(rc models.RunContext, committed *models.CommittedDiff) models.Snapshot {
	snapshot := models.Snapshot{
		Turn:       rc.Turn,
		WorldState: models.WorldState{GameProjectID: rc.GameProjectID},
	}
	if committed != nil {
		snapshot.WorldState.LastSummary = committed.Summary
		snapshot.ViewState.LastObservation = committed.Operations
	}
	return snapshot
}
