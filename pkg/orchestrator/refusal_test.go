package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
)

func TestComputeIntentRefusal(t *testing.T) {
	t.Run("no_target_in_scope on attack produces the attack-specific message", func(t *testing.T) {
		ac := &models.ActionCandidates{Candidates: []models.ActionCandidate{
			{Intent: "attack", ConsequenceTags: []models.ConsequenceTag{models.TagNoTargetInScope}},
		}}
		assert.Equal(t, "Refused: no valid attack target is currently in scope.", computeIntentRefusal(ac))
	})

	t.Run("no_target_in_scope on a non-attack intent names the intent with underscores replaced", func(t *testing.T) {
		ac := &models.ActionCandidates{Candidates: []models.ActionCandidate{
			{Intent: "pick_lock", ConsequenceTags: []models.ConsequenceTag{models.TagNoTargetInScope}},
		}}
		assert.Equal(t, "Refused: no valid target is in scope for pick lock.", computeIntentRefusal(ac))
	})

	t.Run("needs_clarification without no_target_in_scope produces the ambiguity message", func(t *testing.T) {
		ac := &models.ActionCandidates{Candidates: []models.ActionCandidate{
			{Intent: "use_item", ConsequenceTags: []models.ConsequenceTag{models.TagNeedsClarification}},
		}}
		assert.Equal(t, "Refused: action is ambiguous and cannot be safely resolved.", computeIntentRefusal(ac))
	})

	t.Run("no_target_in_scope takes priority over needs_clarification on another candidate", func(t *testing.T) {
		ac := &models.ActionCandidates{Candidates: []models.ActionCandidate{
			{Intent: "attack", ConsequenceTags: []models.ConsequenceTag{models.TagNoTargetInScope}},
			{Intent: "talk", ConsequenceTags: []models.ConsequenceTag{models.TagNeedsClarification}},
		}}
		assert.Equal(t, "Refused: no valid attack target is currently in scope.", computeIntentRefusal(ac))
	})

	t.Run("no refusal tags yields empty reason", func(t *testing.T) {
		ac := &models.ActionCandidates{Candidates: []models.ActionCandidate{{Intent: "observe"}}}
		assert.Empty(t, computeIntentRefusal(ac))
	})

	t.Run("nil candidates yields empty reason", func(t *testing.T) {
		assert.Empty(t, computeIntentRefusal(nil))
	})
}

func TestComputePreRefusal(t *testing.T) {
	t.Run("first no_target_in_scope assessment contributes its rationale", func(t *testing.T) {
		lo := &models.LoremasterOutput{Assessments: []models.LoremasterAssessment{
			{CandidateIndex: 0, ConsequenceTags: []models.ConsequenceTag{models.TagNoTargetInScope}, Rationale: "the door was destroyed last turn"},
		}}
		assert.Equal(t, "Refused: the door was destroyed last turn", computePreRefusal(lo))
	})

	t.Run("no matching assessment yields empty reason", func(t *testing.T) {
		lo := &models.LoremasterOutput{Assessments: []models.LoremasterAssessment{
			{CandidateIndex: 0, Status: models.StatusAllowed},
		}}
		assert.Empty(t, computePreRefusal(lo))
	})

	t.Run("nil output yields empty reason", func(t *testing.T) {
		assert.Empty(t, computePreRefusal(nil))
	})
}
