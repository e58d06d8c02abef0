package orchestrator

import (
	"fmt"
	"strings"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
)

// computeIntentRefusal implements the intent_extractor half of the
// refusal-skip predicate (spec.md §4.4): if any candidate carries
// no_target_in_scope, the turn is refused outright; otherwise, if any
// candidate carries needs_clarification without also carrying
// no_target_in_scope, the turn is refused as ambiguous. Evaluated in
// candidate order — the first matching candidate wins.
func computeIntentRefusal(ac *models.ActionCandidates) string {
	if ac == nil {
		return ""
	}
	for _, c := range ac.Candidates {
		if hasTag(c.ConsequenceTags, models.TagNoTargetInScope) {
			if c.Intent == "attack" {
				return "Refused: no valid attack target is currently in scope."
			}
			return fmt.Sprintf("Refused: no valid target is in scope for %s.", strings.ReplaceAll(c.Intent, "_", " "))
		}
	}
	for _, c := range ac.Candidates {
		if hasTag(c.ConsequenceTags, models.TagNeedsClarification) && !hasTag(c.ConsequenceTags, models.TagNoTargetInScope) {
			return "Refused: action is ambiguous and cannot be safely resolved."
		}
	}
	return ""
}

// computePreRefusal implements the loremaster_pre half of the predicate: the
// first assessment carrying no_target_in_scope contributes its rationale as
// the refusal reason. An empty return means the pre-check found nothing —
// callers must not clear a refusal reason already set by the intent stage.
func computePreRefusal(lo *models.LoremasterOutput) string {
	if lo == nil {
		return ""
	}
	for _, a := range lo.Assessments {
		if hasTag(a.ConsequenceTags, models.TagNoTargetInScope) {
			return "Refused: " + a.Rationale
		}
	}
	return ""
}

func hasTag(tags []models.ConsequenceTag, target models.ConsequenceTag) bool {
	for _, t := range tags {
		if t == target {
			return true
		}
	}
	return false
}
