package orchestrator

import "github.com/LoshkinOleg/MorpheusEngine/pkg/models"

// Request shapes sent to each module role's endpoint, per spec.md §4.4's
// stage table and §6.2's envelope (every request additionally carries
// "context": RunContext — json tag below).

type intentExtractorRequest struct {
	Context models.RunContext `json:"context"`
}

// loremasterRetrieveRequest additionally carries the seeded lore corpus
// (spec.md §4.1: "LoreEntry ... read by the retrieval stage") as Corpus —
// a field beyond the stage table's documented minimum, since the table
// names required fields, not an exhaustive request shape (see DESIGN.md).
type loremasterRetrieveRequest struct {
	Context models.RunContext      `json:"context"`
	Intent  *models.ActionCandidates `json:"intent"`
	Corpus  []models.LoreEntry      `json:"corpus,omitempty"`
}

type loremasterPreRequest struct {
	Context models.RunContext        `json:"context"`
	Intent  *models.ActionCandidates `json:"intent"`
	Lore    *models.LoreRetrieval    `json:"lore"`
}

type defaultSimulatorRequest struct {
	Context       models.RunContext        `json:"context"`
	Intent        *models.ActionCandidates `json:"intent"`
	Lore          *models.LoreRetrieval    `json:"lore"`
	LoremasterPre *models.LoremasterOutput `json:"loremasterPre"`
}

type loremasterPostRequest struct {
	Context  models.RunContext        `json:"context"`
	Intent   *models.ActionCandidates `json:"intent"`
	Lore     *models.LoreRetrieval    `json:"lore"`
	Proposal *models.ProposedDiff     `json:"proposal"`
}

type arbiterRequest struct {
	Context       models.RunContext           `json:"context"`
	Intent        *models.ActionCandidates    `json:"intent"`
	Lore          *models.LoreRetrieval       `json:"lore"`
	LoremasterPre *models.LoremasterOutput    `json:"loremasterPre"`
	Proposal      *models.ProposedDiff        `json:"proposal"`
	LorePost      *models.LoremasterPostOutput `json:"lorePost"`
}

type proserRequest struct {
	Context   models.RunContext            `json:"context"`
	Committed *models.CommittedDiff        `json:"committed"`
	Lore      *models.LoreRetrieval        `json:"lore"`
	LorePost  *models.LoremasterPostOutput `json:"lorePost"`
}
