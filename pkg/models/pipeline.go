package models

import "time"

// StageName enumerates the eight fixed pipeline stages, in execution order.
type StageName string

// Fixed stage order. Index in Stages() is the zero-based cursor position;
// stepNumber in a PipelineEvent is 1 + that position (plus the leading
// frontend_input synthetic event — see PipelineDriver).
const (
	StageIntentExtractor     StageName = "intent_extractor"
	StageLoremasterRetrieve  StageName = "loremaster_retrieve"
	StageLoremasterPre       StageName = "loremaster_pre"
	StageDefaultSimulator    StageName = "default_simulator"
	StageLoremasterPost      StageName = "loremaster_post"
	StageArbiter             StageName = "arbiter"
	StageProser              StageName = "proser"
	StageWorldStateUpdate    StageName = "world_state_update"
)

// Stages returns the fixed stage order.
func Stages() []StageName {
	return []StageName{
		StageIntentExtractor,
		StageLoremasterRetrieve,
		StageLoremasterPre,
		StageDefaultSimulator,
		StageLoremasterPost,
		StageArbiter,
		StageProser,
		StageWorldStateUpdate,
	}
}

// SkippedOnRefusal is the fixed set of stages the driver skips once a
// refusal reason has been set.
func SkippedOnRefusal() map[StageName]bool {
	return map[StageName]bool{
		StageDefaultSimulator: true,
		StageLoremasterPost:   true,
		StageArbiter:          true,
		StageProser:           true,
	}
}

// PipelineEventStatus enumerates a pipeline event's terminal status.
type PipelineEventStatus string

// Recognized pipeline event statuses.
const (
	PipelineEventOK      PipelineEventStatus = "ok"
	PipelineEventError   PipelineEventStatus = "error"
	PipelineEventSkipped PipelineEventStatus = "skipped"
)

// PipelineEvent is one durable row describing a single stage's execution.
type PipelineEvent struct {
	ID         int64               `json:"id,omitempty"`
	RunID      string              `json:"runId"`
	Turn       int                 `json:"turn"`
	StepNumber int                 `json:"stepNumber"`
	Stage      string              `json:"stage"`
	Endpoint   string              `json:"endpoint,omitempty"`
	Status     PipelineEventStatus `json:"status"`
	Request    any                 `json:"request,omitempty"`
	Response   any                 `json:"response,omitempty"`
	Warnings   []string            `json:"warnings,omitempty"`
	Error      string              `json:"error,omitempty"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
}

// ExecutionMode distinguishes a single-shot turn from a step-by-step one.
type ExecutionMode string

// Recognized execution modes.
const (
	ModeNormal ExecutionMode = "normal"
	ModeStep   ExecutionMode = "step"
)

// TurnResult is the narration/warnings payload stored once a turn completes.
type TurnResult struct {
	NarrationText string   `json:"narrationText,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// TurnExecution is the running or completed state of one turn's pipeline.
type TurnExecution struct {
	RunID         string        `json:"runId"`
	Turn          int           `json:"turn"`
	Mode          ExecutionMode `json:"mode"`
	Cursor        int           `json:"cursor"`
	Completed     bool          `json:"completed"`
	PlayerInput   string        `json:"playerInput"`
	PlayerID      string        `json:"playerId"`
	RequestID     string        `json:"requestId"`
	GameProjectID string        `json:"gameProjectId"`
	Checkpoint    Checkpoint    `json:"checkpoint"`
	Result        *TurnResult   `json:"result,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// EventType enumerates the three kinds of append-only event rows.
type EventType string

// Recognized event types.
const (
	EventPlayerInput   EventType = "player_input"
	EventModuleTrace   EventType = "module_trace"
	EventCommittedDiff EventType = "committed_diff"
)

// Event is one append-only row in the events table.
type Event struct {
	ID        int64     `json:"id,omitempty"`
	Turn      int       `json:"turn"`
	EventType EventType `json:"eventType"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// PlayerInputPayload is the payload of a player_input event.
type PlayerInputPayload struct {
	Text     string `json:"text"`
	PlayerID string `json:"playerId"`
}

// TurnTrace is the payload of a module_trace event: the complete record of
// one turn's pipeline execution.
type TurnTrace struct {
	Intent           *ActionCandidates     `json:"intent,omitempty"`
	Loremaster       LoremasterTrace       `json:"loremaster"`
	Proposal         *ProposedDiff         `json:"proposal,omitempty"`
	Arbiter          *ArbiterDecision      `json:"arbiter,omitempty"`
	Committed        *CommittedDiff        `json:"committed,omitempty"`
	Refusal          *RefusalTrace         `json:"refusal,omitempty"`
	Warnings         []string              `json:"warnings,omitempty"`
	NarrationText    string                `json:"narrationText"`
	PipelineEvents   []PipelineEvent       `json:"pipelineEvents"`
	LLMConversations map[string]any        `json:"llmConversations,omitempty"`
}

// LoremasterTrace groups the three loremaster call outputs.
type LoremasterTrace struct {
	Retrieval *LoreRetrieval        `json:"retrieval,omitempty"`
	Pre       *LoremasterOutput     `json:"pre,omitempty"`
	Post      *LoremasterPostOutput `json:"post,omitempty"`
}

// RefusalTrace records why a turn was refused.
type RefusalTrace struct {
	Reason string `json:"reason"`
}

// WorldState is the durable world-facing half of a snapshot.
type WorldState struct {
	GameProjectID string           `json:"gameProjectId,omitempty"`
	Entities      []map[string]any `json:"entities,omitempty"`
	Facts         []map[string]any `json:"facts,omitempty"`
	Anchors       []map[string]any `json:"anchors,omitempty"`
	LastSummary   string           `json:"lastSummary,omitempty"`
}

// PlayerView groups observations visible to a single player.
type PlayerView struct {
	Observations []map[string]any `json:"observations,omitempty"`
}

// ViewState is the durable player-facing half of a snapshot.
type ViewState struct {
	Player         PlayerView  `json:"player"`
	LastObservation []Operation `json:"lastObservation,omitempty"`
}

// Snapshot is one append-only row in the snapshots table.
type Snapshot struct {
	ID         int64      `json:"id,omitempty"`
	Turn       int        `json:"turn"`
	WorldState WorldState `json:"worldState"`
	ViewState  ViewState  `json:"viewState"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// LoreEntry is one row seeded into the lore table at run creation.
type LoreEntry struct {
	Subject   string    `json:"subject"`
	Data      string    `json:"data"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}
