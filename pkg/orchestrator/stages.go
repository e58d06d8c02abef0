package orchestrator

import (
	"context"
	"fmt"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/config"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/moduleclient"
)

// stageOutcome is what running one stage against a live module produces,
// before it is folded into the checkpoint and written as a PipelineEvent.
type stageOutcome struct {
	request  any
	response any
	warnings []string
	err      error
}

// stageCall is the per-stage module contract: which role/endpoint to hit,
// how to build that request from the checkpoint so far, and how to fold
// the validated output back into the checkpoint. One entry per module
// stage — world_state_update has no module call and is handled directly by
// the driver (see driver.go).
type stageCall struct {
	role     string
	endpoint string
	run      func(ctx context.Context, d *Driver, baseURL string, rc models.RunContext, lore []models.LoreEntry, cp *models.Checkpoint) stageOutcome
}

var stageCalls = map[models.StageName]stageCall{
	models.StageIntentExtractor: {
		role:     config.RoleIntentExtractor,
		endpoint: moduleclient.EndpointIntentExtractor,
		run: func(ctx context.Context, d *Driver, baseURL string, rc models.RunContext, lore []models.LoreEntry, cp *models.Checkpoint) stageOutcome {
			req := intentExtractorRequest{Context: rc}
			var out models.ActionCandidates
			env, err := d.client.Invoke(ctx, "intent_extractor", moduleclient.EndpointIntentExtractor, baseURL, req, &out)
			if err != nil {
				return stageOutcome{request: req, err: err}
			}
			cp.Intent = &out
			cp.MergeConversation("intent_extractor", env.Debug.LLMConversation)
			if cp.RefusalReason == "" {
				cp.RefusalReason = computeIntentRefusal(&out)
			}
			return stageOutcome{request: req, response: out, warnings: env.Meta.Warnings}
		},
	},
	models.StageLoremasterRetrieve: {
		role:     config.RoleLoremaster,
		endpoint: moduleclient.EndpointLoremasterRetrieve,
		run: func(ctx context.Context, d *Driver, baseURL string, rc models.RunContext, lore []models.LoreEntry, cp *models.Checkpoint) stageOutcome {
			req := loremasterRetrieveRequest{Context: rc, Intent: cp.Intent, Corpus: lore}
			var out models.LoreRetrieval
			env, err := d.client.Invoke(ctx, "loremaster_retrieve", moduleclient.EndpointLoremasterRetrieve, baseURL, req, &out)
			if err != nil {
				return stageOutcome{request: req, err: err}
			}
			cp.LoreRetrieval = &out
			cp.MergeConversation("loremaster_retrieve", env.Debug.LLMConversation)
			return stageOutcome{request: req, response: out, warnings: env.Meta.Warnings}
		},
	},
	models.StageLoremasterPre: {
		role:     config.RoleLoremaster,
		endpoint: moduleclient.EndpointLoremasterPre,
		run: func(ctx context.Context, d *Driver, baseURL string, rc models.RunContext, lore []models.LoreEntry, cp *models.Checkpoint) stageOutcome {
			req := loremasterPreRequest{Context: rc, Intent: cp.Intent, Lore: cp.LoreRetrieval}
			var out models.LoremasterOutput
			env, err := d.client.Invoke(ctx, "loremaster_pre", moduleclient.EndpointLoremasterPre, baseURL, req, &out)
			if err != nil {
				return stageOutcome{request: req, err: err}
			}
			cp.LoremasterPre = &out
			cp.MergeConversation("loremaster_pre", env.Debug.LLMConversation)
			if preReason := computePreRefusal(&out); preReason != "" {
				cp.RefusalReason = preReason
			}
			return stageOutcome{request: req, response: out, warnings: env.Meta.Warnings}
		},
	},
	models.StageDefaultSimulator: {
		role:     config.RoleDefaultSimulator,
		endpoint: moduleclient.EndpointDefaultSimulator,
		run: func(ctx context.Context, d *Driver, baseURL string, rc models.RunContext, lore []models.LoreEntry, cp *models.Checkpoint) stageOutcome {
			req := defaultSimulatorRequest{Context: rc, Intent: cp.Intent, Lore: cp.LoreRetrieval, LoremasterPre: cp.LoremasterPre}
			var out models.ProposedDiff
			env, err := d.client.Invoke(ctx, "default_simulator", moduleclient.EndpointDefaultSimulator, baseURL, req, &out)
			if err != nil {
				return stageOutcome{request: req, err: err}
			}
			cp.Proposal = &out
			cp.MergeConversation("default_simulator", env.Debug.LLMConversation)
			return stageOutcome{request: req, response: out, warnings: env.Meta.Warnings}
		},
	},
	models.StageLoremasterPost: {
		role:     config.RoleLoremaster,
		endpoint: moduleclient.EndpointLoremasterPost,
		run: func(ctx context.Context, d *Driver, baseURL string, rc models.RunContext, lore []models.LoreEntry, cp *models.Checkpoint) stageOutcome {
			req := loremasterPostRequest{Context: rc, Intent: cp.Intent, Lore: cp.LoreRetrieval, Proposal: cp.Proposal}
			var out models.LoremasterPostOutput
			env, err := d.client.Invoke(ctx, "loremaster_post", moduleclient.EndpointLoremasterPost, baseURL, req, &out)
			if err != nil {
				return stageOutcome{request: req, err: err}
			}
			cp.LorePost = &out
			cp.MergeConversation("loremaster_post", env.Debug.LLMConversation)
			return stageOutcome{request: req, response: out, warnings: env.Meta.Warnings}
		},
	},
	models.StageArbiter: {
		role:     config.RoleArbiter,
		endpoint: moduleclient.EndpointArbiter,
		run: func(ctx context.Context, d *Driver, baseURL string, rc models.RunContext, lore []models.LoreEntry, cp *models.Checkpoint) stageOutcome {
			req := arbiterRequest{
				Context:       rc,
				Intent:        cp.Intent,
				Lore:          cp.LoreRetrieval,
				LoremasterPre: cp.LoremasterPre,
				Proposal:      cp.Proposal,
				LorePost:      cp.LorePost,
			}
			var out models.ArbiterDecision
			env, err := d.client.Invoke(ctx, "arbiter", moduleclient.EndpointArbiter, baseURL, req, &out)
			if err != nil {
				return stageOutcome{request: req, err: err}
			}
			cp.ArbiterDecision = &out
			selected := out.SelectedProposal
			cp.Proposal = &selected
			cp.Committed = commit(rc.Turn, &selected)
			cp.MergeConversation("arbiter", env.Debug.LLMConversation)
			return stageOutcome{request: req, response: out, warnings: env.Meta.Warnings}
		},
	},
	models.StageProser: {
		role:     config.RoleProser,
		endpoint: moduleclient.EndpointProser,
		run: func(ctx context.Context, d *Driver, baseURL string, rc models.RunContext, lore []models.LoreEntry, cp *models.Checkpoint) stageOutcome {
			req := proserRequest{Context: rc, Committed: cp.Committed, Lore: cp.LoreRetrieval, LorePost: cp.LorePost}
			var out models.ProserOutput
			env, err := d.client.Invoke(ctx, "proser", moduleclient.EndpointProser, baseURL, req, &out)
			if err != nil {
				return stageOutcome{request: req, err: err}
			}
			cp.NarrationText = out.NarrationText
			cp.MergeConversation("proser", env.Debug.LLMConversation)
			return stageOutcome{request: req, response: out, warnings: env.Meta.Warnings}
		},
	},
}

// commit builds the durable CommittedDiff for an accepted proposal, per
// spec.md §4.4's commit(turn, proposal) function.
func commit(turn int, proposal *models.ProposedDiff) *models.CommittedDiff {
	var ops []models.Operation
	if proposal != nil {
		ops = proposal.Operations
	}
	return &models.CommittedDiff{
		Turn:       turn,
		Operations: ops,
		Summary:    "Action resolved with router-managed module pipeline.",
	}
}

// refusalDiff synthesizes the committed diff for a turn short-circuited by
// the refusal-skip predicate: a single observation visible only to the
// acting player, carrying the refusal text.
func refusalDiff(turn int, reason string) *models.CommittedDiff {
	return &models.CommittedDiff{
		Turn: turn,
		Operations: []models.Operation{
			{
				Op:      models.OpObservation,
				Scope:   models.ScopeViewPlayer,
				Payload: map[string]any{"text": reason},
				Reason:  "refusal",
			},
		},
		Summary: "Action refused during pipeline processing.",
	}
}

// StageError wraps a pipeline stage failure with the stage that produced it,
// so the API layer can report details.stage per spec.md §7's "Module RPC"
// error taxonomy entry without re-deriving it from a PipelineEvent.
type StageError struct {
	Stage models.StageName
	Err   error
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("orchestrator: stage %s: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying stage failure for errors.As/errors.Is.
func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage models.StageName, err error) error {
	return &StageError{Stage: stage, Err: err}
}
