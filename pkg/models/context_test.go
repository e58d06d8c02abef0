package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_RoundtripsThroughJSON(t *testing.T) {
	cp := Checkpoint{
		Intent:        &ActionCandidates{RawInput: "look", Candidates: []ActionCandidate{{ActorID: "p1", Intent: "observe", Confidence: 0.9, Params: map[string]any{}}}},
		NarrationText: "You see dunes.",
		Warnings:      []string{"used fallback"},
		RefusalReason: "",
	}

	data, err := json.Marshal(cp)
	require.NoError(t, err)

	var roundtripped Checkpoint
	require.NoError(t, json.Unmarshal(data, &roundtripped))
	assert.Equal(t, cp, roundtripped)
}

func TestCheckpoint_Clone_DoesNotShareSlicesOrMaps(t *testing.T) {
	cp := &Checkpoint{
		Warnings:         []string{"a"},
		LLMConversations: map[string]any{"arbiter": "trace"},
	}
	clone := cp.Clone()
	clone.Warnings[0] = "mutated"
	clone.LLMConversations["arbiter"] = "different"

	assert.Equal(t, "a", cp.Warnings[0], "cloning must not let mutations leak back into the original")
	assert.Equal(t, "trace", cp.LLMConversations["arbiter"])
}

func TestCheckpoint_Clone_Nil(t *testing.T) {
	var cp *Checkpoint
	clone := cp.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, Checkpoint{}, *clone)
}

func TestCheckpoint_MergeWarnings_SkipsEmpty(t *testing.T) {
	cp := &Checkpoint{}
	cp.MergeWarnings([]string{"one", "", "two"})
	assert.Equal(t, []string{"one", "two"}, cp.Warnings)
}

func TestCheckpoint_MergeConversation_SkipsNil(t *testing.T) {
	cp := &Checkpoint{}
	cp.MergeConversation("proser", nil)
	assert.Nil(t, cp.LLMConversations)

	cp.MergeConversation("proser", map[string]any{"turns": 1})
	require.NotNil(t, cp.LLMConversations)
	assert.Equal(t, map[string]any{"turns": 1}, cp.LLMConversations["proser"])
}
