// Package testfixtures provides shared test doubles for the module services
// the router calls: a set of httptest servers, one per role, returning
// schema-valid envelopes so pkg/orchestrator and pkg/api tests can exercise
// the full pipeline without a real module process.
package testfixtures

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/config"
)

// RoleHandler handles every request sent to one role's base URL; the
// loremaster role receives calls at three distinct paths
// (/retrieve, /pre, /post) and must switch on r.URL.Path.
type RoleHandler func(w http.ResponseWriter, r *http.Request)

// FakeModules runs one httptest.Server per role and exposes the manifest
// bindings a Registry needs to route to them.
type FakeModules struct {
	servers  []*httptest.Server
	Bindings map[string]string // role -> base URL, for orchestrator.TurnRequest.Bindings
}

// NewFakeModules starts one server per entry in handlers, keyed by role
// constant (config.RoleIntentExtractor, etc).
func NewFakeModules(t *testing.T, handlers map[string]RoleHandler) *FakeModules {
	t.Helper()
	fm := &FakeModules{Bindings: map[string]string{}}
	for role, handler := range handlers {
		srv := httptest.NewServer(http.HandlerFunc(handler))
		t.Cleanup(srv.Close)
		fm.servers = append(fm.servers, srv)
		fm.Bindings[role] = srv.URL
	}
	return fm
}

// Close shuts down every server. NewFakeModules already registers each
// server's Close with t.Cleanup, and httptest.Server.Close may be called more
// than once, so calling this explicitly is optional.
func (f *FakeModules) Close() {
	for _, s := range f.servers {
		s.Close()
	}
}

func writeEnvelope(w http.ResponseWriter, moduleName string, output any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"meta":   map[string]any{"moduleName": moduleName},
		"output": output,
	})
}

// HappyPathHandlers returns a handler per role producing the minimal
// schema-valid, non-refusing response for a turn: one accepted action
// candidate, empty lore evidence, an allowed pre-assessment, a single
// view:player observation operation, an "accept" arbiter decision, and
// narration text.
func HappyPathHandlers() map[string]RoleHandler {
	return map[string]RoleHandler{
		config.RoleIntentExtractor: func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, "intent_extractor", map[string]any{
				"rawInput": "look around",
				"candidates": []map[string]any{
					{"actorId": "player-1", "intent": "observe", "confidence": 0.9, "params": map[string]any{}},
				},
			})
		},
		config.RoleLoremaster: func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/retrieve":
				writeEnvelope(w, "loremaster", map[string]any{
					"query": "look around", "evidence": []any{}, "summary": "no notable lore nearby",
				})
			case "/pre":
				writeEnvelope(w, "loremaster", map[string]any{
					"assessments": []map[string]any{
						{"candidateIndex": 0, "status": "allowed", "rationale": "plausible given current state"},
					},
					"summary": "candidate is plausible",
				})
			case "/post":
				writeEnvelope(w, "loremaster", map[string]any{
					"status": "consistent", "rationale": "diff matches established world state",
				})
			default:
				http.NotFound(w, r)
			}
		},
		config.RoleDefaultSimulator: func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, "default_simulator", map[string]any{
				"moduleName": "default_simulator",
				"operations": []map[string]any{
					{"op": "observation", "scope": "view:player", "payload": map[string]any{"text": "you see nothing unusual"}, "reason": "look action"},
				},
			})
		},
		config.RoleArbiter: func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, "arbiter", map[string]any{
				"decision": "accept",
				"selectedProposal": map[string]any{
					"moduleName": "default_simulator",
					"operations": []map[string]any{
						{"op": "observation", "scope": "view:player", "payload": map[string]any{"text": "you see nothing unusual"}, "reason": "look action"},
					},
				},
				"rationale": "default simulator's proposal is consistent and uncontested",
			})
		},
		config.RoleProser: func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, "proser", map[string]any{
				"narrationText": "You look around and see nothing unusual.",
			})
		},
	}
}
