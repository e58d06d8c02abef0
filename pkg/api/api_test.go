package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoshkinOleg/MorpheusEngine/internal/testfixtures"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/config"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/moduleclient"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/orchestrator"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/registry"
	"github.com/LoshkinOleg/MorpheusEngine/pkg/store"
)

// newTestServer builds a full Server over a fresh game-projects root with
// one seeded game project ("desert-crawler") and a fake module fleet bound
// into its manifest, wired through the Registry's manifest-binding tier.
func newTestServer(t *testing.T, handlers map[string]testfixtures.RoleHandler) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	gameProjectID := "desert-crawler"
	projectDir := filepath.Join(root, gameProjectID)
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, "lore"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "lore", "world.md"), []byte("the dunes stretch endlessly"), 0o644))

	fm := testfixtures.NewFakeModules(t, handlers)
	manifestYAML := "displayName: Desert Crawler\nmoduleBindings:\n"
	for role, url := range fm.Bindings {
		manifestYAML += "  " + role + ": " + url + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "manifest.yaml"), []byte(manifestYAML), 0o644))

	cfg := &config.Config{
		Port: "0", GameProjectsRoot: root, DefaultGameProjectID: gameProjectID,
		ModuleRequestTimeout: 2 * time.Second, ModuleURLOverrides: map[string]string{},
	}
	client, err := moduleclient.New(cfg.ModuleRequestTimeout)
	require.NoError(t, err)
	reg := registry.New(cfg)
	st := store.New(root)
	driver := orchestrator.New(reg, client)
	return NewServer(cfg, st, driver), gameProjectID
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, testfixtures.HappyPathHandlers())
	rec := doJSON(t, s.Router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestStartRun_ThenProcessTurn_HappyPath(t *testing.T) {
	s, gameProjectID := newTestServer(t, testfixtures.HappyPathHandlers())
	router := s.Router()

	rec := doJSON(t, router, http.MethodPost, "/run/start", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	var startResp struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &startResp))
	require.NotEmpty(t, startResp.RunID)

	rec = doJSON(t, router, http.MethodPost, "/turn", map[string]any{
		"runId": startResp.RunID, "turn": 1, "playerInput": "Look around.", "playerId": "entity.player.captain",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/run/"+startResp.RunID+"/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state struct {
		Messages []struct {
			PlayerText string `json:"playerText"`
			EngineText string `json:"engineText"`
		} `json:"messages"`
		NextTurn int `json:"nextTurn"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "Look around.", state.Messages[0].PlayerText)
	assert.Equal(t, 2, state.NextTurn)

	rec = doJSON(t, router, http.MethodGet, "/game_projects/"+gameProjectID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessTurn_UnknownRun404(t *testing.T) {
	s, _ := newTestServer(t, testfixtures.HappyPathHandlers())
	rec := doJSON(t, s.Router(), http.MethodPost, "/turn", map[string]any{
		"runId": "does-not-exist", "turn": 1, "playerInput": "x", "playerId": "p1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RUN_NOT_FOUND", body.Error.Code)
}

func TestProcessTurn_InvalidTurnIndex(t *testing.T) {
	s, _ := newTestServer(t, testfixtures.HappyPathHandlers())
	router := s.Router()
	rec := doJSON(t, router, http.MethodPost, "/run/start", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	var startResp struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &startResp))

	rec = doJSON(t, router, http.MethodPost, "/turn", map[string]any{
		"runId": startResp.RunID, "turn": 0, "playerInput": "x", "playerId": "p1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessTurn_SequenceConflictReturns409(t *testing.T) {
	s, _ := newTestServer(t, testfixtures.HappyPathHandlers())
	router := s.Router()
	rec := doJSON(t, router, http.MethodPost, "/run/start", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	var startResp struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &startResp))

	rec = doJSON(t, router, http.MethodPost, "/turn", map[string]any{
		"runId": startResp.RunID, "turn": 2, "playerInput": "x", "playerId": "p1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				ExpectedTurn int `json:"expectedTurn"`
				ReceivedTurn int `json:"receivedTurn"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "TURN_SEQUENCE_CONFLICT", body.Error.Code)
	assert.Equal(t, 1, body.Error.Details.ExpectedTurn)
	assert.Equal(t, 2, body.Error.Details.ReceivedTurn)
}

func TestStepEndpoints_FullTurnOverHTTP(t *testing.T) {
	s, _ := newTestServer(t, testfixtures.HappyPathHandlers())
	router := s.Router()
	rec := doJSON(t, router, http.MethodPost, "/run/start", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	var startResp struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &startResp))

	rec = doJSON(t, router, http.MethodPost, "/turn/step/start", map[string]any{
		"runId": startResp.RunID, "turn": 1, "playerInput": "Look.", "playerId": "p1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var last *httptest.ResponseRecorder
	for i := 0; i < 8; i++ {
		last = doJSON(t, router, http.MethodPost, "/turn/step/next", map[string]any{
			"runId": startResp.RunID, "turn": 1,
		})
		require.Equal(t, http.StatusOK, last.Code, last.Body.String())
	}
	var advanceResp struct {
		Execution struct {
			Completed bool `json:"completed"`
		} `json:"execution"`
	}
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &advanceResp))
	assert.True(t, advanceResp.Execution.Completed)

	rec = doJSON(t, router, http.MethodGet, "/run/"+startResp.RunID+"/turn/1/pipeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStepStart_ConcurrentConflictReturns409(t *testing.T) {
	s, _ := newTestServer(t, testfixtures.HappyPathHandlers())
	router := s.Router()
	rec := doJSON(t, router, http.MethodPost, "/run/start", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	var startResp struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &startResp))

	rec = doJSON(t, router, http.MethodPost, "/turn/step/start", map[string]any{
		"runId": startResp.RunID, "turn": 1, "playerInput": "Look.", "playerId": "p1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/turn/step/start", map[string]any{
		"runId": startResp.RunID, "turn": 2, "playerInput": "Look again.", "playerId": "p1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "STEP_EXECUTION_CONFLICT", body.Error.Code)
}

func TestGameProjects_NotFound(t *testing.T) {
	s, _ := newTestServer(t, testfixtures.HappyPathHandlers())
	rec := doJSON(t, s.Router(), http.MethodGet, "/game_projects/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessions_EmptyBeforeAnyRun(t *testing.T) {
	s, gameProjectID := newTestServer(t, testfixtures.HappyPathHandlers())
	rec := doJSON(t, s.Router(), http.MethodGet, "/game_projects/"+gameProjectID+"/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions []any `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Sessions)
}
