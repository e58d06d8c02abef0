// Package store implements the per-run durable state described in
// spec.md §4.1 (RunStore): a single embedded SQLite file per run under
// <gameProjectsRoot>/<gameProjectId>/saved/<runId>/world_state.db, opened in
// WAL mode, holding events, snapshots, turn executions, pipeline events,
// and the seeded lore corpus.
//
// The teacher (codeready-toolchain/tarsy) backs its shared session state
// with a pooled Postgres connection via Ent (pkg/database/client.go). A
// per-run, single-writer, create-once file doesn't fit a shared server or
// Ent's generated-client model (see DESIGN.md), so this store talks
// database/sql directly against modernc.org/sqlite (pure Go, no cgo) while
// keeping the teacher's connection-setup shape: a Config-less constructor,
// an embedded schema applied on open, and a thin wrapper type exposing the
// underlying *sql.DB for health/diagnostic use.
package store

import (
	"context"
	"database/sql"
	"embed"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
)

//go:embed schema/schema.sql
var schemaFS embed.FS

const dbFileName = "world_state.db"
const savedDirName = "saved"

// Store locates and opens per-run SQLite files under a game-projects root.
type Store struct {
	gameProjectsRoot string
}

// New returns a Store rooted at gameProjectsRoot.
func New(gameProjectsRoot string) *Store {
	return &Store{gameProjectsRoot: gameProjectsRoot}
}

func (s *Store) runDir(gameProjectID, runID string) string {
	return filepath.Join(s.gameProjectsRoot, gameProjectID, savedDirName, runID)
}

func (s *Store) dbPath(gameProjectID, runID string) string {
	return filepath.Join(s.runDir(gameProjectID, runID), dbFileName)
}

// SeedData bundles the initial lore corpus and seed snapshot inputs consumed
// by InitializeRun.
type SeedData struct {
	WorldContext string // lore/world.md contents, seeded under subject "world_context"
	Entries      []models.LoreEntry
}

// InitializeRun creates the run's folder and schema, and seeds the initial
// snapshot (turn 0) and lore table. Idempotent on already-initialized
// folders: the schema DDL is all CREATE TABLE IF NOT EXISTS, the seed
// snapshot is only inserted when no snapshot exists, and lore rows are
// upserted by subject.
func (s *Store) InitializeRun(ctx context.Context, gameProjectID, runID string, seed SeedData) error {
	dir := s.runDir(gameProjectID, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.NewStoreError("initializeRun: mkdir", err)
	}

	h, err := s.open(ctx, gameProjectID, runID)
	if err != nil {
		return err
	}
	defer h.Close()

	var snapshotCount int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&snapshotCount); err != nil {
		return models.NewStoreError("initializeRun: count snapshots", err)
	}
	if snapshotCount == 0 {
		seedSnapshot := models.Snapshot{
			Turn: 0,
			WorldState: models.WorldState{
				GameProjectID: gameProjectID,
				Entities:      []map[string]any{},
				Facts:         []map[string]any{},
				Anchors:       []map[string]any{},
			},
			ViewState: models.ViewState{Player: models.PlayerView{Observations: []map[string]any{}}},
		}
		if err := h.appendSnapshot(ctx, seedSnapshot); err != nil {
			return err
		}
	}

	if seed.WorldContext != "" {
		if err := h.upsertLore(ctx, models.LoreEntry{
			Subject: "world_context",
			Data:    seed.WorldContext,
			Source:  "lore/world.md",
		}); err != nil {
			return err
		}
	}
	for _, entry := range seed.Entries {
		if err := h.upsertLore(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

// Open opens the run's store, ensuring its schema exists.
func (s *Store) Open(ctx context.Context, gameProjectID, runID string) (*Handle, error) {
	return s.open(ctx, gameProjectID, runID)
}

func (s *Store) open(ctx context.Context, gameProjectID, runID string) (*Handle, error) {
	dir := s.runDir(gameProjectID, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, models.NewStoreError("open: mkdir", err)
	}

	path := s.dbPath(gameProjectID, runID)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, models.NewStoreError("open: sql.Open", err)
	}

	// Single physical connection: the run's writer is one process at a time
	// (spec.md §5), and this avoids SQLITE_BUSY from the driver opening a
	// second connection concurrently against the same WAL file.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, models.NewStoreError("open: enable WAL", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, models.NewStoreError("open: enable foreign_keys", err)
	}

	ddl, err := schemaFS.ReadFile("schema/schema.sql")
	if err != nil {
		_ = db.Close()
		return nil, models.NewStoreError("open: read embedded schema", err)
	}
	if _, err := db.ExecContext(ctx, string(ddl)); err != nil {
		_ = db.Close()
		return nil, models.NewStoreError("open: apply schema", err)
	}

	return &Handle{db: db, gameProjectID: gameProjectID, runID: runID}, nil
}

// SessionInfo is one entry in a game project's saved-run listing.
type SessionInfo struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListSessions enumerates directories under <root>/<gameProjectID>/saved/
// that hold a world_state.db, ordered by that file's modification time,
// newest first. The file's creation time is not read: CreatedAt carries the
// modification time.
func (s *Store) ListSessions(gameProjectID string) ([]SessionInfo, error) {
	savedDir := filepath.Join(s.gameProjectsRoot, gameProjectID, savedDirName)
	entries, err := os.ReadDir(savedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionInfo{}, nil
		}
		return nil, models.NewStoreError("listSessions: readdir", err)
	}

	sessions := make([]SessionInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dbPath := filepath.Join(savedDir, entry.Name(), dbFileName)
		info, err := os.Stat(dbPath)
		if err != nil {
			continue // not an initialized run directory
		}
		sessions = append(sessions, SessionInfo{SessionID: entry.Name(), CreatedAt: info.ModTime()})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
	return sessions, nil
}

// ResolveRunLocation scans every game project directory under the root for
// a matching saved/<runID>/world_state.db, per spec.md's "folder is
// authoritative" rule.
func (s *Store) ResolveRunLocation(runID string) (gameProjectID string, ok bool, err error) {
	projectDirs, err := os.ReadDir(s.gameProjectsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, models.NewStoreError("resolveRunLocation: readdir", err)
	}

	for _, projectDir := range projectDirs {
		if !projectDir.IsDir() {
			continue
		}
		candidate := filepath.Join(s.gameProjectsRoot, projectDir.Name(), savedDirName, runID, dbFileName)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return projectDir.Name(), true, nil
		}
	}
	return "", false, nil
}
