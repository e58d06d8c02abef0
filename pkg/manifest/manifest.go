// Package manifest loads a game project's manifest.yaml — the one sliver of
// content loading spec.md §1 keeps in scope (the retrieval-index hook): the
// module role → URL bindings Registry consults, and the paths to the lore
// corpus RunStore seeds from.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
)

// LoreConfig names the lore corpus files relative to the game project root.
type LoreConfig struct {
	WorldFile   string `yaml:"worldFile"`
	EntriesFile string `yaml:"entriesFile"`
}

// Manifest describes a game project: display metadata, module bindings, and
// the lore corpus location.
type Manifest struct {
	GameProjectID  string            `yaml:"gameProjectId"`
	DisplayName    string            `yaml:"displayName"`
	ModuleBindings map[string]string `yaml:"moduleBindings"`
	Lore           LoreConfig        `yaml:"lore"`
}

const manifestFileName = "manifest.yaml"

// Load reads <root>/<gameProjectID>/manifest.yaml. Returns
// models.ErrGameProjectNotFound if the directory or file is absent.
func Load(root, gameProjectID string) (*Manifest, error) {
	path := filepath.Join(root, gameProjectID, manifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.ErrGameProjectNotFound
		}
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if m.GameProjectID == "" {
		m.GameProjectID = gameProjectID
	}
	if m.ModuleBindings == nil {
		m.ModuleBindings = map[string]string{}
	}
	return &m, nil
}

// WorldFilePath returns the absolute path to the lore world-context file.
func (m *Manifest) WorldFilePath(root string) string {
	f := m.Lore.WorldFile
	if f == "" {
		f = "lore/world.md"
	}
	return filepath.Join(root, m.GameProjectID, f)
}

// EntriesFilePath returns the absolute path to the lore CSV entries file.
func (m *Manifest) EntriesFilePath(root string) string {
	f := m.Lore.EntriesFile
	if f == "" {
		f = "lore/default_lore_entries.csv"
	}
	return filepath.Join(root, m.GameProjectID, f)
}
