package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
)

// dataColumnNames lists the recognized header names for a lore entry's
// free-text body column, per spec.md §4.1. If the header holds more than one
// of them, the leftmost such column is used.
var dataColumnNames = []string{"data", "description", "entry"}

// LoadSeedFromFiles reads the world-context markdown file and the default
// lore entries CSV named in a game project's manifest, building the
// SeedData InitializeRun seeds into the lore table. Missing files are not
// an error — a game project may ship without a lore corpus.
func LoadSeedFromFiles(worldFilePath, entriesFilePath string) (SeedData, error) {
	var seed SeedData

	if data, err := os.ReadFile(worldFilePath); err == nil {
		seed.WorldContext = string(data)
	} else if !os.IsNotExist(err) {
		return seed, fmt.Errorf("reading world context file %s: %w", worldFilePath, err)
	}

	entries, err := loadLoreCSV(entriesFilePath)
	if err != nil {
		return seed, err
	}
	seed.Entries = entries

	return seed, nil
}

func loadLoreCSV(path string) ([]models.LoreEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening lore entries file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lore entries header %s: %w", path, err)
	}

	subjectCol, dataCol := -1, -1
	for i, h := range header {
		switch h {
		case "subject":
			subjectCol = i
		default:
			for _, candidate := range dataColumnNames {
				if h == candidate && dataCol == -1 {
					dataCol = i
				}
			}
		}
	}
	if subjectCol == -1 || dataCol == -1 {
		return nil, fmt.Errorf("lore entries file %s: missing required columns (subject + one of %v)", path, dataColumnNames)
	}

	var entries []models.LoreEntry
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading lore entries row %s: %w", path, err)
		}
		entries = append(entries, models.LoreEntry{
			Subject: record[subjectCol],
			Data:    record[dataCol],
			Source:  path,
		})
	}
	return entries, nil
}
