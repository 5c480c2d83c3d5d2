package writer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SchemaVersion is written into every day directory's schema.json. Version 2
// introduces the global recv_seq column across all streams.
const SchemaVersion = 2

// StreamSchema describes one output stream's columns for the schema.json
// manifest.
type StreamSchema struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Format  string   `json:"format"`
	Columns []string `json:"columns,omitempty"`
}

// Manifest is the full schema.json document.
type Manifest struct {
	SchemaVersion int            `json:"schema_version"`
	Symbol        string         `json:"symbol"`
	Exchange      string         `json:"exchange"`
	Streams       []StreamSchema `json:"streams"`
}

func writeManifest(dir string, m Manifest) error {
	m.SchemaVersion = SchemaVersion
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "schema.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
