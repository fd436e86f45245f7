package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/marida-corpus-mcp/internal/dataset"
	"github.com/ironsheep/marida-corpus-mcp/internal/labels"
)

// Shard is one record file of an export.
type Shard struct {
	File    string `yaml:"file" json:"file"`
	Records int    `yaml:"records" json:"records"`
}

// Manifest describes an exported split.
type Manifest struct {
	RunID     string   `yaml:"run_id" json:"run_id"`
	CreatedAt string   `yaml:"created_at" json:"created_at"`
	Split     string   `yaml:"split" json:"split"`
	Records   int      `yaml:"records" json:"records"`
	Classes   []string `yaml:"classes" json:"classes"`
	Shards    []Shard  `yaml:"shards" json:"shards"`
}

// ManifestPath returns the manifest path of a split exported to dir.
func ManifestPath(dir, split string) string {
	return filepath.Join(dir, split+".manifest.yaml")
}

func newManifest(d *dataset.Dataset) *Manifest {
	n := d.Labels().NumClasses()
	classes := make([]string, n)
	for i := range classes {
		if i < len(labels.ClassNames) {
			classes[i] = labels.ClassNames[i]
		} else {
			classes[i] = fmt.Sprintf("class_%d", i)
		}
	}
	return &Manifest{
		RunID:     uuid.New().String(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Split:     d.Split(),
		Classes:   classes,
	}
}

// Save writes the manifest as YAML.
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest written by Split.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}
