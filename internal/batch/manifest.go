package batch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clipforge/orchestrator/internal/domain"
)

// Manifest is a batch request loaded from a YAML file: a name, the
// member project specs, and generation settings shared by all of them.
type Manifest struct {
	Name     string               `yaml:"name"`
	Projects []domain.ProjectSpec `yaml:"projects"`
	Settings domain.Settings      `yaml:"settings"`
}

// LoadManifest reads and validates a batch manifest
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	if m.Name == "" {
		return nil, fmt.Errorf("manifest %s: name is required", path)
	}
	if len(m.Projects) == 0 {
		return nil, fmt.Errorf("manifest %s: at least one project is required", path)
	}
	for i, p := range m.Projects {
		if p.Name == "" {
			return nil, fmt.Errorf("manifest %s: project %d has no name", path, i)
		}
		if p.Content == "" {
			return nil, fmt.Errorf("manifest %s: project %q has no content", path, p.Name)
		}
	}
	return &m, nil
}
