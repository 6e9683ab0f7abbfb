package static

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
)

// Loader reads the mappings this node registers on its own behalf.
type Loader struct {
	filePath string
}

// NewLoader creates a loader for filePath.
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.filePath
}

// Load reads, expands and validates the mappings file.
func (l *Loader) Load() ([]domain.ServiceMapping, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a mappings document. ${VAR} references are expanded from the
// environment, so specs can point at hosts only known at deploy time.
func Parse(data []byte) ([]domain.ServiceMapping, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse mappings yaml: %w", err)
	}

	seen := make(map[string]string, len(f.Mappings))
	out := make([]domain.ServiceMapping, 0, len(f.Mappings))
	for i, m := range f.Mappings {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("mapping #%d: %w", i, err)
		}
		if spec, ok := seen[m.Name]; ok {
			if spec != m.Spec {
				return nil, fmt.Errorf("mapping %q listed twice with different specs", m.Name)
			}
			continue
		}
		seen[m.Name] = m.Spec
		out = append(out, m)
	}
	return out, nil
}
