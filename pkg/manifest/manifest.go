package manifest

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/crewline/foreman/pkg/types"
)

// Manifest is the YAML document that defines one project run: the
// ordered tasks of each service plus the documents handed to stages.
type Manifest struct {
	ProjectID string `yaml:"project_id"`

	// Conventions is the project-instructions document shown to the
	// write-capable stages
	Conventions string `yaml:"conventions"`

	// BusinessSpec is the only project document the QA stage sees
	BusinessSpec string `yaml:"business_spec"`

	Services []types.ServiceSpec `yaml:"services"`
}

// Load reads and validates a task manifest. Tasks without an id get a
// generated one, so a manifest stays valid across re-runs only if ids
// are written explicitly.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	for si := range m.Services {
		for ti := range m.Services[si].Tasks {
			if m.Services[si].Tasks[ti].ID == "" {
				m.Services[si].Tasks[ti].ID = uuid.NewString()[:8]
			}
		}
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks structural consistency
func (m *Manifest) Validate() error {
	if m.ProjectID == "" {
		return fmt.Errorf("project_id must not be empty")
	}
	if len(m.Services) == 0 {
		return fmt.Errorf("at least one service is required")
	}

	seenSvc := make(map[string]bool)
	seenTask := make(map[string]string)
	for _, svc := range m.Services {
		if svc.Name == "" {
			return fmt.Errorf("service name must not be empty")
		}
		if seenSvc[svc.Name] {
			return fmt.Errorf("duplicate service %q", svc.Name)
		}
		seenSvc[svc.Name] = true

		if len(svc.Tasks) == 0 {
			return fmt.Errorf("service %q has no tasks", svc.Name)
		}
		for _, t := range svc.Tasks {
			if t.Title == "" {
				return fmt.Errorf("service %q: task %s has no title", svc.Name, t.ID)
			}
			if owner, dup := seenTask[t.ID]; dup {
				return fmt.Errorf("task id %q used by both %q and %q", t.ID, owner, svc.Name)
			}
			seenTask[t.ID] = svc.Name
		}
	}
	return nil
}

// TaskCount returns the total number of tasks across services
func (m *Manifest) TaskCount() int {
	n := 0
	for _, svc := range m.Services {
		n += len(svc.Tasks)
	}
	return n
}
