package registry

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// ErrInvalidCatalog is returned when a catalog fails to decode or validate.
var ErrInvalidCatalog = errors.New("invalid catalog")

type catalogFile struct {
	Tools []*Tool `yaml:"tools" validate:"required,min=1,dive,required"`
}

// Registry is an immutable tool catalog. Lookups never fail: unknown ids,
// categories or tags yield empty results.
type Registry struct {
	tools []*Tool
	index map[string]*Tool
}

// Stats summarizes the catalog.
type Stats struct {
	Total        int                      `json:"total"`
	ByCategory   map[types.Category]int   `json:"by_category"`
	ByComplexity map[types.Complexity]int `json:"by_complexity"`
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := Load(bytes.NewReader(catalogYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return r
})

// Default returns the built-in catalog.
func Default() *Registry {
	return defaultRegistry()
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Load(f)
}

// Load decodes and validates a YAML catalog. Duplicate ids and chainable
// references to unknown tools are rejected.
func Load(r io.Reader) (*Registry, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	reg := &Registry{
		tools: file.Tools,
		index: make(map[string]*Tool, len(file.Tools)),
	}
	for _, tool := range file.Tools {
		if _, exists := reg.index[tool.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate tool id %q", ErrInvalidCatalog, tool.ID)
		}
		reg.index[tool.ID] = tool
	}
	for _, tool := range file.Tools {
		for _, next := range tool.ChainableWith {
			if _, ok := reg.index[next]; !ok {
				return nil, fmt.Errorf("%w: tool %q chains to unknown tool %q", ErrInvalidCatalog, tool.ID, next)
			}
		}
	}

	return reg, nil
}

// Get returns the tool with the given id.
func (r *Registry) Get(id string) (*Tool, bool) {
	tool, ok := r.index[id]
	return tool, ok
}

// Has reports whether id is in the catalog.
func (r *Registry) Has(id string) bool {
	_, ok := r.index[id]
	return ok
}

// All returns every tool in declaration order.
func (r *Registry) All() []*Tool {
	return r.filter(func(*Tool) bool { return true })
}

// ByCategory returns the tools of the given category.
func (r *Registry) ByCategory(category types.Category) []*Tool {
	return r.filter(func(t *Tool) bool { return t.Category == category })
}

// ByCapability returns the tools advertising tag.
func (r *Registry) ByCapability(tag string) []*Tool {
	return r.filter(func(t *Tool) bool { return t.HasCapability(tag) })
}

// ByRole returns the tools role is allowed to use.
func (r *Registry) ByRole(role types.Role) []*Tool {
	return r.filter(func(t *Tool) bool { return t.AllowsRole(role) })
}

// ByPhase returns the tools available in phase.
func (r *Registry) ByPhase(phase types.Phase) []*Tool {
	return r.filter(func(t *Tool) bool { return t.InPhase(phase) })
}

// Chainable resolves the chainable ids of tool id. Unknown ids are skipped.
func (r *Registry) Chainable(id string) []*Tool {
	tool, ok := r.index[id]
	if !ok {
		return nil
	}
	result := make([]*Tool, 0, len(tool.ChainableWith))
	for _, next := range tool.ChainableWith {
		if t, ok := r.index[next]; ok {
			result = append(result, t)
		}
	}
	return result
}

// IsChainable reports whether to is declared as a next step of from.
func (r *Registry) IsChainable(from, to string) bool {
	tool, ok := r.index[from]
	if !ok {
		return false
	}
	for _, next := range tool.ChainableWith {
		if next == to {
			return true
		}
	}
	return false
}

// CanAccess reports whether a user with role and disciplines may use tool,
// optionally in a given phase. An empty phase skips the phase check.
func (r *Registry) CanAccess(tool *Tool, role types.Role, disciplines []string, phase types.Phase) bool {
	if tool == nil || !tool.AllowsRole(role) || !tool.AllowsDisciplines(disciplines) {
		return false
	}
	if phase != "" && !tool.InPhase(phase) {
		return false
	}
	return true
}

// IDs returns every tool id in declaration order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.tools))
	for _, tool := range r.tools {
		ids = append(ids, tool.ID)
	}
	return ids
}

// Stats counts tools by category and complexity.
func (r *Registry) Stats() Stats {
	stats := Stats{
		Total:        len(r.tools),
		ByCategory:   make(map[types.Category]int),
		ByComplexity: make(map[types.Complexity]int),
	}
	for _, tool := range r.tools {
		stats.ByCategory[tool.Category]++
		stats.ByComplexity[tool.Metadata.Complexity]++
	}
	return stats
}

func (r *Registry) filter(keep func(*Tool) bool) []*Tool {
	result := make([]*Tool, 0)
	for _, tool := range r.tools {
		if keep(tool) {
			result = append(result, tool)
		}
	}
	return result
}
