// Package registry loads and serves the model catalog. The catalog is an
// immutable snapshot swapped atomically on reload, so scoring calls in
// flight never observe a half-applied configuration.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/moerouter/pkg/model"
)

// fileModel is the YAML shape of one catalog entry. Prices are declared
// per 1K tokens in configuration and normalized to per-million internally.
type fileModel struct {
	ID            string             `yaml:"id"`
	Provider      string             `yaml:"provider"`
	Quality       float64            `yaml:"quality"`
	PriceInPer1K  float64            `yaml:"price_in_per_1k"`
	PriceOutPer1K float64            `yaml:"price_out_per_1k"`
	MaxContext    int                `yaml:"max_context"`
	LatencyP50Ms  int                `yaml:"latency_p50_ms"`
	Capabilities  model.Capabilities `yaml:"capabilities"`
	Enabled       *bool              `yaml:"enabled"`
	Preferences   map[string]string  `yaml:"preferences,omitempty"`
}

type fileCatalog struct {
	Models []fileModel `yaml:"models"`
}

// catalog is one immutable snapshot of the registry.
type catalog struct {
	models map[string]model.ModelDefinition
	order  []string
}

// Registry holds the current model catalog.
type Registry struct {
	path    string
	current atomic.Pointer[catalog]
}

// New creates an empty registry. Load or Parse populates it.
func New() *Registry {
	r := &Registry{}
	r.current.Store(&catalog{models: map[string]model.ModelDefinition{}})
	return r
}

// LoadFile reads the catalog from a YAML file and remembers the path so
// Reload can re-read it later.
func LoadFile(path string) (*Registry, error) {
	r := New()
	r.path = path
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the configured file. On any error the previous catalog
// stays in place.
func (r *Registry) Reload() error {
	if r.path == "" {
		return fmt.Errorf("registry: no file configured")
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("registry: read %s: %w", r.path, err)
	}
	return r.Parse(data)
}

// Parse replaces the catalog with the parsed contents of data.
func (r *Registry) Parse(data []byte) error {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("registry: parse: %w", err)
	}
	cat, err := buildCatalog(fc)
	if err != nil {
		return err
	}
	r.current.Store(cat)
	return nil
}

// SetModels replaces the catalog programmatically. Used by tests and by
// embedders that manage configuration themselves.
func (r *Registry) SetModels(defs []model.ModelDefinition) error {
	models := make(map[string]model.ModelDefinition, len(defs))
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		if strings.TrimSpace(def.ID) == "" {
			return fmt.Errorf("registry: model with empty id")
		}
		if _, dup := models[def.ID]; dup {
			return fmt.Errorf("registry: duplicate model id %q", def.ID)
		}
		models[def.ID] = def
		order = append(order, def.ID)
	}
	sort.Strings(order)
	r.current.Store(&catalog{models: models, order: order})
	return nil
}

func buildCatalog(fc fileCatalog) (*catalog, error) {
	if len(fc.Models) == 0 {
		return nil, fmt.Errorf("registry: catalog declares no models")
	}

	models := make(map[string]model.ModelDefinition, len(fc.Models))
	order := make([]string, 0, len(fc.Models))

	for i, fm := range fc.Models {
		if strings.TrimSpace(fm.ID) == "" {
			return nil, fmt.Errorf("registry: model %d has no id", i)
		}
		if _, dup := models[fm.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate model id %q", fm.ID)
		}
		if strings.TrimSpace(fm.Provider) == "" {
			return nil, fmt.Errorf("registry: model %q has no provider", fm.ID)
		}
		if fm.Quality < 0 || fm.Quality > 1 {
			return nil, fmt.Errorf("registry: model %q quality %.3f out of [0,1]", fm.ID, fm.Quality)
		}

		prefs, err := parsePreferences(fm.ID, fm.Preferences)
		if err != nil {
			return nil, err
		}

		enabled := true
		if fm.Enabled != nil {
			enabled = *fm.Enabled
		}

		models[fm.ID] = model.ModelDefinition{
			ID:               fm.ID,
			Provider:         fm.Provider,
			Quality:          fm.Quality,
			PricePerMilIn:    fm.PriceInPer1K * 1000,
			PricePerMilOut:   fm.PriceOutPer1K * 1000,
			MaxContextTokens: fm.MaxContext,
			LatencyP50:       time.Duration(fm.LatencyP50Ms) * time.Millisecond,
			Capabilities:     fm.Capabilities,
			Enabled:          enabled,
			TaskPreferences:  prefs,
		}
		order = append(order, fm.ID)
	}

	sort.Strings(order)
	return &catalog{models: models, order: order}, nil
}

func parsePreferences(modelID string, raw map[string]string) (map[model.TaskType]model.PreferenceTier, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	prefs := make(map[model.TaskType]model.PreferenceTier, len(raw))
	for taskStr, tierStr := range raw {
		task, err := model.ParseTaskType(taskStr)
		if err != nil {
			return nil, fmt.Errorf("registry: model %q preferences: %w", modelID, err)
		}
		switch tier := model.PreferenceTier(strings.ToLower(tierStr)); tier {
		case model.TierPreferred, model.TierBudget:
			prefs[task] = tier
		default:
			return nil, fmt.Errorf("registry: model %q preference for %s: unknown tier %q", modelID, task, tierStr)
		}
	}
	return prefs, nil
}

// Get returns a model definition by id.
func (r *Registry) Get(id string) (model.ModelDefinition, bool) {
	cat := r.current.Load()
	def, ok := cat.models[id]
	return def, ok
}

// Models returns every definition in deterministic (lexicographic) order.
func (r *Registry) Models() []model.ModelDefinition {
	cat := r.current.Load()
	out := make([]model.ModelDefinition, 0, len(cat.order))
	for _, id := range cat.order {
		out = append(out, cat.models[id])
	}
	return out
}

// Enabled returns the enabled definitions in deterministic order.
func (r *Registry) Enabled() []model.ModelDefinition {
	all := r.Models()
	out := all[:0]
	for _, def := range all {
		if def.Enabled {
			out = append(out, def)
		}
	}
	return out
}

// Len returns the total number of registered models.
func (r *Registry) Len() int {
	return len(r.current.Load().models)
}

// Path returns the backing configuration file, if any.
func (r *Registry) Path() string {
	return r.path
}
