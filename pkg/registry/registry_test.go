package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/moerouter/pkg/model"
)

const sampleCatalog = `
models:
  - id: anthropic/sonnet
    provider: anthropic
    quality: 0.92
    price_in_per_1k: 0.003
    price_out_per_1k: 0.015
    max_context: 200000
    latency_p50_ms: 1800
    capabilities:
      vision: true
      tools: true
      streaming: true
    preferences:
      code_generation: preferred
      security_audit: preferred
  - id: openai/mini
    provider: openai
    quality: 0.80
    price_in_per_1k: 0.00015
    price_out_per_1k: 0.0006
    max_context: 128000
    latency_p50_ms: 900
    capabilities:
      tools: true
      json_mode: true
      streaming: true
    preferences:
      code_generation: budget
  - id: local/llama
    provider: ollama
    quality: 0.60
    price_in_per_1k: 0
    price_out_per_1k: 0
    max_context: 32000
    latency_p50_ms: 3000
    enabled: false
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	reg, err := LoadFile(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	assert.Equal(t, 3, reg.Len())

	def, ok := reg.Get("anthropic/sonnet")
	require.True(t, ok)
	assert.Equal(t, "anthropic", def.Provider)
	assert.InDelta(t, 0.92, def.Quality, 1e-9)
	// Per-1K config prices normalize to per-million.
	assert.InDelta(t, 3.0, def.PricePerMilIn, 1e-9)
	assert.InDelta(t, 15.0, def.PricePerMilOut, 1e-9)
	assert.Equal(t, 200000, def.MaxContextTokens)
	assert.Equal(t, 1800*time.Millisecond, def.LatencyP50)
	assert.True(t, def.Capabilities.Vision)
	assert.True(t, def.Enabled)

	tier, ok := def.PreferenceFor(model.TaskCodeGeneration)
	require.True(t, ok)
	assert.Equal(t, model.TierPreferred, tier)
}

func TestLoadFile_EnabledFlagDefaultsTrue(t *testing.T) {
	reg, err := LoadFile(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	llama, ok := reg.Get("local/llama")
	require.True(t, ok)
	assert.False(t, llama.Enabled, "explicit enabled: false must be honored")

	mini, ok := reg.Get("openai/mini")
	require.True(t, ok)
	assert.True(t, mini.Enabled, "omitted enabled flag defaults to true")
}

func TestModels_DeterministicOrder(t *testing.T) {
	reg, err := LoadFile(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	first := reg.Models()
	second := reg.Models()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	// Lexicographic by id.
	assert.Equal(t, "anthropic/sonnet", first[0].ID)
	assert.Equal(t, "local/llama", first[1].ID)
	assert.Equal(t, "openai/mini", first[2].ID)
}

func TestEnabled_ExcludesDisabled(t *testing.T) {
	reg, err := LoadFile(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	enabled := reg.Enabled()
	assert.Len(t, enabled, 2)
	for _, def := range enabled {
		assert.NotEqual(t, "local/llama", def.ID)
	}
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty catalog", "models: []"},
		{"missing id", "models:\n  - provider: openai\n    quality: 0.5"},
		{"missing provider", "models:\n  - id: m1\n    quality: 0.5"},
		{"quality out of range", "models:\n  - id: m1\n    provider: p\n    quality: 1.5"},
		{"duplicate id", "models:\n  - id: m1\n    provider: p\n    quality: 0.5\n  - id: m1\n    provider: p\n    quality: 0.5"},
		{"bad preference task", "models:\n  - id: m1\n    provider: p\n    quality: 0.5\n    preferences:\n      juggling: preferred"},
		{"bad preference tier", "models:\n  - id: m1\n    provider: p\n    quality: 0.5\n    preferences:\n      testing: platinum"},
		{"not yaml", "models: [" },
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New()
			assert.Error(t, reg.Parse([]byte(tt.yaml)))
		})
	}
}

func TestReload_KeepsOldCatalogOnError(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	reg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, reg.Len())

	require.NoError(t, os.WriteFile(path, []byte("models: ["), 0o644))
	assert.Error(t, reg.Reload())
	assert.Equal(t, 3, reg.Len(), "failed reload must keep the previous catalog")

	_, ok := reg.Get("anthropic/sonnet")
	assert.True(t, ok)
}

func TestReload_SwapsCatalog(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	reg, err := LoadFile(path)
	require.NoError(t, err)

	replacement := `
models:
  - id: openai/new
    provider: openai
    quality: 0.7
`
	require.NoError(t, os.WriteFile(path, []byte(replacement), 0o644))
	require.NoError(t, reg.Reload())

	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get("openai/new")
	assert.True(t, ok)
	_, ok = reg.Get("anthropic/sonnet")
	assert.False(t, ok)
}

func TestSetModels(t *testing.T) {
	reg := New()
	require.NoError(t, reg.SetModels([]model.ModelDefinition{
		{ID: "b", Provider: "p2", Enabled: true},
		{ID: "a", Provider: "p1", Enabled: true},
	}))

	models := reg.Models()
	require.Len(t, models, 2)
	assert.Equal(t, "a", models[0].ID)

	assert.Error(t, reg.SetModels([]model.ModelDefinition{{ID: ""}}))
	assert.Error(t, reg.SetModels([]model.ModelDefinition{{ID: "x"}, {ID: "x"}}))
}
