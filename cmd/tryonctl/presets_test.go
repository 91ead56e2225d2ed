package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quel-tryon-server/modules/tryon/presets"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		presetsCategory, presetsJSON = "", false
	})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPresetsList(t *testing.T) {
	out, err := execute(t, "presets", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "urban_rooftop_dusk")
	assert.Contains(t, out, "(fallback)")
}

func TestPresetsListJSONByCategory(t *testing.T) {
	catalog, err := presets.Default()
	require.NoError(t, err)
	category := catalog.Categories()[0]

	out, err := execute(t, "presets", "list", "--json", "--category", category)
	require.NoError(t, err)

	var list []presets.ScenePreset
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.NotEmpty(t, list)
	for _, p := range list {
		assert.Equal(t, category, p.Category)
	}
}

func TestPresetsLintBuiltinCatalog(t *testing.T) {
	out, err := execute(t, "presets", "lint")
	require.NoError(t, err)
	assert.Contains(t, out, "presets clean")
}

func TestPresetsMatch(t *testing.T) {
	out, err := execute(t, "presets", "match", "sunset", "on", "the", "beach")
	require.NoError(t, err)
	assert.Contains(t, out, "preset:     nature_beach_golden")
}

func TestGenerateRequiresImages(t *testing.T) {
	_, err := execute(t, "generate")
	assert.ErrorContains(t, err, "required flag")
}
