package presets

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quel-tryon-server/modules/tryon/tryonerr"
)

func TestDefaultCatalogIsPersonFree(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Empty(t, Lint(c.List()))
}

func TestDefaultCatalogShape(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(c.List()), 10)
	assert.Equal(t, []string{"studio", "urban", "nature", "interior", "editorial"}, c.Categories())
	assert.Equal(t, "studio_softbox_neutral", c.Fallback().ID)

	total := 0
	for _, cat := range c.Categories() {
		for _, p := range c.ByCategory(cat) {
			assert.Equal(t, cat, p.Category)
			total++
		}
	}
	assert.Equal(t, len(c.List()), total)

	summaries := c.Summaries()
	require.Len(t, summaries, len(c.List()))
	assert.Equal(t, c.List()[0].ID, summaries[0].ID)
	assert.Contains(t, summaries[0].Description, c.List()[0].Label)
}

// Stored generations reference these ids; they must never disappear.
func TestPublishedIDsAreStable(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	for _, id := range []string{
		"studio_softbox_neutral", "studio_high_key_white", "studio_low_key_charcoal",
		"urban_street_daylight", "urban_rooftop_dusk", "urban_brick_alley",
		"nature_beach_golden", "nature_forest_trail", "nature_alpine_meadow",
		"interior_loft_window", "interior_cafe_warm", "editorial_gallery_concrete",
	} {
		_, err := c.Get(id)
		assert.NoError(t, err, id)
	}
}

func TestGetUnknownAndRetired(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	_, err = c.Get("nonexistent_id")
	assert.True(t, errors.Is(err, tryonerr.PresetNotFound))

	_, err = c.Get("studio_ringlight_beauty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retired")
}

func TestLintFlagsPersonLanguage(t *testing.T) {
	bad := []ScenePreset{{
		ID:       "bad",
		Scene:    "beach where she is standing by the water",
		Lighting: "sun on the model's face",
		Camera:   "85mm",
	}}

	violations := Lint(bad)
	tokens := map[string]bool{}
	for _, v := range violations {
		tokens[v.Token] = true
	}
	assert.True(t, tokens["she"])
	assert.True(t, tokens["standing"])
	assert.True(t, tokens["face"])
	assert.False(t, tokens["beach"])
	assert.Contains(t, violations[0].String(), "bad.scene")
}

func TestLintFlagsBodyPartFraming(t *testing.T) {
	bad := []ScenePreset{{
		ID:       "framed",
		Scene:    "grey backdrop",
		Lighting: "softbox",
		Camera:   "framed from the waist up at shoulder height",
	}}

	var tokens []string
	for _, v := range Lint(bad) {
		assert.Equal(t, "camera", v.Field)
		tokens = append(tokens, v.Token)
	}
	assert.ElementsMatch(t, []string{"waist", "shoulder"}, tokens)

	c, err := Default()
	require.NoError(t, err)
	assert.Empty(t, Lint(c.List()))
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	valid := `
  - id: a_one
    category: studio
    scene: grey backdrop
    lighting: softbox
    camera: 85mm`

	cases := map[string]string{
		"bad id":           "fallback: A\npresets:\n  - id: A\n    category: s\n    scene: x\n    lighting: y\n    camera: z\n",
		"duplicate":        "fallback: a_one\npresets:" + valid + valid + "\n",
		"missing fallback": "fallback: nope\npresets:" + valid + "\n",
		"retired reuse":    "fallback: a_one\nretired: [a_one]\npresets:" + valid + "\n",
		"person language":  "fallback: p\npresets:\n  - id: p\n    category: s\n    scene: room where he waits\n    lighting: y\n    camera: z\n",
		"missing field":    "fallback: p\npresets:\n  - id: p\n    category: s\n    scene: room\n    camera: z\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}

	c, err := Parse([]byte("version: 1\nfallback: a_one\npresets:" + valid + "\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Version())
}
