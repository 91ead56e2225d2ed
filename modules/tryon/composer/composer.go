// Package composer assembles the final synthesis instruction from constraint
// blocks, the selected scene preset and user style notes.
package composer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/tryon/constraints"
	"quel-tryon-server/modules/tryon/geometry"
	"quel-tryon-server/modules/tryon/presets"
	"quel-tryon-server/modules/tryon/tryonerr"
)

// SelectionMethod records how the preset was chosen.
type SelectionMethod string

const (
	SelectionDirect   SelectionMethod = "direct"
	SelectionMatched  SelectionMethod = "matched"
	SelectionFallback SelectionMethod = "fallback"
	// SelectionNone means no preset was requested: the scene is inherited
	// from the source image.
	SelectionNone SelectionMethod = "none"
)

// DefaultMinConfidence is the lowest matcher confidence accepted.
const DefaultMinConfidence = 0.5

const (
	headerStyle   = "[STYLE NOTES]"
	maxStyleNotes = 400
)

// BlockCompiler produces constraint blocks.
type BlockCompiler interface {
	Compile(in constraints.Input) constraints.Blocks
	Condensed(in constraints.Input) constraints.Blocks
}

// Selection is the preset resolved once per request.
type Selection struct {
	Preset     *presets.ScenePreset `json:"preset,omitempty"`
	Method     SelectionMethod      `json:"method"`
	Confidence float64              `json:"confidence,omitempty"`
	Warnings   []string             `json:"warnings,omitempty"`
}

// PresetID returns the id of the selected preset, or "".
func (s Selection) PresetID() string {
	if s.Preset == nil {
		return ""
	}
	return s.Preset.ID
}

// Request is one compose call. Everything except Tightening and Retry is
// fixed for the whole request.
type Request struct {
	Proportions  geometry.BodyProportions
	Landmarks    geometry.FaceLandmarks
	Mode         constraints.Mode
	Tightening   int
	Retry        tryonerr.Kind
	IdentitySafe bool
	StyleNotes   string
}

// Composition is the assembled prompt with its metadata.
type Composition struct {
	Prompt          string           `json:"prompt"`
	PresetUsed      string           `json:"presetUsed"`
	SelectionMethod SelectionMethod  `json:"selectionMethod"`
	Mode            constraints.Mode `json:"mode"`
	Sections        []string         `json:"sections"`
}

type Composer struct {
	compiler      BlockCompiler
	catalog       *presets.Catalog
	matcher       PresetMatcher
	minConfidence float64
	log           *zap.Logger
}

type Option func(*Composer)

// WithMatcher sets the scene-hint matcher.
func WithMatcher(m PresetMatcher) Option {
	return func(c *Composer) { c.matcher = m }
}

// WithMinConfidence sets the matcher confidence floor.
func WithMinConfidence(v float64) Option {
	return func(c *Composer) { c.minConfidence = v }
}

func New(compiler BlockCompiler, catalog *presets.Catalog, log *zap.Logger, opts ...Option) *Composer {
	c := &Composer{
		compiler:      compiler,
		catalog:       catalog,
		minConfidence: DefaultMinConfidence,
		log:           logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.matcher == nil {
		c.matcher = NewKeywordMatcher(catalog)
	}
	return c
}

// Resolve picks the preset for a request. A direct id wins over a hint.
// Unknown ids, failed matches and low-confidence matches all fall back to
// the catalog fallback preset; nothing here is a hard error.
func (c *Composer) Resolve(ctx context.Context, presetID, sceneHint string, events *telemetry.Scoped) Selection {
	presetID = strings.TrimSpace(presetID)
	sceneHint = strings.TrimSpace(sceneHint)

	var sel Selection
	switch {
	case presetID != "":
		sel = c.resolveDirect(presetID)
	case sceneHint != "":
		sel = c.resolveHint(ctx, sceneHint)
	default:
		sel = Selection{Method: SelectionNone}
	}

	for _, w := range sel.Warnings {
		c.log.Warn("⚠️  [Composer] "+w, zap.String("preset_id", presetID), zap.String("scene_hint", sceneHint))
	}
	if events != nil {
		events.Event("preset_resolved", map[string]interface{}{
			"presetUsed":      sel.PresetID(),
			"selectionMethod": string(sel.Method),
			"confidence":      sel.Confidence,
			"warnings":        sel.Warnings,
		})
	}
	return sel
}

func (c *Composer) resolveDirect(id string) Selection {
	p, err := c.catalog.Get(id)
	if err != nil {
		fb := c.catalog.Fallback()
		return Selection{
			Preset:   &fb,
			Method:   SelectionFallback,
			Warnings: []string{fmt.Sprintf("preset %q not found (%v), using fallback %q", id, err, fb.ID)},
		}
	}
	return Selection{Preset: &p, Method: SelectionDirect, Confidence: 1}
}

func (c *Composer) resolveHint(ctx context.Context, hint string) Selection {
	fb := c.catalog.Fallback()
	m, err := c.matcher.Match(ctx, hint, c.catalog.Summaries())
	if err != nil {
		return Selection{Preset: &fb, Method: SelectionFallback,
			Warnings: []string{fmt.Sprintf("scene hint matching failed (%v), using fallback %q", err, fb.ID)}}
	}
	if m.Confidence < c.minConfidence || m.PresetID == "" {
		return Selection{Preset: &fb, Method: SelectionFallback, Confidence: m.Confidence,
			Warnings: []string{fmt.Sprintf("no confident match for scene hint (best %q at %.2f), using fallback %q", m.PresetID, m.Confidence, fb.ID)}}
	}
	p, err := c.catalog.Get(m.PresetID)
	if err != nil {
		return Selection{Preset: &fb, Method: SelectionFallback, Confidence: m.Confidence,
			Warnings: []string{fmt.Sprintf("matcher returned unknown preset %q, using fallback %q", m.PresetID, fb.ID)}}
	}
	return Selection{Preset: &p, Method: SelectionMatched, Confidence: m.Confidence}
}

// Compose renders the prompt. Section order is fixed: identity lock,
// garment lock, scene, style notes, negative constraints, final safeguard.
// Simplified mode uses only the condensed block set.
func (c *Composer) Compose(req Request, sel Selection) Composition {
	in := constraints.Input{
		Proportions:   req.Proportions,
		Landmarks:     req.Landmarks,
		Mode:          req.Mode,
		Tightening:    req.Tightening,
		Retry:         req.Retry,
		IdentitySafe:  req.IdentitySafe,
		SceneOverride: sel.Preset != nil,
	}

	var blocks constraints.Blocks
	if req.Mode == constraints.ModeSimplified {
		blocks = c.compiler.Condensed(in)
	} else {
		blocks = c.compiler.Compile(in)
	}

	var sections []string
	var parts []string
	add := func(name, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		sections = append(sections, name)
		parts = append(parts, text)
	}

	add("framing", framing(req.Mode))
	add(constraints.BlockIdentityLock, blocks.Text(constraints.BlockIdentityLock))
	add(constraints.BlockBodyLock, blocks.Text(constraints.BlockBodyLock))
	add(constraints.BlockMorphology, blocks.Text(constraints.BlockMorphology))
	add(constraints.BlockGarmentLock, blocks.Text(constraints.BlockGarmentLock))
	add("scene", sceneSection(blocks.Text(constraints.BlockSceneAuthority), sel.Preset))
	add("style_notes", styleSection(req.StyleNotes))
	add(constraints.BlockNegative, blocks.Text(constraints.BlockNegative))
	add(constraints.BlockFinalSafeguard, blocks.Text(constraints.BlockFinalSafeguard))

	return Composition{
		Prompt:          strings.Join(parts, "\n\n"),
		PresetUsed:      sel.PresetID(),
		SelectionMethod: sel.Method,
		Mode:            req.Mode,
		Sections:        sections,
	}
}

func framing(mode constraints.Mode) string {
	switch mode {
	case constraints.ModeSimplified:
		return "Virtual try-on. Image 1: the person. Image 2: the garment. Dress the person in the garment and change nothing else."
	case constraints.ModeBalanced:
		return "Virtual try-on edit. Image 1 is the person and is authoritative for identity, body and pose. Image 2 is the garment reference. Follow the sections below in order."
	default:
		return "Virtual try-on edit with strict identity preservation. Image 1 is the person and is authoritative for identity, body, pose and framing. Image 2 is the garment reference. Every section below is mandatory and earlier sections take precedence over later ones."
	}
}

func sceneSection(authority string, p *presets.ScenePreset) string {
	var b strings.Builder
	b.WriteString(constraints.HeaderScene + "\n")
	b.WriteString(authority)
	if p != nil {
		fmt.Fprintf(&b, "\nEnvironment: %s.\nLighting: %s.\nCamera: %s.", p.Scene, p.Lighting, p.Camera)
	}
	return b.String()
}

func styleSection(notes string) string {
	notes = strings.Join(strings.Fields(notes), " ")
	if notes == "" {
		return ""
	}
	if utf8.RuneCountInString(notes) > maxStyleNotes {
		notes = string([]rune(notes)[:maxStyleNotes])
	}
	return headerStyle + "\nStyling preferences for the garment only: " + notes
}
