// Package constraints compiles face geometry and body proportions into the
// independent text blocks that pin identity during synthesis.
package constraints

import (
	"fmt"
	"strings"

	"quel-tryon-server/modules/tryon/geometry"
	"quel-tryon-server/modules/tryon/tryonerr"
)

// Mode is the prompt verbosity chosen from source-image complexity.
type Mode string

const (
	ModeSimplified Mode = "simplified"
	ModeBalanced   Mode = "balanced"
	ModeFull       Mode = "full"
)

// Block names, in assembly priority.
const (
	BlockIdentityLock   = "identity_lock"
	BlockBodyLock       = "body_lock"
	BlockMorphology     = "morphology_coherence"
	BlockGarmentLock    = "garment_lock"
	BlockSceneAuthority = "scene_authority"
	BlockNegative       = "negative_constraints"
	BlockFinalSafeguard = "final_safeguard"
)

var blockPriority = map[string]int{
	BlockIdentityLock:   10,
	BlockBodyLock:       20,
	BlockMorphology:     30,
	BlockGarmentLock:    40,
	BlockSceneAuthority: 50,
	BlockNegative:       60,
	BlockFinalSafeguard: 70,
}

// Section headers that appear verbatim in the assembled prompt.
const (
	HeaderIdentity  = "[IDENTITY LOCK]"
	HeaderBody      = "[BODY LOCK]"
	HeaderMorph     = "[MORPHOLOGY COHERENCE]"
	HeaderGarment   = "[GARMENT LOCK]"
	HeaderScene     = "[SCENE]"
	HeaderNegative  = "[NEGATIVE CONSTRAINTS]"
	HeaderSafeguard = "[FINAL SAFEGUARD]"
)

// Block is one named unit of constraint text.
type Block struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Text     string `json:"text"`
}

// Blocks are kept sorted by priority.
type Blocks []Block

// Get finds a block by name.
func (bs Blocks) Get(name string) (Block, bool) {
	for _, b := range bs {
		if b.Name == name {
			return b, true
		}
	}
	return Block{}, false
}

// Text returns the text of a block, or "" when absent.
func (bs Blocks) Text(name string) string {
	b, _ := bs.Get(name)
	return b.Text
}

// Map returns block-name → text.
func (bs Blocks) Map() map[string]string {
	out := make(map[string]string, len(bs))
	for _, b := range bs {
		out[b.Name] = b.Text
	}
	return out
}

// Input is everything a compilation depends on.
type Input struct {
	Proportions geometry.BodyProportions
	Landmarks   geometry.FaceLandmarks
	Mode        Mode
	// Tightening is the number of failed attempts so far; each level adds
	// reinforcement to the identity and garment blocks.
	Tightening int
	// Retry is the failure kind behind the last retry. Only the block it
	// names states that the previous result failed.
	Retry        tryonerr.Kind
	IdentitySafe bool
	// SceneOverride is set when a preset replaces the source environment.
	SceneOverride bool
}

// Compiler renders rule tables into constraint blocks. It holds no mutable
// state; every method is a pure function of its input.
type Compiler struct {
	rules *RuleSet
}

func NewCompiler(rules *RuleSet) *Compiler {
	return &Compiler{rules: rules}
}

// NewDefaultCompiler uses the embedded rule table.
func NewDefaultCompiler() (*Compiler, error) {
	rs, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	return NewCompiler(rs), nil
}

// Rules exposes the table for inspection.
func (c *Compiler) Rules() *RuleSet { return c.rules }

// Compile produces every block with the full negative expansion.
// ModeBalanced drops the per-indicator forbids from the morphology block.
func (c *Compiler) Compile(in Input) Blocks {
	findings := c.rules.Evaluate(in.Proportions, in.Landmarks)
	return Blocks{
		c.block(BlockIdentityLock, c.identityLock(in, true)),
		c.block(BlockBodyLock, c.bodyLock(in)),
		c.block(BlockMorphology, c.morphology(in, findings)),
		c.block(BlockGarmentLock, c.garmentLock(in, true)),
		c.block(BlockSceneAuthority, c.sceneAuthority(in)),
		c.block(BlockNegative, bulleted(HeaderNegative, c.rules.Negatives.Full)),
		c.block(BlockFinalSafeguard, c.finalSafeguard(in)),
	}
}

// Condensed produces the short block set used by simplified prompts: no
// body or morphology blocks and only the condensed negative list.
func (c *Compiler) Condensed(in Input) Blocks {
	return Blocks{
		c.block(BlockIdentityLock, c.identityLock(in, false)),
		c.block(BlockGarmentLock, c.garmentLock(in, false)),
		c.block(BlockSceneAuthority, c.sceneAuthority(in)),
		c.block(BlockNegative, bulleted(HeaderNegative, c.rules.Negatives.Condensed)),
		c.block(BlockFinalSafeguard, c.finalSafeguard(in)),
	}
}

// Findings exposes the indicator evaluation behind the morphology block.
func (c *Compiler) Findings(in Input) []Finding {
	return c.rules.Evaluate(in.Proportions, in.Landmarks)
}

func (c *Compiler) block(name, text string) Block {
	return Block{Name: name, Priority: blockPriority[name], Text: text}
}

func (c *Compiler) identityLock(in Input, detailed bool) string {
	var b strings.Builder
	b.WriteString(HeaderIdentity + "\n")
	b.WriteString("The face in Image 1 is copied pixel-for-pixel into the output. It is never regenerated, redrawn or reinterpreted.\n")
	if detailed {
		b.WriteString("Forbidden inside the face region:\n")
		for _, op := range c.rules.FaceFreeze.ForbiddenOperations {
			b.WriteString("- " + op + "\n")
		}
		lm := in.Landmarks
		fmt.Fprintf(&b, "Head tilt stays at %.1f degrees; interocular distance stays at %.3f of image width.\n",
			lm.RotationDegrees(), lm.Interocular())
	} else {
		b.WriteString("No reshaping, beautification, de-aging or expression change.\n")
	}
	if in.IdentitySafe {
		b.WriteString(strings.TrimSpace(c.rules.EyeLock) + "\n")
	}
	if in.Tightening > 0 && in.Retry == tryonerr.IdentityRejected {
		b.WriteString(c.rules.Reinforcement.IdentityCause + "\n")
	}
	for _, line := range reinforcement(c.rules.Reinforcement.Identity, in.Tightening) {
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Compiler) bodyLock(in Input) string {
	p := in.Proportions
	r := p.Relative()
	var b strings.Builder
	b.WriteString(HeaderBody + "\n")
	fmt.Fprintf(&b, "Body reference (in face heights): shoulders %.2f, torso %.2f, hips %.2f, arms %.2f.\n",
		r.Shoulder, r.Torso, r.Hip, r.Arm)
	fmt.Fprintf(&b, "Build: %s (estimated BMI category %s). Keep it exactly; do not idealize the body relative to the face.\n",
		p.BodyType, p.EstimatedBMICategory)
	attrs := c.rules.BodyTypes[p.BodyType]
	for _, a := range attrs.Implies {
		b.WriteString("- keep " + a + "\n")
	}
	if in.Mode == ModeFull {
		for _, f := range attrs.Forbids {
			b.WriteString("- never " + f + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Compiler) morphology(in Input, findings []Finding) string {
	var b strings.Builder
	b.WriteString(HeaderMorph + "\n")
	b.WriteString("Body fullness must match what the face shows.\n")
	matched := 0
	for i, f := range findings {
		if !f.Matched {
			continue
		}
		matched++
		ind := c.rules.FaceIndicators[i]
		fmt.Fprintf(&b, "%s (%s %.2f):\n", ind.ID, ind.Metric, f.Value)
		for _, a := range ind.Implies {
			b.WriteString("- implies " + a + "\n")
		}
		if in.Mode == ModeFull {
			for _, a := range ind.Forbids {
				b.WriteString("- forbids " + a + "\n")
			}
		}
	}
	if matched == 0 {
		b.WriteString("No fullness indicator fired; keep the body build exactly as photographed.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Compiler) garmentLock(in Input, detailed bool) string {
	var b strings.Builder
	b.WriteString(HeaderGarment + "\n")
	b.WriteString("Image 2 is a garment reference only. Any body or pose visible in it is ignored entirely.\n")
	if detailed {
		b.WriteString("Take from Image 2:\n")
		for _, e := range c.rules.Garment.Extract {
			b.WriteString("- " + e + "\n")
		}
		b.WriteString("Discard from Image 2:\n")
		for _, e := range c.rules.Garment.Ignore {
			b.WriteString("- " + e + "\n")
		}
	} else {
		b.WriteString("Take only fabric, color, pattern and construction from it.\n")
	}
	if in.Tightening > 0 && in.Retry == tryonerr.GarmentNotApplied {
		b.WriteString(c.rules.Reinforcement.GarmentCause + "\n")
	}
	for _, line := range reinforcement(c.rules.Reinforcement.Garment, in.Tightening) {
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Compiler) sceneAuthority(in Input) string {
	if in.SceneOverride {
		return "Environment and lighting come only from the scene described below. Lighting on the face is adjusted in tone only, never in geometry."
	}
	return "Environment and lighting are inherited from Image 1. Do not switch between indoor and outdoor or change the time of day."
}

func (c *Compiler) finalSafeguard(in Input) string {
	var b strings.Builder
	b.WriteString(HeaderSafeguard + "\n")
	b.WriteString("If any instruction above conflicts with keeping the person identical to Image 1, keeping the person identical wins.")
	if in.Tightening > 0 {
		fmt.Fprintf(&b, "\nThis is correction attempt %d; apply every lock at maximum strictness.", in.Tightening+1)
	}
	return b.String()
}

func reinforcement(lines []string, level int) []string {
	if level <= 0 {
		return nil
	}
	if level > len(lines) {
		level = len(lines)
	}
	return lines[:level]
}

func bulleted(header string, items []string) string {
	var b strings.Builder
	b.WriteString(header + "\n")
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- " + it)
	}
	return b.String()
}
