package composer

import (
	"context"
	"strings"
	"unicode"

	"quel-tryon-server/modules/tryon/presets"
)

// Match is a matcher's best guess for a scene hint.
type Match struct {
	PresetID   string  `json:"presetId"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// PresetMatcher maps a free-text scene hint to a catalog preset id.
type PresetMatcher interface {
	Match(ctx context.Context, hint string, summaries []presets.Summary) (Match, error)
}

// KeywordMatcher scores presets by overlap between hint words and each
// preset's keywords, category and label.
type KeywordMatcher struct {
	catalog *presets.Catalog
}

func NewKeywordMatcher(catalog *presets.Catalog) *KeywordMatcher {
	return &KeywordMatcher{catalog: catalog}
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "in": true, "on": true, "at": true, "of": true,
	"with": true, "and": true, "or": true, "to": true, "for": true, "by": true,
	"some": true, "like": true, "please": true, "background": true, "scene": true,
	"setting": true, "photo": true, "shot": true,
}

func words(s string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

// Match returns the preset with the most hint words matched. Confidence is
// the share of hint words that matched. Ties keep catalog order.
func (k *KeywordMatcher) Match(_ context.Context, hint string, _ []presets.Summary) (Match, error) {
	hw := words(hint)
	if len(hw) == 0 {
		return Match{}, nil
	}

	best := Match{}
	bestHits := 0
	for _, p := range k.catalog.List() {
		vocab := map[string]bool{p.Category: true}
		for _, kw := range p.Keywords {
			for _, w := range words(kw) {
				vocab[w] = true
			}
		}
		for _, w := range words(p.Label) {
			vocab[w] = true
		}

		hits := 0
		for _, w := range hw {
			if vocab[w] {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = Match{PresetID: p.ID, Confidence: float64(hits) / float64(len(hw)), Reason: "keyword overlap"}
		}
	}
	return best, nil
}
