package presets

import (
	"fmt"
	"strings"
	"unicode"
)

// personTokens may never appear in scene, lighting or camera text.
var personTokens = map[string]bool{
	"he": true, "she": true, "him": true, "her": true, "his": true, "hers": true,
	"they": true, "them": true, "their": true, "theirs": true,
	"i": true, "me": true, "my": true, "we": true, "us": true, "our": true,
	"you": true, "your": true, "yours": true,
	"person": true, "people": true, "man": true, "men": true, "woman": true, "women": true,
	"girl": true, "boy": true, "lady": true, "guy": true, "someone": true,
	"model": true, "subject": true, "figure": true, "portrait": true,
	"face": true, "body": true, "skin": true, "hair": true,
	"head": true, "eye": true, "eyes": true, "nose": true, "mouth": true, "lips": true,
	"cheek": true, "cheeks": true, "chin": true, "jaw": true, "neck": true,
	"shoulder": true, "shoulders": true, "chest": true, "torso": true, "waist": true,
	"hip": true, "hips": true, "arm": true, "arms": true, "hand": true, "hands": true,
	"leg": true, "legs": true, "knee": true, "knees": true, "foot": true, "feet": true,
	"pose": true, "posing": true, "wearing": true, "standing": true, "sitting": true,
	"smiling": true, "looking": true,
}

// Violation is one person-referring token found in a preset field.
type Violation struct {
	PresetID string
	Field    string
	Token    string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s.%s contains %q", v.PresetID, v.Field, v.Token)
}

// Lint reports every person-referring token in the environment fields.
func Lint(list []ScenePreset) []Violation {
	var out []Violation
	for _, p := range list {
		fields := []struct{ name, text string }{
			{"scene", p.Scene},
			{"lighting", p.Lighting},
			{"camera", p.Camera},
		}
		for _, f := range fields {
			for _, tok := range tokenize(f.text) {
				if personTokens[tok] {
					out = append(out, Violation{PresetID: p.ID, Field: f.name, Token: tok})
				}
			}
		}
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
