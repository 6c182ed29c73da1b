package category

import (
	"strings"
	"unicode"
)

// Key is a canonical analysis category. Canonical keys are uppercase
// snake-case and are the only values the dispatch table accepts.
type Key string

const (
	Deforestation  Key = "DEFORESTATION"
	Flooding       Key = "FLOODING"
	Glacier        Key = "GLACIER"
	CoastalErosion Key = "COASTAL_EROSION"
	FireProtection Key = "FIRE_PROTECTION"
)

// All lists every canonical category in a stable order.
func All() []Key {
	return []Key{Deforestation, Flooding, Glacier, CoastalErosion, FireProtection}
}

// aliases maps normalized labels to canonical keys. Canonical keys map to
// themselves so Resolve is idempotent.
var aliases = map[string]Key{
	string(Deforestation):  Deforestation,
	"FOREST_LOSS":          Deforestation,
	string(Flooding):       Flooding,
	"FLOOD":                Flooding,
	string(Glacier):        Glacier,
	"GLACIER_MELTING":      Glacier,
	"GLACIER_RETREAT":      Glacier,
	string(CoastalErosion): CoastalErosion,
	"EROSION":              CoastalErosion,
	"SEA_LEVEL_RISE":       CoastalErosion,
	string(FireProtection): FireProtection,
	"FIRE":                 FireProtection,
	"FIRES":                FireProtection,
	"WILDFIRE":             FireProtection,
}

// Normalize converts a free-form category label to uppercase snake-case:
// a separator is inserted at lowercase-to-uppercase boundaries, whitespace
// and hyphens become separators, and the result is uppercased. Normalizing
// an already-normalized label returns it unchanged.
func Normalize(label string) string {
	runes := []rune(strings.TrimSpace(label))
	var b strings.Builder
	b.Grow(len(runes) + 4)

	prevSep := true
	for i, r := range runes {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			if !prevSep {
				b.WriteByte('_')
				prevSep = true
			}
			continue
		}
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) && !prevSep {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
		prevSep = false
	}

	return strings.TrimRight(b.String(), "_")
}

// Resolve normalizes label and maps it through the alias table. The second
// return is false for labels that normalize to an unmapped key; callers
// treat that as a dispatch miss, not an error.
func Resolve(label string) (Key, bool) {
	k, ok := aliases[Normalize(label)]
	return k, ok
}
