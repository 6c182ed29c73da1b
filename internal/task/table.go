// Package task holds the static dispatch table mapping a canonical category
// to its worker script and default parameters. Adding a category means
// adding one entry here plus the worker script itself.
package task

import (
	"github.com/project-ultron/sentinel/internal/category"
)

// Params are the category-specific worker parameters. Nil fields are
// omitted from the worker request entirely; workers apply their own
// defaults for anything absent.
type Params struct {
	Threshold        *float64 `json:"threshold,omitempty"`
	ThresholdPercent *float64 `json:"threshold_percent,omitempty"`
	BufferMeters     *int     `json:"buffer_meters,omitempty"`
	DaysBack         *int     `json:"days_back,omitempty"`
}

// Merge returns p with every non-nil field of override applied on top.
func (p Params) Merge(override Params) Params {
	if override.Threshold != nil {
		p.Threshold = override.Threshold
	}
	if override.ThresholdPercent != nil {
		p.ThresholdPercent = override.ThresholdPercent
	}
	if override.BufferMeters != nil {
		p.BufferMeters = override.BufferMeters
	}
	if override.DaysBack != nil {
		p.DaysBack = override.DaysBack
	}
	return p
}

// AlertThreshold returns the threshold the category alerts on, whichever
// flavor it uses. Nil for categories without a threshold (FIRE_PROTECTION).
func (p Params) AlertThreshold() *float64 {
	if p.Threshold != nil {
		return p.Threshold
	}
	return p.ThresholdPercent
}

// Entry describes one dispatchable analysis.
type Entry struct {
	Script   string // worker script path relative to the workers dir
	Defaults Params
}

var table = map[category.Key]Entry{
	category.Deforestation: {
		Script:   "deforestation/deforestation.py",
		Defaults: Params{Threshold: f64(-0.1)},
	},
	category.Flooding: {
		Script:   "flooding/flooding.py",
		Defaults: Params{ThresholdPercent: f64(5.0)},
	},
	category.Glacier: {
		Script:   "glacier/glacier_melting.py",
		Defaults: Params{ThresholdPercent: f64(2.0)},
	},
	category.CoastalErosion: {
		Script:   "coastal_erosion/coastal_erosion.py",
		Defaults: Params{Threshold: f64(5.0)},
	},
	category.FireProtection: {
		Script:   "fire/fire_protection.py",
		Defaults: Params{DaysBack: i(1)},
	},
}

// Lookup returns the dispatch entry for a canonical category. A miss is
// non-fatal for callers: the category is skipped with a warning.
func Lookup(k category.Key) (Entry, bool) {
	e, ok := table[k]
	return e, ok
}

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }
