package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-ultron/sentinel/internal/category"
)

func TestLookupCoversAllCategories(t *testing.T) {
	t.Parallel()

	for _, k := range category.All() {
		e, ok := Lookup(k)
		require.True(t, ok, "no dispatch entry for %s", k)
		assert.NotEmpty(t, e.Script, "%s has no script", k)
	}
}

func TestLookupMiss(t *testing.T) {
	t.Parallel()

	_, ok := Lookup(category.Key("VOLCANIC_ACTIVITY"))
	assert.False(t, ok)
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	defor, _ := Lookup(category.Deforestation)
	require.NotNil(t, defor.Defaults.Threshold)
	assert.Equal(t, -0.1, *defor.Defaults.Threshold)

	flood, _ := Lookup(category.Flooding)
	require.NotNil(t, flood.Defaults.ThresholdPercent)
	assert.Equal(t, 5.0, *flood.Defaults.ThresholdPercent)
	assert.Nil(t, flood.Defaults.BufferMeters, "buffer has no default; workers decide")

	glacier, _ := Lookup(category.Glacier)
	require.NotNil(t, glacier.Defaults.ThresholdPercent)
	assert.Equal(t, 2.0, *glacier.Defaults.ThresholdPercent)

	coastal, _ := Lookup(category.CoastalErosion)
	require.NotNil(t, coastal.Defaults.Threshold)
	assert.Equal(t, 5.0, *coastal.Defaults.Threshold)

	fire, _ := Lookup(category.FireProtection)
	require.NotNil(t, fire.Defaults.DaysBack)
	assert.Equal(t, 1, *fire.Defaults.DaysBack)
	assert.Nil(t, fire.Defaults.AlertThreshold())
}

func TestMergeOverrides(t *testing.T) {
	t.Parallel()

	base, _ := Lookup(category.Flooding)

	pct := 8.5
	buf := 250
	merged := base.Defaults.Merge(Params{ThresholdPercent: &pct, BufferMeters: &buf})

	require.NotNil(t, merged.ThresholdPercent)
	assert.Equal(t, 8.5, *merged.ThresholdPercent)
	require.NotNil(t, merged.BufferMeters)
	assert.Equal(t, 250, *merged.BufferMeters)

	// Defaults untouched by the merge.
	assert.Equal(t, 5.0, *base.Defaults.ThresholdPercent)
}

func TestMergeEmptyOverrideKeepsDefaults(t *testing.T) {
	t.Parallel()

	base, _ := Lookup(category.Deforestation)
	merged := base.Defaults.Merge(Params{})
	require.NotNil(t, merged.Threshold)
	assert.Equal(t, -0.1, *merged.Threshold)
}
