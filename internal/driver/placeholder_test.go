package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
)

func TestPlaceholderNeverSupportsPerformance(t *testing.T) {
	p := NewPlaceholder(KindCPU)

	assert.Equal(t, KindCPU, p.Kind())
	assert.Equal(t, "placeholder", p.ID())
	assert.NotContains(t, p.Supports(), profile.Performance)

	loaded, err := p.Probe()
	require.NoError(t, err)
	assert.True(t, loaded)
}

func TestPlaceholderApplyAlwaysSucceeds(t *testing.T) {
	p := NewPlaceholder(KindPlatform)

	require.NoError(t, p.Apply(profile.PowerSaver))
	assert.Equal(t, profile.PowerSaver, p.Current())
}

func TestFakeSupportsEveryProfile(t *testing.T) {
	d := NewFake()

	assert.ElementsMatch(t, profile.All(), d.Supports())

	loaded, err := d.Probe()
	require.NoError(t, err)
	assert.True(t, loaded)

	require.NoError(t, d.Apply(profile.Performance))
	assert.Equal(t, profile.Performance, d.Current())
}
