package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanIsFree(t *testing.T) {
	assert.True(t, (&Plan{Price: 0}).IsFree())
	assert.True(t, (&Plan{Price: -1}).IsFree())
	assert.False(t, (&Plan{Price: 2990}).IsFree())
}

func TestPlanHasTrial(t *testing.T) {
	zero := 0
	seven := 7

	assert.False(t, (&Plan{}).HasTrial())
	assert.False(t, (&Plan{TrialDays: &zero}).HasTrial())
	assert.True(t, (&Plan{TrialDays: &seven}).HasTrial())
}

func TestPlanFeaturesRoundtrip(t *testing.T) {
	p := &Plan{}
	assert.Nil(t, p.Features())

	p.SetFeatures([]string{"batch_export", "Priority_Support"})
	assert.Equal(t, []string{"batch_export", "Priority_Support"}, p.Features())

	assert.True(t, p.HasFeature("batch_export"))
	assert.True(t, p.HasFeature("priority_support"), "feature match is case insensitive")
	assert.True(t, p.HasFeature("  batch_export  "))
	assert.False(t, p.HasFeature("white_label"))
	assert.False(t, p.HasFeature(""))

	p.SetFeatures(nil)
	assert.Nil(t, p.Features())
}

func TestPlanFeaturesIgnoresBrokenJSON(t *testing.T) {
	p := &Plan{FeaturesJSON: "{not json"}
	assert.Nil(t, p.Features())
	assert.False(t, p.HasFeature("anything"))
}
