package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikivalidator/config"
)

func TestSchedulePlanOrdering(t *testing.T) {
	two := 2.0
	cfg := config.Config{Regions: []config.Region{
		{InternalName: "fresh"},
		{InternalName: "stale", PriorityMultiplier: &two},
		{InternalName: "invisible", Hidden: true},
	}}
	now := config.Now()
	timestamps := map[string]int64{
		"fresh": now - 1000,
		"stale": now - 10000,
	}

	lines := schedulePlan(cfg, timestamps)
	require.Len(t, lines, 2)
	// display order runs least urgent first
	assert.True(t, strings.HasPrefix(lines[0], "fresh "))
	assert.True(t, strings.HasPrefix(lines[1], "stale "))
	assert.Contains(t, lines[1], " 2 ")
}
