package main

import (
	"fmt"

	"wikivalidator/config"
	"wikivalidator/schedule"
)

// schedulePlan renders the planned order, least urgent first, with scores
// rounded to thousands for readability.
func schedulePlan(cfg config.Config, timestamps map[string]int64) []string {
	plan := schedule.Build(cfg.Regions, timestamps, config.Now())
	lines := make([]string, 0, plan.Len())
	for _, item := range plan.DisplayOrder() {
		lines = append(lines, fmt.Sprintf("%s %g %dk",
			item.Region.InternalName,
			item.Region.Multiplier(),
			int64(item.Score+500)/1000))
	}
	return lines
}
