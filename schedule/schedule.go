// Package schedule orders regions for refresh by a staleness-weighted
// priority score.
package schedule

import (
	"sort"

	"wikivalidator/config"
)

// Item is one region with its computed priority score.
type Item struct {
	Region        config.Region
	DataTimestamp int64
	Score         float64
}

// Plan holds the scored, non-hidden regions for one run.
type Plan struct {
	items []Item
}

// Build scores every non-hidden region: score = (now - dataTimestamp) *
// multiplier. A region that was never pulled has dataTimestamp 0 and so sorts
// first. This is a greedy staleness-weighted ordering, not a fair one; a
// region with multiplier 0 can starve.
func Build(regions []config.Region, timestamps map[string]int64, now int64) Plan {
	items := make([]Item, 0, len(regions))
	for _, region := range regions {
		if region.Hidden {
			continue
		}
		ts := timestamps[region.InternalName]
		items = append(items, Item{
			Region:        region,
			DataTimestamp: ts,
			Score:         float64(now-ts) * region.Multiplier(),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	return Plan{items: items}
}

// ProcessingOrder returns regions most-stale first; the order the sync cycle
// uses.
func (p Plan) ProcessingOrder() []Item {
	return append([]Item(nil), p.items...)
}

// DisplayOrder returns regions least-stale first, for log and report
// listings.
func (p Plan) DisplayOrder() []Item {
	reversed := make([]Item, len(p.items))
	for i, item := range p.items {
		reversed[len(p.items)-1-i] = item
	}
	return reversed
}

// Len returns the number of scheduled regions.
func (p Plan) Len() int { return len(p.items) }
