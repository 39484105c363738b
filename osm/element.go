// Package osm models the OpenStreetMap elements the validator operates on.
package osm

import "fmt"

// Element types as used by the OSM API.
const (
	TypeNode     = "node"
	TypeWay      = "way"
	TypeRelation = "relation"
)

// Element is one OSM feature as observed within a region.
type Element struct {
	Type string
	ID   int64
	Lat  float64
	Lon  float64
	Tags map[string]string
}

// Tag returns the value for key, or "" when the tag is absent.
func (e Element) Tag(key string) string {
	return e.Tags[key]
}

// URL returns the canonical openstreetmap.org link for the element.
func (e Element) URL() string {
	return fmt.Sprintf("https://openstreetmap.org/%s/%d", e.Type, e.ID)
}

// Describe returns a human-readable identifier: the name tag, when present,
// followed by the element link.
func (e Element) Describe() string {
	name := e.Tag("name")
	if name == "" {
		return e.URL()
	}
	return name + " " + e.URL()
}

// Key identifies an element independent of region.
func (e Element) Key() string {
	return fmt.Sprintf("%s/%d", e.Type, e.ID)
}
