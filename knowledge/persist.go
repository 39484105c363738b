package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// diskSnapshot is the JSON shape of a persisted memo.
type diskSnapshot struct {
	Parents   map[string]diskParents    `json:"parents"`
	Articles  map[string]diskArticle    `json:"articles"`
	Items     map[string]string         `json:"items"`
	Instances map[string]string         `json:"instances"`
	Coords    map[string]diskCoords     `json:"coords"`
	Countries map[string][]CountryClaim `json:"countries"`
	Sitelinks map[string]string         `json:"sitelinks"`
	Labels    map[string]string         `json:"labels"`
}

type diskParents struct {
	IDs   []string `json:"ids"`
	Found bool     `json:"found"`
}

type diskArticle struct {
	Text  string `json:"text"`
	Found bool   `json:"found"`
}

type diskCoords struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Found bool    `json:"found"`
}

// LoadFrom seeds the memo from a previous run's snapshot. A missing file is
// not an error; a corrupt one is, so a truncated write surfaces instead of
// silently starting cold.
func (c *Cache) LoadFrom(path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap diskSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode cache %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range snap.Parents {
		c.parents[k] = parentsResult{ids: v.IDs, found: v.Found}
	}
	for k, v := range snap.Articles {
		c.articles[k] = articleResult{text: v.Text, found: v.Found}
	}
	for k, v := range snap.Items {
		c.items[k] = v
	}
	for k, v := range snap.Instances {
		c.instances[k] = v
	}
	for k, v := range snap.Coords {
		c.coords[k] = coordsResult{lat: v.Lat, lon: v.Lon, found: v.Found}
	}
	for k, v := range snap.Countries {
		c.countries[k] = v
	}
	for k, v := range snap.Sitelinks {
		c.sitelinks[k] = v
	}
	for k, v := range snap.Labels {
		c.labels[k] = v
	}
	return nil
}

// SaveTo writes the memo next to path and renames it into place, so readers
// never observe a half-written snapshot.
func (c *Cache) SaveTo(path string) error {
	c.mu.RLock()
	snap := diskSnapshot{
		Parents:   make(map[string]diskParents, len(c.parents)),
		Articles:  make(map[string]diskArticle, len(c.articles)),
		Items:     c.items,
		Instances: c.instances,
		Coords:    make(map[string]diskCoords, len(c.coords)),
		Countries: c.countries,
		Sitelinks: c.sitelinks,
		Labels:    c.labels,
	}
	for k, v := range c.parents {
		snap.Parents[k] = diskParents{IDs: v.ids, Found: v.found}
	}
	for k, v := range c.articles {
		snap.Articles[k] = diskArticle{Text: v.text, Found: v.found}
	}
	for k, v := range c.coords {
		snap.Coords[k] = diskCoords{Lat: v.lat, Lon: v.lon, Found: v.found}
	}
	raw, err := json.Marshal(snap)
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
