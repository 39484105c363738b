package knowledge

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes Client lookups. Taxonomy edges and article data change
// rarely, so entries are retained until an explicit forced refresh; losing
// the memo only costs latency, never correctness. Concurrent callers asking
// for the same key share one underlying fetch.
type Cache struct {
	client Client
	forced bool

	group singleflight.Group

	mu        sync.RWMutex
	parents   map[string]parentsResult
	articles  map[string]articleResult
	items     map[string]string
	instances map[string]string
	coords    map[string]coordsResult
	countries map[string][]CountryClaim
	sitelinks map[string]string
	labels    map[string]string
}

type parentsResult struct {
	ids   []string
	found bool
}

type articleResult struct {
	text  string
	found bool
}

type coordsResult struct {
	lat, lon float64
	found    bool
}

// NewCache wraps client with a memo. When forcedRefresh is set every lookup
// bypasses the memo and overwrites it with the fresh result.
func NewCache(client Client, forcedRefresh bool) *Cache {
	return &Cache{
		client:    client,
		forced:    forcedRefresh,
		parents:   make(map[string]parentsResult),
		articles:  make(map[string]articleResult),
		items:     make(map[string]string),
		instances: make(map[string]string),
		coords:    make(map[string]coordsResult),
		countries: make(map[string][]CountryClaim),
		sitelinks: make(map[string]string),
		labels:    make(map[string]string),
	}
}

var _ Client = (*Cache)(nil)

// lookup runs fn under single-flight for key unless the memo already holds a
// value. store must write the fetched value into the memo map; it runs with
// the write lock held.
func lookup[T any](ctx context.Context, c *Cache, key string, read func() (T, bool), store func(T), fn func(context.Context) (T, error)) (T, error) {
	if !c.forced {
		c.mu.RLock()
		v, ok := read()
		c.mu.RUnlock()
		if ok {
			return v, nil
		}
	}
	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		store(v)
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (c *Cache) Parents(ctx context.Context, entryID string) ([]string, bool, error) {
	res, err := lookup(ctx, c, "parents:"+entryID,
		func() (parentsResult, bool) { v, ok := c.parents[entryID]; return v, ok },
		func(v parentsResult) { c.parents[entryID] = v },
		func(ctx context.Context) (parentsResult, error) {
			ids, found, err := c.client.Parents(ctx, entryID)
			return parentsResult{ids: ids, found: found}, err
		})
	if err != nil {
		return nil, false, err
	}
	return res.ids, res.found, nil
}

func (c *Cache) Article(ctx context.Context, language, title string) (string, bool, error) {
	key := "article:" + language + ":" + title
	res, err := lookup(ctx, c, key,
		func() (articleResult, bool) { v, ok := c.articles[key]; return v, ok },
		func(v articleResult) { c.articles[key] = v },
		func(ctx context.Context) (articleResult, error) {
			text, found, err := c.client.Article(ctx, language, title)
			return articleResult{text: text, found: found}, err
		})
	if err != nil {
		return "", false, err
	}
	return res.text, res.found, nil
}

func (c *Cache) ItemForArticle(ctx context.Context, language, title string) (string, error) {
	key := "item:" + language + ":" + title
	return lookup(ctx, c, key,
		func() (string, bool) { v, ok := c.items[key]; return v, ok },
		func(v string) { c.items[key] = v },
		func(ctx context.Context) (string, error) {
			return c.client.ItemForArticle(ctx, language, title)
		})
}

func (c *Cache) InstanceOf(ctx context.Context, entryID string) (string, error) {
	return lookup(ctx, c, "instance:"+entryID,
		func() (string, bool) { v, ok := c.instances[entryID]; return v, ok },
		func(v string) { c.instances[entryID] = v },
		func(ctx context.Context) (string, error) {
			return c.client.InstanceOf(ctx, entryID)
		})
}

func (c *Cache) Coordinates(ctx context.Context, entryID string) (float64, float64, bool, error) {
	res, err := lookup(ctx, c, "coords:"+entryID,
		func() (coordsResult, bool) { v, ok := c.coords[entryID]; return v, ok },
		func(v coordsResult) { c.coords[entryID] = v },
		func(ctx context.Context) (coordsResult, error) {
			lat, lon, found, err := c.client.Coordinates(ctx, entryID)
			return coordsResult{lat: lat, lon: lon, found: found}, err
		})
	if err != nil {
		return 0, 0, false, err
	}
	return res.lat, res.lon, res.found, nil
}

func (c *Cache) Countries(ctx context.Context, entryID string) ([]CountryClaim, error) {
	return lookup(ctx, c, "countries:"+entryID,
		func() ([]CountryClaim, bool) { v, ok := c.countries[entryID]; return v, ok },
		func(v []CountryClaim) { c.countries[entryID] = v },
		func(ctx context.Context) ([]CountryClaim, error) {
			return c.client.Countries(ctx, entryID)
		})
}

func (c *Cache) Sitelink(ctx context.Context, entryID, language string) (string, error) {
	key := "sitelink:" + entryID + ":" + language
	return lookup(ctx, c, key,
		func() (string, bool) { v, ok := c.sitelinks[key]; return v, ok },
		func(v string) { c.sitelinks[key] = v },
		func(ctx context.Context) (string, error) {
			return c.client.Sitelink(ctx, entryID, language)
		})
}

func (c *Cache) Label(ctx context.Context, entryID, language string) (string, error) {
	key := "label:" + entryID + ":" + language
	return lookup(ctx, c, key,
		func() (string, bool) { v, ok := c.labels[key]; return v, ok },
		func(v string) { c.labels[key] = v },
		func(ctx context.Context) (string, error) {
			return c.client.Label(ctx, entryID, language)
		})
}
