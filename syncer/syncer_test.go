package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikivalidator/config"
	"wikivalidator/detect"
	"wikivalidator/internal/store"
	"wikivalidator/metrics"
	"wikivalidator/osm"
)

type fakeRegionFetcher struct {
	timestamp int64
	features  map[string][]osm.Element // region internal name -> features
	err       error
	calls     []string
}

func (f *fakeRegionFetcher) Fetch(ctx context.Context, region config.Region) (int64, []osm.Element, error) {
	f.calls = append(f.calls, region.InternalName)
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.timestamp, f.features[region.InternalName], nil
}

type fakeObjectFetcher struct {
	objects map[string]*osm.Element // "type/id" -> current state; absent key = deleted
	calls   map[string]int
	err     error
}

func (f *fakeObjectFetcher) Fetch(ctx context.Context, elementType string, id int64) (*osm.Element, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	key := osm.Element{Type: elementType, ID: id}.Key()
	f.calls[key]++
	if f.err != nil {
		return nil, f.err
	}
	return f.objects[key], nil
}

// ruleDetector flags elements whose tags carry a "flag" key with that kind.
type ruleDetector struct{}

func (ruleDetector) Detect(ctx context.Context, el osm.Element) (*detect.Problem, error) {
	kind := el.Tag("flag")
	if kind == "" {
		return nil, nil
	}
	return &detect.Problem{
		ErrorKind:          kind,
		Message:            "test",
		ElementDescription: el.Describe(),
		ElementURL:         el.URL(),
	}, nil
}

func detectorFactory(config.Region) ProblemDetector { return ruleDetector{} }

func newTestSyncer(t *testing.T, cfg config.Config, regions *fakeRegionFetcher, objects *fakeObjectFetcher) (*Syncer, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	s := New(cfg, st, regions, objects, detectorFactory, metrics.New(), nil)
	return s, st
}

func node(id int64, tags map[string]string) osm.Element {
	return osm.Element{Type: osm.TypeNode, ID: id, Lat: 50, Lon: 19, Tags: tags}
}

func regionConfig(names ...string) config.Config {
	cfg := config.Config{Workers: 2}
	for _, name := range names {
		cfg.Regions = append(cfg.Regions, config.Region{InternalName: name, Identifier: "Q" + name})
	}
	return cfg
}

func TestFirstObservationCreatesUnresolvedThenResolves(t *testing.T) {
	cfg := regionConfig("A")
	regions := &fakeRegionFetcher{
		timestamp: 100,
		features: map[string][]osm.Element{
			"A": {node(1, map[string]string{"name": "ok"}), node(2, map[string]string{"flag": detect.KindHuman})},
		},
	}
	s, st := newTestSyncer(t, cfg, regions, &fakeObjectFetcher{})
	ctx := context.Background()

	require.NoError(t, s.SyncRegion(ctx, cfg.Regions[0]))

	clean, err := st.GetEntity(ctx, osm.TypeNode, 1, "A")
	require.NoError(t, err)
	assert.Equal(t, store.Clean, clean.Verdict.State)

	flagged, err := st.GetEntity(ctx, osm.TypeNode, 2, "A")
	require.NoError(t, err)
	require.Equal(t, store.Flagged, flagged.Verdict.State)
	assert.Equal(t, detect.KindHuman, flagged.Verdict.Problem.ErrorKind)
}

func TestUnresolvedSweepIsIdempotent(t *testing.T) {
	cfg := regionConfig("A")
	regions := &fakeRegionFetcher{
		timestamp: 100,
		features:  map[string][]osm.Element{"A": {node(1, map[string]string{"flag": detect.KindHuman})}},
	}
	s, st := newTestSyncer(t, cfg, regions, &fakeObjectFetcher{})
	ctx := context.Background()

	require.NoError(t, s.SyncRegion(ctx, cfg.Regions[0]))
	first, err := st.EntitiesForRegion(ctx, "A")
	require.NoError(t, err)

	require.NoError(t, s.resolveUnresolved(ctx, cfg.Regions[0]))
	second, err := st.EntitiesForRegion(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOutdatedFlaggedEntityIsRefetchedAndReset(t *testing.T) {
	// entity (node, 5, "A") stored at ts=100 and flagged; new snapshot at
	// T=200 brings updated tags for it
	cfg := regionConfig("A")
	regions := &fakeRegionFetcher{timestamp: 200}
	updated := node(5, map[string]string{"wikipedia": "en:Renamed"})
	objects := &fakeObjectFetcher{objects: map[string]*osm.Element{"node/5": &updated}}
	s, st := newTestSyncer(t, cfg, regions, objects)
	ctx := context.Background()

	stale := store.Entity{Element: node(5, map[string]string{"wikipedia": "en:Old"}), Region: "A", DownloadTimestamp: 100}
	require.NoError(t, st.UpsertEntity(ctx, stale, false))
	require.NoError(t, st.SetVerdict(ctx, osm.TypeNode, 5, "A",
		store.Verdict{State: store.Flagged, Problem: &detect.Problem{ErrorKind: detect.KindLinksTo404, Message: "x"}}))

	s.now = func() int64 { return 200 }
	require.NoError(t, s.SyncRegion(ctx, cfg.Regions[0]))

	got, err := st.GetEntity(ctx, osm.TypeNode, 5, "A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(200), got.DownloadTimestamp)
	assert.Equal(t, "en:Renamed", got.Element.Tag("wikipedia"))
	// verdict was reset and then swept; the new tags carry no problem
	assert.Equal(t, store.Clean, got.Verdict.State)
	assert.Equal(t, 1, objects.calls["node/5"])
}

func TestDeletedEntityIsRemoved(t *testing.T) {
	cfg := regionConfig("A")
	regions := &fakeRegionFetcher{timestamp: 200}
	objects := &fakeObjectFetcher{objects: map[string]*osm.Element{}}
	s, st := newTestSyncer(t, cfg, regions, objects)
	ctx := context.Background()

	stale := store.Entity{Element: node(7, map[string]string{"wikipedia": "en:Gone"}), Region: "A", DownloadTimestamp: 100}
	require.NoError(t, st.UpsertEntity(ctx, stale, false))
	require.NoError(t, st.SetVerdict(ctx, osm.TypeNode, 7, "A",
		store.Verdict{State: store.Flagged, Problem: &detect.Problem{ErrorKind: detect.KindLinksTo404, Message: "x"}}))

	require.NoError(t, s.SyncRegion(ctx, cfg.Regions[0]))

	got, err := st.GetEntity(ctx, osm.TypeNode, 7, "A")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIgnoredProblemKindSkipsRefetch(t *testing.T) {
	cfg := regionConfig("A")
	cfg.Regions[0].IgnoredProblems = []string{detect.KindRelinkNecessary}
	regions := &fakeRegionFetcher{timestamp: 200}
	objects := &fakeObjectFetcher{objects: map[string]*osm.Element{}}
	s, st := newTestSyncer(t, cfg, regions, objects)
	ctx := context.Background()

	stale := store.Entity{Element: node(8, map[string]string{"wikipedia": "de:Etwas"}), Region: "A", DownloadTimestamp: 100}
	require.NoError(t, st.UpsertEntity(ctx, stale, false))
	require.NoError(t, st.SetVerdict(ctx, osm.TypeNode, 8, "A",
		store.Verdict{State: store.Flagged, Problem: &detect.Problem{ErrorKind: detect.KindRelinkNecessary, Message: "x"}}))

	require.NoError(t, s.SyncRegion(ctx, cfg.Regions[0]))

	assert.Zero(t, objects.calls["node/8"])
	got, err := st.GetEntity(ctx, osm.TypeNode, 8, "A")
	require.NoError(t, err)
	require.NotNil(t, got)
	// intentionally left stale
	assert.Equal(t, int64(100), got.DownloadTimestamp)
	assert.Equal(t, store.Flagged, got.Verdict.State)
}

func TestSnapshotPreservesVerdictWhenTagsUnchanged(t *testing.T) {
	cfg := regionConfig("A")
	tags := map[string]string{"name": "stable"}
	regions := &fakeRegionFetcher{timestamp: 200, features: map[string][]osm.Element{"A": {node(3, tags)}}}
	s, st := newTestSyncer(t, cfg, regions, &fakeObjectFetcher{})
	ctx := context.Background()

	require.NoError(t, st.UpsertEntity(ctx, store.Entity{Element: node(3, tags), Region: "A", DownloadTimestamp: 100}, false))
	require.NoError(t, st.SetVerdict(ctx, osm.TypeNode, 3, "A", store.Verdict{State: store.Clean}))

	require.NoError(t, s.SyncRegion(ctx, cfg.Regions[0]))

	got, err := st.GetEntity(ctx, osm.TypeNode, 3, "A")
	require.NoError(t, err)
	assert.Equal(t, store.Clean, got.Verdict.State)
	assert.Equal(t, int64(200), got.DownloadTimestamp)
}

func TestRegionFailureDoesNotAbortRun(t *testing.T) {
	cfg := regionConfig("A", "B")
	regions := &fakeRegionFetcher{err: errors.New("overpass down")}
	s, _ := newTestSyncer(t, cfg, regions, &fakeObjectFetcher{})

	require.NoError(t, s.Run(context.Background()))
	assert.Len(t, regions.calls, 2)
	assert.Equal(t, int64(2), s.metrics.Snapshot().RegionsFailed)
}

func TestHiddenRegionIsNeverFetched(t *testing.T) {
	cfg := regionConfig("A", "B")
	cfg.Regions[1].Hidden = true
	regions := &fakeRegionFetcher{timestamp: 100, features: map[string][]osm.Element{}}
	s, _ := newTestSyncer(t, cfg, regions, &fakeObjectFetcher{})

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"A"}, regions.calls)
}

func TestRegionHookRunsAfterEachRegionCommit(t *testing.T) {
	cfg := regionConfig("A", "B")
	regions := &fakeRegionFetcher{
		timestamp: 100,
		features: map[string][]osm.Element{
			"A": {node(1, map[string]string{"name": "a"})},
			"B": {node(2, map[string]string{"name": "b"})},
		},
	}
	s, st := newTestSyncer(t, cfg, regions, &fakeObjectFetcher{})
	ctx := context.Background()

	var hooked []string
	s.OnRegionSynced(func(ctx context.Context, region config.Region) error {
		// the region's writes must already be visible when the hook runs
		entities, err := st.EntitiesForRegion(ctx, region.InternalName)
		require.NoError(t, err)
		require.NotEmpty(t, entities)
		hooked = append(hooked, region.InternalName)
		return nil
	})

	require.NoError(t, s.Run(ctx))
	assert.ElementsMatch(t, []string{"A", "B"}, hooked)
}

func TestRegionHookFailureCountsAsRegionFailure(t *testing.T) {
	cfg := regionConfig("A")
	regions := &fakeRegionFetcher{timestamp: 100, features: map[string][]osm.Element{}}
	s, _ := newTestSyncer(t, cfg, regions, &fakeObjectFetcher{})

	s.OnRegionSynced(func(context.Context, config.Region) error {
		return errors.New("report write failed")
	})

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int64(1), s.metrics.Snapshot().RegionsFailed)
}

func TestObjectFetchFailureLeavesEntityUntouched(t *testing.T) {
	cfg := regionConfig("A")
	regions := &fakeRegionFetcher{timestamp: 200}
	objects := &fakeObjectFetcher{err: errors.New("api timeout")}
	s, st := newTestSyncer(t, cfg, regions, objects)
	ctx := context.Background()

	stale := store.Entity{Element: node(9, map[string]string{"wikipedia": "en:X"}), Region: "A", DownloadTimestamp: 100}
	require.NoError(t, st.UpsertEntity(ctx, stale, false))
	require.NoError(t, st.SetVerdict(ctx, osm.TypeNode, 9, "A",
		store.Verdict{State: store.Flagged, Problem: &detect.Problem{ErrorKind: detect.KindLinksTo404, Message: "x"}}))

	require.NoError(t, s.SyncRegion(ctx, cfg.Regions[0]))

	got, err := st.GetEntity(ctx, osm.TypeNode, 9, "A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), got.DownloadTimestamp)
	assert.Equal(t, store.Flagged, got.Verdict.State)
}
