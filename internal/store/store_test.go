package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikivalidator/detect"
	"wikivalidator/osm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntity(id int64, region string, ts int64) Entity {
	return Entity{
		Element: osm.Element{
			Type: osm.TypeNode,
			ID:   id,
			Lat:  50.1,
			Lon:  19.9,
			Tags: map[string]string{"wikipedia": "pl:Kraków"},
		},
		Region:            region,
		DownloadTimestamp: ts,
	}
}

func flaggedVerdict(kind string) Verdict {
	return Verdict{State: Flagged, Problem: &detect.Problem{
		ErrorKind: kind,
		Message:   "test problem",
	}}
}

func TestUpsertIsUniquePerKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, testEntity(5, "A", 100), false))
	require.NoError(t, s.UpsertEntity(ctx, testEntity(5, "A", 150), false))
	// same element observed in another region is a separate record
	require.NoError(t, s.UpsertEntity(ctx, testEntity(5, "B", 100), false))

	inA, err := s.EntitiesForRegion(ctx, "A")
	require.NoError(t, err)
	require.Len(t, inA, 1)
	assert.Equal(t, int64(150), inA[0].DownloadTimestamp)

	inB, err := s.EntitiesForRegion(ctx, "B")
	require.NoError(t, err)
	assert.Len(t, inB, 1)
}

func TestVerdictRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntity(1, "A", 100)
	require.NoError(t, s.UpsertEntity(ctx, e, false))

	got, err := s.GetEntity(ctx, osm.TypeNode, 1, "A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, Unresolved, got.Verdict.State)

	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 1, "A", flaggedVerdict(detect.KindHuman)))
	got, err = s.GetEntity(ctx, osm.TypeNode, 1, "A")
	require.NoError(t, err)
	require.Equal(t, Flagged, got.Verdict.State)
	require.NotNil(t, got.Verdict.Problem)
	assert.Equal(t, detect.KindHuman, got.Verdict.Problem.ErrorKind)

	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 1, "A", Verdict{State: Clean}))
	got, err = s.GetEntity(ctx, osm.TypeNode, 1, "A")
	require.NoError(t, err)
	assert.Equal(t, Clean, got.Verdict.State)
	assert.Nil(t, got.Verdict.Problem)
}

func TestUpsertResetVerdict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, testEntity(2, "A", 100), false))
	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 2, "A", flaggedVerdict(detect.KindLinksTo404)))

	replacement := testEntity(2, "A", 200)
	require.NoError(t, s.UpsertEntity(ctx, replacement, true))

	got, err := s.GetEntity(ctx, osm.TypeNode, 2, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.DownloadTimestamp)
	assert.Equal(t, Unresolved, got.Verdict.State)
}

func TestUpsertPreservesVerdictWithoutReset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, testEntity(3, "A", 100), false))
	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 3, "A", Verdict{State: Clean}))

	require.NoError(t, s.UpsertEntity(ctx, testEntity(3, "A", 200), false))
	got, err := s.GetEntity(ctx, osm.TypeNode, 3, "A")
	require.NoError(t, err)
	assert.Equal(t, Clean, got.Verdict.State)
	assert.Equal(t, int64(200), got.DownloadTimestamp)
}

func TestOutdatedFlaggedSelection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// old and flagged: selected
	require.NoError(t, s.UpsertEntity(ctx, testEntity(1, "A", 100), false))
	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 1, "A", flaggedVerdict(detect.KindHuman)))
	// old but clean: not selected
	require.NoError(t, s.UpsertEntity(ctx, testEntity(2, "A", 100), false))
	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 2, "A", Verdict{State: Clean}))
	// old but unresolved: not selected
	require.NoError(t, s.UpsertEntity(ctx, testEntity(3, "A", 100), false))
	// flagged but fresh: not selected
	require.NoError(t, s.UpsertEntity(ctx, testEntity(4, "A", 300), false))
	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 4, "A", flaggedVerdict(detect.KindHuman)))
	// old and flagged in another region: not selected
	require.NoError(t, s.UpsertEntity(ctx, testEntity(5, "B", 100), false))
	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 5, "B", flaggedVerdict(detect.KindHuman)))

	outdated, err := s.OutdatedFlagged(ctx, "A", 200)
	require.NoError(t, err)
	require.Len(t, outdated, 1)
	assert.Equal(t, int64(1), outdated[0].Element.ID)
}

func TestUnresolvedEntities(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, testEntity(1, "A", 100), false))
	require.NoError(t, s.UpsertEntity(ctx, testEntity(2, "A", 100), false))
	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 2, "A", Verdict{State: Clean}))

	unresolved, err := s.UnresolvedEntities(ctx, "A")
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, int64(1), unresolved[0].Element.ID)
}

func TestDeleteEntity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, testEntity(9, "A", 100), false))
	require.NoError(t, s.DeleteEntity(ctx, osm.TypeNode, 9, "A"))

	got, err := s.GetEntity(ctx, osm.TypeNode, 9, "A")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ts, err := s.LatestSnapshot(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	require.NoError(t, s.RecordSnapshot(ctx, "A", 100))
	require.NoError(t, s.RecordSnapshot(ctx, "A", 250))
	require.NoError(t, s.RecordSnapshot(ctx, "B", 400))

	ts, err = s.LatestSnapshot(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(250), ts)
}

func TestProblemURLsByKind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, testEntity(1, "A", 100), false))
	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 1, "A", flaggedVerdict(detect.KindLinksTo404)))
	require.NoError(t, s.UpsertEntity(ctx, testEntity(2, "A", 100), false))
	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 2, "A", flaggedVerdict(detect.KindLinksTo404)))
	require.NoError(t, s.UpsertEntity(ctx, testEntity(3, "A", 100), false))
	require.NoError(t, s.SetVerdict(ctx, osm.TypeNode, 3, "A", Verdict{State: Clean}))

	byKind, err := s.ProblemURLsByKind(ctx)
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, []string{
		"https://openstreetmap.org/node/1",
		"https://openstreetmap.org/node/2",
	}, byKind[detect.KindLinksTo404])
}
