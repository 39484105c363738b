// Package syncer drives the per-region refresh cycle: snapshot pull,
// outdated-entity refresh, and the unresolved classification sweep.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wikivalidator/config"
	"wikivalidator/detect"
	"wikivalidator/internal/store"
	"wikivalidator/metrics"
	"wikivalidator/osm"
	"wikivalidator/schedule"
)

// ErrRegionNotFound marks a region whose external identifier resolves to
// nothing; fatal for that region this run, but not for the run.
var ErrRegionNotFound = errors.New("region not found")

// RegionFetcher pulls a fresh snapshot of a region's tagged features.
type RegionFetcher interface {
	Fetch(ctx context.Context, region config.Region) (timestamp int64, features []osm.Element, err error)
}

// ObjectFetcher pulls the current state of one feature. A nil element with a
// nil error signals the feature was deleted.
type ObjectFetcher interface {
	Fetch(ctx context.Context, elementType string, id int64) (*osm.Element, error)
}

// ProblemDetector is the per-region issue detection surface.
type ProblemDetector interface {
	Detect(ctx context.Context, el osm.Element) (*detect.Problem, error)
}

// DetectorFactory builds a detector configured for one region (its expected
// language differs per region).
type DetectorFactory func(region config.Region) ProblemDetector

// Syncer owns one run's collaborators. Entity-store writes are serialized
// through writeMu so the refresh pool can fetch in parallel safely.
type Syncer struct {
	cfg         config.Config
	store       *store.Store
	regions     RegionFetcher
	objects     ObjectFetcher
	detectorFor DetectorFactory
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() int64

	onRegionSynced func(context.Context, config.Region) error

	writeMu sync.Mutex
}

// OnRegionSynced registers a callback run after each successfully synced
// region, before the next region starts. Report rewrites hook in here, so an
// interrupted run has already published pages for every committed region.
func (s *Syncer) OnRegionSynced(fn func(context.Context, config.Region) error) {
	s.onRegionSynced = fn
}

// New constructs a Syncer.
func New(cfg config.Config, st *store.Store, regions RegionFetcher, objects ObjectFetcher, detectorFor DetectorFactory, m *metrics.Metrics, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Syncer{
		cfg:         cfg,
		store:       st,
		regions:     regions,
		objects:     objects,
		detectorFor: detectorFor,
		metrics:     m,
		log:         log,
		now:         config.Now,
	}
}

// Run processes every non-hidden region once, most-stale first. A failing
// region never aborts the run.
func (s *Syncer) Run(ctx context.Context) error {
	timestamps := make(map[string]int64, len(s.cfg.Regions))
	for _, region := range s.cfg.Regions {
		ts, err := s.store.LatestSnapshot(ctx, region.InternalName)
		if err != nil {
			return fmt.Errorf("snapshot timestamp for %s: %w", region.InternalName, err)
		}
		timestamps[region.InternalName] = ts
	}

	plan := schedule.Build(s.cfg.Regions, timestamps, s.now())
	for _, item := range plan.DisplayOrder() {
		s.log.Info("scheduled region",
			zap.String("region", item.Region.InternalName),
			zap.Float64("score", item.Score))
	}

	for _, item := range plan.ProcessingOrder() {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.SyncRegion(ctx, item.Region)
		if err == nil && s.onRegionSynced != nil {
			err = s.onRegionSynced(ctx, item.Region)
		}
		s.metrics.RecordRegion(err)
		if err != nil {
			s.log.Error("region sync failed",
				zap.String("region", item.Region.InternalName), zap.Error(err))
		}
	}
	return nil
}

// SyncRegion runs one region's full cycle. Writes for the region are flushed
// before return, so a crash loses at most the region in flight.
func (s *Syncer) SyncRegion(ctx context.Context, region config.Region) error {
	snapshotTS, features, err := s.regions.Fetch(ctx, region)
	if err != nil {
		return fmt.Errorf("fetch region %s: %w", region.InternalName, err)
	}
	if err := s.applySnapshot(ctx, region, snapshotTS, features); err != nil {
		return err
	}
	if err := s.store.RecordSnapshot(ctx, region.InternalName, snapshotTS); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	if err := s.refreshOutdated(ctx, region, snapshotTS); err != nil {
		return err
	}
	return s.resolveUnresolved(ctx, region)
}

// applySnapshot upserts every observed feature. The verdict survives a
// re-observation only when the tags are unchanged; a tag change means the
// stored verdict no longer describes the feature.
func (s *Syncer) applySnapshot(ctx context.Context, region config.Region, snapshotTS int64, features []osm.Element) error {
	for _, feature := range features {
		existing, err := s.store.GetEntity(ctx, feature.Type, feature.ID, region.InternalName)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", feature.Key(), err)
		}
		reset := existing != nil && !maps.Equal(existing.Element.Tags, feature.Tags)
		entity := store.Entity{
			Element:           feature,
			Region:            region.InternalName,
			DownloadTimestamp: snapshotTS,
		}
		if err := s.store.UpsertEntity(ctx, entity, reset); err != nil {
			return fmt.Errorf("upsert %s: %w", feature.Key(), err)
		}
	}
	return nil
}

// refreshOutdated re-fetches each flagged entity whose data predates the
// snapshot, in parallel up to the configured worker count. Entities whose
// flagged kind the region ignores are skipped outright, suppressing both the
// report and the re-validation cost.
func (s *Syncer) refreshOutdated(ctx context.Context, region config.Region, snapshotTS int64) error {
	outdated, err := s.store.OutdatedFlagged(ctx, region.InternalName, snapshotTS)
	if err != nil {
		return fmt.Errorf("outdated entities: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, entity := range outdated {
		entity := entity
		if entity.Verdict.Problem != nil && region.IgnoresProblem(entity.Verdict.Problem.ErrorKind) {
			continue
		}
		g.Go(func() error {
			s.refreshEntity(gctx, region, entity)
			return nil
		})
	}
	return g.Wait()
}

// refreshEntity re-fetches one entity. A fetch failure leaves the stored
// record untouched; it is retried on the next scheduled run.
func (s *Syncer) refreshEntity(ctx context.Context, region config.Region, entity store.Entity) {
	fetched, err := s.objects.Fetch(ctx, entity.Element.Type, entity.Element.ID)
	if err != nil {
		s.log.Warn("object fetch failed",
			zap.String("element", entity.Element.Key()), zap.Error(err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if fetched == nil {
		if err := s.store.DeleteEntity(ctx, entity.Element.Type, entity.Element.ID, region.InternalName); err != nil {
			s.log.Warn("delete failed", zap.String("element", entity.Element.Key()), zap.Error(err))
			return
		}
		s.metrics.RecordDeletion()
		s.log.Info("entity deleted upstream", zap.String("element", entity.Element.Key()))
		return
	}
	// only nodes carry their own coordinates on the object API
	if fetched.Type != osm.TypeNode {
		fetched.Lat = entity.Element.Lat
		fetched.Lon = entity.Element.Lon
	}
	replacement := store.Entity{
		Element:           *fetched,
		Region:            region.InternalName,
		DownloadTimestamp: s.now(),
	}
	if err := s.store.UpsertEntity(ctx, replacement, true); err != nil {
		s.log.Warn("refresh upsert failed", zap.String("element", entity.Element.Key()), zap.Error(err))
		return
	}
	s.metrics.RecordRefresh()
}

// resolveUnresolved classifies every entity lacking a verdict. One entity's
// failure never aborts its siblings.
func (s *Syncer) resolveUnresolved(ctx context.Context, region config.Region) error {
	unresolved, err := s.store.UnresolvedEntities(ctx, region.InternalName)
	if err != nil {
		return fmt.Errorf("unresolved entities: %w", err)
	}
	detector := s.detectorFor(region)
	for _, entity := range unresolved {
		if err := ctx.Err(); err != nil {
			return err
		}
		problem, err := detector.Detect(ctx, entity.Element)
		if err != nil {
			s.log.Warn("detection failed",
				zap.String("element", entity.Element.Key()), zap.Error(err))
			continue
		}
		verdict := store.Verdict{State: store.Clean}
		if problem != nil {
			verdict = store.Verdict{State: store.Flagged, Problem: problem}
		}
		if err := s.store.SetVerdict(ctx, entity.Element.Type, entity.Element.ID, region.InternalName, verdict); err != nil {
			s.log.Warn("verdict write failed",
				zap.String("element", entity.Element.Key()), zap.Error(err))
			continue
		}
		s.metrics.RecordResolution(problem != nil)
	}
	return nil
}
