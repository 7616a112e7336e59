package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/propmatch/internal/config"
	"github.com/propmatch/internal/debug"
	"github.com/propmatch/internal/record"
)

// ErrRegionInputMissing marks a configured region whose property export
// does not exist. The driver skips such regions.
var ErrRegionInputMissing = errors.New("region input missing")

// RunStats tracks one region's match run
type RunStats struct {
	Region            string
	Input             int
	Malformed         int
	Apartments        int
	Unparseable       int
	Candidates        int
	Groups            int
	Unique            int
	Duplicates        int
	Permits           int
	Batches           int
	Matches           int
	MatchedProperties int
	ProcessingTime    time.Duration
}

// ReadRegionProperties reads a region's vendor property export, a JSON
// array of property objects, keeping each object's original bytes.
func ReadRegionProperties(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRegionInputMissing, path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(record.SanitizeJSON(data), &raws); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return raws, nil
}

// RunRegion matches one region's properties against that region's permits
func (e *Engine) RunRegion(ctx context.Context, region string, properties []json.RawMessage, permits []*PermitRow) ([]record.MatchPair, *RunStats, error) {
	start := time.Now()
	stats := &RunStats{Region: region, Permits: len(permits)}

	index, err := NewPermitIndex(permits)
	if err != nil {
		return nil, nil, fmt.Errorf("indexing %s permits: %w", region, err)
	}

	candidates, prep := PrepareCandidates(e.localDebug, properties)
	stats.Input = prep.Input
	stats.Malformed = prep.Malformed
	stats.Apartments = prep.Apartments
	stats.Unparseable = prep.Unparseable
	stats.Candidates = prep.Candidates

	unique, groups := ResolveDuplicates(candidates, index)
	stats.Groups = groups
	stats.Unique = len(unique)
	stats.Duplicates = len(candidates) - len(unique)

	e.logger.Info("resolved duplicate addresses",
		zap.String("region", region),
		zap.Int("properties", stats.Input),
		zap.Int("unique_addresses", stats.Unique),
		zap.Int("apartments", stats.Apartments),
		zap.Int("unparseable", stats.Unparseable))

	pairs, err := e.Match(ctx, region, unique, index)
	if err != nil {
		return nil, nil, err
	}

	stats.Batches = len(CreateBatches(unique, e.BatchSize))
	stats.Matches = len(pairs)
	stats.MatchedProperties = countMatchedProperties(unique, index)
	stats.ProcessingTime = time.Since(start)
	e.metrics.RecordRun(region, stats)

	return pairs, stats, nil
}

func countMatchedProperties(unique []Candidate, index *PermitIndex) int {
	n := 0
	for _, c := range unique {
		if index.Has(c.Key) {
			n++
		}
	}
	return n
}

// Driver runs the match stage over the configured regions
type Driver struct {
	settings *config.Settings
	engine   *Engine
	logger   *zap.Logger
	metrics  *Metrics
}

// NewDriver creates a region driver
func NewDriver(settings *config.Settings, engine *Engine, logger *zap.Logger, metrics *Metrics) *Driver {
	return &Driver{
		settings: settings,
		engine:   engine,
		logger:   debug.OrNop(logger),
		metrics:  metrics,
	}
}

// Run processes every configured region. Regions without an input file are
// skipped with a notice; a failing region is logged and does not stop the
// others. The returned error joins every region failure.
func (d *Driver) Run(ctx context.Context) ([]*RunStats, error) {
	debug.DebugHeader(d.settings.Debug)
	defer debug.DebugFooter(d.settings.Debug)

	var present []string
	for _, region := range d.settings.Regions {
		path := d.settings.RegionPropertyFile(region)
		if _, err := os.Stat(path); err != nil {
			d.logger.Info("skipping region: file not found", zap.String("region", region), zap.String("path", path))
			d.metrics.RecordRegion("skipped")
			continue
		}
		present = append(present, region)
	}
	if len(present) == 0 {
		d.logger.Warn("no region inputs found", zap.Strings("regions", d.settings.Regions))
		return nil, nil
	}

	permits, err := LoadPermitsCSV(d.settings.PermitsPath(), d.logger)
	if err != nil {
		return nil, err
	}

	var all []*RunStats
	var errs []error
	for _, region := range present {
		stats, err := d.runRegion(ctx, region, permits)
		if errors.Is(err, ErrRegionInputMissing) {
			// removed between the scan and the read
			d.logger.Info("skipping region: file not found", zap.String("region", region))
			d.metrics.RecordRegion("skipped")
			continue
		}
		if err != nil {
			d.logger.Error("region failed", zap.String("region", region), zap.Error(err))
			d.metrics.RecordRegion("failed")
			errs = append(errs, fmt.Errorf("region %s: %w", region, err))
			continue
		}
		d.metrics.RecordRegion("ok")
		all = append(all, stats)
	}

	return all, errors.Join(errs...)
}

func (d *Driver) runRegion(ctx context.Context, region string, permits []*PermitRow) (*RunStats, error) {
	d.logger.Info("processing region", zap.String("region", region))
	defer debug.DebugTiming(d.settings.Debug, "match region "+region)()

	properties, err := ReadRegionProperties(d.settings.RegionPropertyFile(region))
	if err != nil {
		return nil, err
	}

	pairs, stats, err := d.engine.RunRegion(ctx, region, properties, FilterRegion(permits, region))
	if err != nil {
		return nil, err
	}

	out := d.settings.RegionMatchFile(region)
	if err := record.WriteMatchFile(out, pairs); err != nil {
		return nil, err
	}

	d.logger.Info("region complete",
		zap.String("region", region),
		zap.Int("matches", stats.Matches),
		zap.Int("matched_properties", stats.MatchedProperties),
		zap.String("output", out),
		zap.Duration("took", stats.ProcessingTime))
	return stats, nil
}
