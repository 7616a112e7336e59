package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/propmatch/internal/debug"
	"github.com/propmatch/internal/record"
)

// ErrDataUnavailable means no property could be loaded from any region.
// Nothing downstream can run without data.
var ErrDataUnavailable = errors.New("no data loaded from any of the match files")

// LoadStats counts what happened while loading the match files
type LoadStats struct {
	Regions             int
	RegionsFailed       int
	Pairs               int
	MalformedProperties int
	MalformedPermits    int
	Links               int
}

// Dataset is the in-memory property and permit tables built from every
// region's match file, plus the index relating them. It is read-only
// after Load.
type Dataset struct {
	Properties []*record.Property
	Permits    []*record.Permit
	Links      []Link
	Index      *Index
	Stats      LoadStats

	propertyByID map[string]*record.Property
	permitByID   map[string]*record.Permit
	permitRaw    map[string]json.RawMessage
	logger       *zap.Logger
}

// Load reads the match file of each region, in sorted region order. Every
// property and permit is stamped with the region it was loaded from. A
// region whose file cannot be read or parsed is logged and skipped.
func Load(regionFiles map[string]string, logger *zap.Logger) (*Dataset, error) {
	logger = debug.OrNop(logger)

	regions := make([]string, 0, len(regionFiles))
	for region := range regionFiles {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	ds := &Dataset{
		propertyByID: make(map[string]*record.Property),
		permitByID:   make(map[string]*record.Permit),
		permitRaw:    make(map[string]json.RawMessage),
		logger:       logger,
	}

	for _, region := range regions {
		path := regionFiles[region]
		pairs, err := record.ReadMatchFile(path)
		if err != nil {
			logger.Error("error loading match file",
				zap.String("region", region),
				zap.String("path", path),
				zap.Error(err))
			ds.Stats.RegionsFailed++
			continue
		}
		ds.Stats.Regions++
		ds.Stats.Pairs += len(pairs)

		for _, pair := range pairs {
			ds.addPair(region, pair)
		}
	}

	if len(ds.Properties) == 0 {
		return nil, fmt.Errorf("%w (regions: %v)", ErrDataUnavailable, regions)
	}

	ds.Index = BuildIndex(ds.Links, logger)
	ds.Stats.Links = len(ds.Links)

	logger.Info("dataset loaded",
		zap.Int("properties", len(ds.Properties)),
		zap.Int("permits", len(ds.Permits)),
		zap.Int("properties_with_permits", len(ds.Index.PropertyPermits)),
		zap.Int("permit_mappings", len(ds.Index.PermitProperty)),
		zap.Int("index_conflicts", ds.Index.Conflicts),
		zap.Int("malformed_properties", ds.Stats.MalformedProperties),
		zap.Int("malformed_permits", ds.Stats.MalformedPermits))

	for _, q := range ds.QualityReport() {
		logger.Info("data quality",
			zap.String("field", q.Field),
			zap.Int("nulls", q.Nulls),
			zap.Float64("null_percent", q.Percent))
	}

	return ds, nil
}

// New builds a dataset from records that are already decoded and stamped.
// Later duplicates of an id replace earlier ones.
func New(properties []*record.Property, permits []*record.Permit, links []Link, logger *zap.Logger) (*Dataset, error) {
	ds := &Dataset{
		propertyByID: make(map[string]*record.Property),
		permitByID:   make(map[string]*record.Permit),
		permitRaw:    make(map[string]json.RawMessage),
		logger:       debug.OrNop(logger),
	}
	for _, p := range properties {
		cp := *p
		if record.IsUnknownType(cp.PropertyType) {
			cp.PropertyType = record.UnknownPropertyType
		}
		ds.putProperty(&cp)
	}
	for _, p := range permits {
		cp := *p
		raw, err := json.Marshal(&cp)
		if err != nil {
			return nil, fmt.Errorf("failed to encode permit %s: %w", cp.PermitID, err)
		}
		ds.putPermit(&cp, raw)
	}
	if len(ds.Properties) == 0 {
		return nil, ErrDataUnavailable
	}

	ds.Links = append([]Link(nil), links...)
	ds.Index = BuildIndex(ds.Links, ds.logger)
	ds.Stats.Links = len(ds.Links)
	return ds, nil
}

func (ds *Dataset) addPair(region string, pair record.MatchPair) {
	var propertyID, permitID string

	if pair.HasProperty() {
		var prop record.Property
		if err := json.Unmarshal(pair.Property, &prop); err != nil || prop.ID == "" {
			ds.Stats.MalformedProperties++
		} else {
			prop.State = region
			if record.IsUnknownType(prop.PropertyType) {
				prop.PropertyType = record.UnknownPropertyType
			}
			ds.putProperty(&prop)
			propertyID = prop.ID
		}
	}

	if pair.HasPermit() {
		var permit record.Permit
		if err := json.Unmarshal(pair.Permit, &permit); err != nil || permit.PermitID == "" {
			ds.Stats.MalformedPermits++
		} else {
			permit.State = region
			ds.putPermit(&permit, stampState(pair.Permit, region))
			permitID = permit.PermitID
		}
	}

	if propertyID != "" && permitID != "" {
		ds.Links = append(ds.Links, Link{PropertyID: propertyID, PermitID: permitID})
	}
}

// putProperty keeps the first position of an id and the latest content
func (ds *Dataset) putProperty(p *record.Property) {
	if existing, ok := ds.propertyByID[p.ID]; ok {
		*existing = *p
		return
	}
	ds.propertyByID[p.ID] = p
	ds.Properties = append(ds.Properties, p)
}

func (ds *Dataset) putPermit(p *record.Permit, raw json.RawMessage) {
	ds.permitRaw[p.PermitID] = raw
	if existing, ok := ds.permitByID[p.PermitID]; ok {
		*existing = *p
		return
	}
	ds.permitByID[p.PermitID] = p
	ds.Permits = append(ds.Permits, p)
}

// stampState rewrites the raw permit object with its region tag, keeping
// every other source column
func stampState(raw json.RawMessage, region string) json.RawMessage {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	obj["state"] = region
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}

// Property looks up a property by id
func (ds *Dataset) Property(id string) (*record.Property, bool) {
	p, ok := ds.propertyByID[id]
	return p, ok
}

// Permit looks up a permit by id
func (ds *Dataset) Permit(id string) (*record.Permit, bool) {
	p, ok := ds.permitByID[id]
	return p, ok
}

// PermitRaw returns the full source object of a permit, every column kept
func (ds *Dataset) PermitRaw(id string) (json.RawMessage, bool) {
	raw, ok := ds.permitRaw[id]
	return raw, ok
}

// RebuildIndex derives a fresh index from the loaded links
func (ds *Dataset) RebuildIndex() *Index {
	return BuildIndex(ds.Links, ds.logger)
}
