package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/propmatch/internal/record"
)

func writeMatches(t *testing.T, dir, region, body string) string {
	t.Helper()
	path := filepath.Join(dir, region, region+"_matches.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const vaMatches = `[
  {"property": {"id": "p1", "addressLine1": "1 A St", "state": "XX", "bedrooms": "3", "bathrooms": 2.5,
                "squareFootage": 1800, "yearBuilt": 1990, "lastSaleDate": "2019-06-01T00:00:00-04:00",
                "lastSalePrice": NaN, "propertyType": "Single Family"},
   "permit": {"permit_id": "A", "state": "MD", "file_date": "2020-01-15", "description": "Roof"}},
  {"property": {"id": "p1", "addressLine1": "1 A St", "bedrooms": 4},
   "permit": {"permit_id": "B", "file_date": "not a date"}},
  {"property": {"id": "p2", "addressLine1": "2 B St"},
   "permit": {"permit_id": "C", "file_date": "2021-03-01"}},
  {"property": {"addressLine1": "no id"}, "permit": {"permit_id": "D"}},
  {"property": {"id": "p3"}}
]`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{"VA": writeMatches(t, dir, "VA", vaMatches)}

	ds, err := Load(files, zap.NewNop())
	require.NoError(t, err)

	require.Len(t, ds.Properties, 3)
	assert.Equal(t, []string{"p1", "p2", "p3"}, []string{ds.Properties[0].ID, ds.Properties[1].ID, ds.Properties[2].ID})

	p1, ok := ds.Property("p1")
	require.True(t, ok)
	assert.Equal(t, "VA", p1.State)
	assert.Equal(t, 4.0, p1.Beds.Value, "later occurrence replaces the row")
	assert.Equal(t, record.UnknownPropertyType, p1.PropertyType)

	p2, _ := ds.Property("p2")
	assert.Equal(t, record.UnknownPropertyType, p2.PropertyType)
	assert.False(t, p2.YearBuilt.Valid)

	permitA, ok := ds.Permit("A")
	require.True(t, ok)
	assert.Equal(t, "VA", permitA.State)
	assert.Equal(t, time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC), permitA.FileDate.Value)

	permitB, _ := ds.Permit("B")
	assert.False(t, permitB.FileDate.Valid)

	raw, ok := ds.PermitRaw("A")
	require.True(t, ok)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	assert.Equal(t, "VA", obj["state"])
	assert.Equal(t, "Roof", obj["description"])

	assert.Equal(t, 1, ds.Stats.MalformedProperties)
	assert.Equal(t, []string{"A", "B"}, ds.Index.Permits("p1"))
	owner, ok := ds.Index.Owner("C")
	assert.True(t, ok)
	assert.Equal(t, "p2", owner)
	_, ok = ds.Index.Owner("D")
	assert.False(t, ok, "permit of a malformed property is not linked")
}

func TestLoadLaterDuplicateReplacesWholeRecord(t *testing.T) {
	dir := t.TempDir()
	ds, err := Load(map[string]string{"VA": writeMatches(t, dir, "VA", vaMatches)}, nil)
	require.NoError(t, err)

	p1, _ := ds.Property("p1")
	// the second pair carried fewer fields and replaced the first wholesale
	assert.False(t, p1.BuildingSize.Valid)
}

func TestLoadSkipsBrokenRegion(t *testing.T) {
	dir := t.TempDir()
	core, logs := observer.New(zap.InfoLevel)

	files := map[string]string{
		"MD": writeMatches(t, dir, "MD", "{not json"),
		"VA": writeMatches(t, dir, "VA", vaMatches),
		"DC": filepath.Join(dir, "DC", "missing.json"),
	}
	ds, err := Load(files, zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, 1, ds.Stats.Regions)
	assert.Equal(t, 2, ds.Stats.RegionsFailed)
	assert.Equal(t, 2, logs.FilterMessage("error loading match file").Len())
	assert.Equal(t, []string{"VA"}, ds.States())
}

func TestLoadNoData(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(map[string]string{"VA": writeMatches(t, dir, "VA", "[]")}, nil)
	assert.ErrorIs(t, err, ErrDataUnavailable)

	_, err = Load(map[string]string{}, nil)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestLoadRegionsInSortedOrder(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"VA": writeMatches(t, dir, "VA", `[{"property": {"id": "shared", "city": "Vienna"}}]`),
		"MD": writeMatches(t, dir, "MD", `[{"property": {"id": "shared", "city": "Bethesda"}}]`),
	}
	ds, err := Load(files, nil)
	require.NoError(t, err)

	p, _ := ds.Property("shared")
	assert.Equal(t, "VA", p.State)
	assert.Equal(t, "Vienna", p.City)
}

func TestBuildIndex(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	idx := BuildIndex([]Link{
		{"p1", "A"},
		{"p1", "B"},
		{"p1", "A"},
		{"p2", "C"},
		{"p3", "C"},
		{"", "X"},
	}, zap.New(core))

	assert.Equal(t, []string{"A", "B"}, idx.Permits("p1"))
	assert.Equal(t, []string{"C"}, idx.Permits("p2"))
	owner, _ := idx.Owner("C")
	assert.Equal(t, "p3", owner, "later mapping wins")
	assert.Equal(t, 1, idx.Conflicts)
	assert.Equal(t, 1, logs.Len())
	_, ok := idx.Owner("X")
	assert.False(t, ok)
}

func TestQualityReport(t *testing.T) {
	ds, err := New([]*record.Property{
		{ID: "a", YearBuilt: record.NewFloat(1990), Beds: record.NewFloat(3)},
		{ID: "b", Beds: record.NewFloat(2)},
		{ID: "c"},
	}, nil, nil, nil)
	require.NoError(t, err)

	report := ds.QualityReport()
	require.Len(t, report, 4)
	assert.Equal(t, FieldQuality{Field: "yearBuilt", Nulls: 2, Percent: 66.7}, report[0])
	assert.Equal(t, FieldQuality{Field: "beds", Nulls: 1, Percent: 33.3}, report[1])
	assert.Equal(t, FieldQuality{Field: "buildingSize", Nulls: 3, Percent: 100}, report[3])
}

func TestRangesDefaults(t *testing.T) {
	ds, err := New([]*record.Property{{ID: "a"}}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultRanges, ds.Ranges())
}

func TestRangesFromData(t *testing.T) {
	var props []*record.Property
	for i := 0; i <= 100; i++ {
		props = append(props, &record.Property{
			ID:            string(rune('a'+i%26)) + string(rune('0'+i/26)),
			Beds:          record.NewFloat(float64(i % 6)),
			LastSalePrice: record.NewFloat(float64(i * 1000)),
			LastSaleDate:  record.NewTime(time.Date(2000+i%20, 3, 1, 0, 0, 0, 0, time.UTC)),
		})
	}
	permits := []*record.Permit{
		{PermitID: "x", FileDate: record.NewTime(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))},
		{PermitID: "y", FileDate: record.NewTime(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))},
		{PermitID: "z"},
	}
	ds, err := New(props, permits, nil, nil)
	require.NoError(t, err)

	r := ds.Ranges()
	assert.Equal(t, Range{2000, 2019}, r.SaleYear)
	assert.Equal(t, Range{2015, 2022}, r.PermitYear)
	assert.Equal(t, Range{0, 5}, r.Beds)
	// 1st/99th percentile of 0..100000 is 1000/99000, rounded to 10k steps
	assert.Equal(t, Range{0, 100000}, r.SalePrice)
	assert.Equal(t, DefaultRanges.Sqft, r.Sqft)
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, Quantile(sorted, 0))
	assert.Equal(t, 3.0, Quantile(sorted, 0.5))
	assert.InDelta(t, 1.04, Quantile(sorted, 0.01), 1e-9)
	assert.Equal(t, 5.0, Quantile(sorted, 1))
}

func TestOptions(t *testing.T) {
	ds, err := New([]*record.Property{
		{ID: "a", State: "VA", PropertyType: "Townhouse"},
		{ID: "b", State: "MD", PropertyType: ""},
		{ID: "c", State: "VA", PropertyType: "Condo"},
		{ID: "d", State: "VA", PropertyType: "Townhouse"},
	}, nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Condo", "Townhouse"}, ds.PropertyTypes())
	assert.Equal(t, []string{"MD", "VA"}, ds.States())

	b, _ := ds.Property("b")
	assert.Equal(t, record.UnknownPropertyType, b.PropertyType)
}
