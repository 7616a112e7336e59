package dataset

import (
	"math"
	"sort"

	"github.com/propmatch/internal/record"
)

// FieldQuality is the null count of one numeric property field
type FieldQuality struct {
	Field   string  `json:"field"`
	Nulls   int     `json:"null_count"`
	Percent float64 `json:"null_percent"`
}

// QualityReport reports nulls for yearBuilt, beds, baths and buildingSize
func (ds *Dataset) QualityReport() []FieldQuality {
	fields := []struct {
		name string
		get  func(*record.Property) record.Float
	}{
		{"yearBuilt", func(p *record.Property) record.Float { return p.YearBuilt }},
		{"beds", func(p *record.Property) record.Float { return p.Beds }},
		{"baths", func(p *record.Property) record.Float { return p.Baths }},
		{"buildingSize", func(p *record.Property) record.Float { return p.BuildingSize }},
	}

	report := make([]FieldQuality, 0, len(fields))
	for _, f := range fields {
		nulls := 0
		for _, p := range ds.Properties {
			if !f.get(p).Valid {
				nulls++
			}
		}
		q := FieldQuality{Field: f.name, Nulls: nulls}
		if n := len(ds.Properties); n > 0 {
			q.Percent = math.Round(float64(nulls)/float64(n)*1000) / 10
		}
		report = append(report, q)
	}
	return report
}

// Range is an inclusive min/max pair
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Ranges holds the selectable bounds for every range constraint
type Ranges struct {
	YearBuilt  Range `json:"year_built"`
	Beds       Range `json:"beds"`
	Baths      Range `json:"baths"`
	Sqft       Range `json:"sqft"`
	SaleYear   Range `json:"sale_year"`
	SalePrice  Range `json:"sale_price"`
	PermitYear Range `json:"permit_year"`
}

// DefaultRanges apply to a column with no usable values
var DefaultRanges = Ranges{
	YearBuilt:  Range{1900, 2023},
	Beds:       Range{0, 10},
	Baths:      Range{0, 10},
	Sqft:       Range{0, 10000},
	SaleYear:   Range{2000, 2023},
	SalePrice:  Range{0, 2000000},
	PermitYear: Range{2000, 2023},
}

// Outlier trim quantiles and the sale price rounding step
const (
	LowerQuantile = 0.01
	UpperQuantile = 0.99
	SalePriceStep = 10000.0
)

// Ranges computes bounds from the data. Numeric columns are trimmed to the
// 1st and 99th percentiles; year columns use the full min and max.
func (ds *Dataset) Ranges() Ranges {
	var yearBuilt, beds, baths, sqft, price, saleYears, permitYears []float64
	for _, p := range ds.Properties {
		yearBuilt = appendValid(yearBuilt, p.YearBuilt)
		beds = appendValid(beds, p.Beds)
		baths = appendValid(baths, p.Baths)
		sqft = appendValid(sqft, p.BuildingSize)
		price = appendValid(price, p.LastSalePrice)
		if p.LastSaleDate.Valid {
			saleYears = append(saleYears, float64(p.LastSaleDate.Year()))
		}
	}
	for _, p := range ds.Permits {
		if p.FileDate.Valid {
			permitYears = append(permitYears, float64(p.FileDate.Year()))
		}
	}

	r := Ranges{
		YearBuilt:  trimmed(yearBuilt, DefaultRanges.YearBuilt),
		Beds:       trimmed(beds, DefaultRanges.Beds),
		Baths:      trimmed(baths, DefaultRanges.Baths),
		Sqft:       trimmed(sqft, DefaultRanges.Sqft),
		SaleYear:   extent(saleYears, DefaultRanges.SaleYear),
		SalePrice:  trimmed(price, DefaultRanges.SalePrice),
		PermitYear: extent(permitYears, DefaultRanges.PermitYear),
	}

	r.YearBuilt = Range{math.Trunc(r.YearBuilt.Min), math.Trunc(r.YearBuilt.Max)}
	r.Beds = Range{math.Trunc(r.Beds.Min), math.Trunc(r.Beds.Max)}
	if len(price) > 0 {
		r.SalePrice = Range{roundStep(r.SalePrice.Min, SalePriceStep), roundStep(r.SalePrice.Max, SalePriceStep)}
	}
	return r
}

func appendValid(values []float64, f record.Float) []float64 {
	if f.Valid {
		return append(values, f.Value)
	}
	return values
}

func trimmed(values []float64, def Range) Range {
	if len(values) == 0 {
		return def
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Range{Quantile(sorted, LowerQuantile), Quantile(sorted, UpperQuantile)}
}

func extent(values []float64, def Range) Range {
	if len(values) == 0 {
		return def
	}
	r := Range{values[0], values[0]}
	for _, v := range values[1:] {
		r.Min = math.Min(r.Min, v)
		r.Max = math.Max(r.Max, v)
	}
	return r
}

// Quantile interpolates linearly between the closest ranks of sorted
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func roundStep(v, step float64) float64 {
	return math.RoundToEven(v/step) * step
}

// PropertyTypes lists the selectable property types, sorted, without the
// Unknown placeholder
func (ds *Dataset) PropertyTypes() []string {
	seen := make(map[string]bool)
	var types []string
	for _, p := range ds.Properties {
		if record.IsUnknownType(p.PropertyType) || seen[p.PropertyType] {
			continue
		}
		seen[p.PropertyType] = true
		types = append(types, p.PropertyType)
	}
	sort.Strings(types)
	return types
}

// States lists the loaded region tags, sorted
func (ds *Dataset) States() []string {
	seen := make(map[string]bool)
	var states []string
	for _, p := range ds.Properties {
		if p.State == "" || seen[p.State] {
			continue
		}
		seen[p.State] = true
		states = append(states, p.State)
	}
	sort.Strings(states)
	return states
}
