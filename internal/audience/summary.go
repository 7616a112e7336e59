package audience

import (
	"sort"

	"github.com/propmatch/internal/record"
)

// Summary describes an audience's properties
type Summary struct {
	TotalProperties int            `json:"total_properties"`
	AvgSqft         *float64       `json:"average_square_footage"`
	AvgYearBuilt    *float64       `json:"average_year_built"`
	AvgBeds         *float64       `json:"average_beds"`
	AvgBaths        *float64       `json:"average_baths"`
	PropertyTypes   map[string]int `json:"property_types"`
	States          map[string]int `json:"states"`
}

// Summary aggregates the dataset properties whose ids are in ids. Averages
// skip nulls and are nil when every value is null. Unknown ids are ignored.
func (e *Engine) Summary(ids []string) Summary {
	s := Summary{
		PropertyTypes: make(map[string]int),
		States:        make(map[string]int),
	}
	var sqft, year, beds, baths mean

	for _, id := range uniqueIDs(ids) {
		p, ok := e.ds.Property(id)
		if !ok {
			continue
		}
		s.TotalProperties++
		sqft.add(p.BuildingSize)
		year.add(p.YearBuilt)
		beds.add(p.Beds)
		baths.add(p.Baths)
		s.PropertyTypes[p.PropertyType]++
		s.States[p.State]++
	}

	s.AvgSqft = sqft.value()
	s.AvgYearBuilt = year.value()
	s.AvgBeds = beds.value()
	s.AvgBaths = baths.value()
	return s
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v record.Float) {
	if v.Valid {
		m.sum += v.Value
		m.n++
	}
}

func (m *mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

// YearCount is the number of permits filed in one year
type YearCount struct {
	Year  int `json:"year"`
	Count int `json:"count"`
}

// PermitYearCounts counts the filtered permits owned by the given
// properties per filing year, ascending. Undated permits are not counted.
func PermitYearCounts(ids []string, permits []AnnotatedPermit) []YearCount {
	wanted := toSet(ids)
	counts := make(map[int]int)
	for _, permit := range permits {
		if !wanted[permit.PropertyID] || !permit.FileDate.Valid {
			continue
		}
		counts[permit.FileDate.Year()]++
	}

	out := make([]YearCount, 0, len(counts))
	for year, n := range counts {
		out = append(out, YearCount{Year: year, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// SaleToPermitGaps lists, for each given property with a sale date, the
// years between the sale and each of its permits that is in the filtered
// set and dated. Negative gaps mean the permit predates the sale.
func (e *Engine) SaleToPermitGaps(ids []string, permits []AnnotatedPermit) []float64 {
	filtered := make(map[string]AnnotatedPermit, len(permits))
	for _, permit := range permits {
		filtered[permit.PermitID] = permit
	}

	gaps := make([]float64, 0)
	for _, id := range uniqueIDs(ids) {
		p, ok := e.ds.Property(id)
		if !ok || !p.LastSaleDate.Valid {
			continue
		}
		for _, permitID := range e.ds.Index.Permits(id) {
			permit, ok := filtered[permitID]
			if !ok || !permit.FileDate.Valid {
				continue
			}
			gaps = append(gaps, SaleToPermitYears(p.LastSaleDate, permit.FileDate))
		}
	}
	return gaps
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
