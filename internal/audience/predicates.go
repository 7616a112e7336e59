package audience

import (
	"go.uber.org/zap"

	"github.com/propmatch/internal/debug"
	"github.com/propmatch/internal/record"
)

type propertyStage struct {
	name string
	keep func(*record.Property) bool
}

// FilterProperties returns the properties passing every set constraint,
// in dataset order
func (e *Engine) FilterProperties(f PropertyFilter) ([]*record.Property, error) {
	current := e.ds.Properties
	debug.DebugOutput(e.localDebug, "[Property Filtering] Starting with %d total properties", len(current))

	for _, stage := range e.propertyStages(f) {
		var next []*record.Property
		err := e.guard(stage.name, func() error {
			next = make([]*record.Property, 0, len(current))
			for _, p := range current {
				if stage.keep(p) {
					next = append(next, p)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		current = next
		debug.DebugOutput(e.localDebug, "[Property Filtering] After %s: %d properties", stage.name, len(current))
	}

	e.logger.Debug("properties filtered", zap.Int("count", len(current)))
	return current, nil
}

func (e *Engine) propertyStages(f PropertyFilter) []propertyStage {
	nulls := f.IncludeNulls
	var stages []propertyStage

	if f.MinYearBuilt != nil || f.MaxYearBuilt != nil {
		stages = append(stages, propertyStage{"year_built", func(p *record.Property) bool {
			return inFloatRange(p.YearBuilt, f.MinYearBuilt, f.MaxYearBuilt, nulls[FieldYearBuilt])
		}})
	}
	if f.MinSaleYear != nil || f.MaxSaleYear != nil {
		stages = append(stages, propertyStage{"sale_year", func(p *record.Property) bool {
			if !p.LastSaleDate.Valid {
				return nulls[FieldSaleDate]
			}
			return inIntRange(p.LastSaleDate.Year(), f.MinSaleYear, f.MaxSaleYear)
		}})
	}
	if f.MinSalePrice != nil || f.MaxSalePrice != nil {
		stages = append(stages, propertyStage{"sale_price", func(p *record.Property) bool {
			return inFloatRange(p.LastSalePrice, f.MinSalePrice, f.MaxSalePrice, nulls[FieldSalePrice])
		}})
	}
	if f.MinBeds != nil || f.MaxBeds != nil {
		stages = append(stages, propertyStage{"beds", func(p *record.Property) bool {
			return inFloatRange(p.Beds, f.MinBeds, f.MaxBeds, nulls[FieldBeds])
		}})
	}
	if f.MinBaths != nil || f.MaxBaths != nil {
		stages = append(stages, propertyStage{"baths", func(p *record.Property) bool {
			return inFloatRange(p.Baths, f.MinBaths, f.MaxBaths, nulls[FieldBaths])
		}})
	}
	if f.MinSqft != nil || f.MaxSqft != nil {
		stages = append(stages, propertyStage{"sqft", func(p *record.Property) bool {
			return inFloatRange(p.BuildingSize, f.MinSqft, f.MaxSqft, nulls[FieldBuildingSize])
		}})
	}
	if len(f.PropertyTypes) > 0 {
		allowed := toSet(f.PropertyTypes)
		stages = append(stages, propertyStage{"property_types", func(p *record.Property) bool {
			// the placeholder is never selectable, only admitted as a null
			if record.IsUnknownType(p.PropertyType) {
				return nulls[FieldPropertyType]
			}
			return allowed[p.PropertyType]
		}})
	}
	if len(f.States) > 0 {
		allowed := toSet(f.States)
		stages = append(stages, propertyStage{"states", func(p *record.Property) bool {
			return allowed[p.State]
		}})
	}
	if f.MinSaleToPermitYears != nil || f.MaxSaleToPermitYears != nil {
		stages = append(stages, propertyStage{"sale_to_permit", func(p *record.Property) bool {
			return e.saleToPermitWithin(p, f.MinSaleToPermitYears, f.MaxSaleToPermitYears, nulls[FieldSaleToPermitYears])
		}})
	}

	return stages
}

// saleToPermitWithin reports whether any permit of p was filed within the
// bounds, measured in years from the sale. Properties without a sale date
// or without a dated permit only pass when nulls are included.
func (e *Engine) saleToPermitWithin(p *record.Property, min, max *float64, includeNulls bool) bool {
	if !p.LastSaleDate.Valid {
		return includeNulls
	}

	dated := false
	for _, permitID := range e.ds.Index.Permits(p.ID) {
		permit, ok := e.ds.Permit(permitID)
		if !ok || !permit.FileDate.Valid {
			continue
		}
		dated = true
		if inBounds(SaleToPermitYears(p.LastSaleDate, permit.FileDate), min, max) {
			return true
		}
	}
	if !dated {
		return includeNulls
	}
	return false
}

// SaleToPermitYears is the gap from sale to permit filing in fractional
// years, counted in whole days. Negative when the permit predates the sale.
func SaleToPermitYears(sale, filed record.Time) float64 {
	return float64(record.DaysBetween(sale.Value, filed.Value)) / DaysPerYear
}

// FilterPermits returns the permits passing the year constraints, in
// dataset order
func (e *Engine) FilterPermits(f PermitFilter) ([]*record.Permit, error) {
	current := e.ds.Permits
	debug.DebugOutput(e.localDebug, "[Permit Filtering] Starting with %d total permits", len(current))

	if f.MinPermitYear == nil && f.MaxPermitYear == nil {
		return current, nil
	}

	includeNulls := f.IncludeNulls[FieldFileDate]
	var filtered []*record.Permit
	err := e.guard("permit_year", func() error {
		filtered = make([]*record.Permit, 0, len(current))
		for _, permit := range current {
			if !permit.FileDate.Valid {
				if includeNulls {
					filtered = append(filtered, permit)
				}
				continue
			}
			if inIntRange(permit.FileDate.Year(), f.MinPermitYear, f.MaxPermitYear) {
				filtered = append(filtered, permit)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	debug.DebugOutput(e.localDebug, "[Permit Filtering] Final permit count: %d", len(filtered))
	return filtered, nil
}

func inFloatRange(v record.Float, min, max *float64, includeNulls bool) bool {
	if !v.Valid {
		return includeNulls
	}
	return inBounds(v.Value, min, max)
}

func inBounds(v float64, min, max *float64) bool {
	if min != nil && v < *min {
		return false
	}
	if max != nil && v > *max {
		return false
	}
	return true
}

func inIntRange(v int, min, max *int) bool {
	if min != nil && v < *min {
		return false
	}
	if max != nil && v > *max {
		return false
	}
	return true
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
