package audience

import (
	"encoding/json"
	"fmt"
)

// Field names accepted in include_nulls
const (
	FieldYearBuilt         = "yearBuilt"
	FieldSaleDate          = "lastSaleDate"
	FieldSalePrice         = "lastSalePrice"
	FieldBeds              = "beds"
	FieldBaths             = "baths"
	FieldBuildingSize      = "buildingSize"
	FieldPropertyType      = "propertyType"
	FieldSaleToPermitYears = "sale_to_permit_years"
	FieldFileDate          = "file_date"
)

var propertyNullFields = map[string]bool{
	FieldYearBuilt:         true,
	FieldSaleDate:          true,
	FieldSalePrice:         true,
	FieldBeds:              true,
	FieldBaths:             true,
	FieldBuildingSize:      true,
	FieldPropertyType:      true,
	FieldSaleToPermitYears: true,
}

// PropertyFilter constrains properties. A nil bound or an empty list places
// no restriction. Once a constraint on a field is set, records with a null
// value for that field are excluded unless IncludeNulls names the field.
type PropertyFilter struct {
	States        []string `json:"states,omitempty"`
	PropertyTypes []string `json:"property_types,omitempty"`

	MinYearBuilt *float64 `json:"min_year_built,omitempty"`
	MaxYearBuilt *float64 `json:"max_year_built,omitempty"`

	MinSaleYear *int `json:"min_sale_year,omitempty"`
	MaxSaleYear *int `json:"max_sale_year,omitempty"`

	MinSalePrice *float64 `json:"min_sale_price,omitempty"`
	MaxSalePrice *float64 `json:"max_sale_price,omitempty"`

	MinBeds  *float64 `json:"min_beds,omitempty"`
	MaxBeds  *float64 `json:"max_beds,omitempty"`
	MinBaths *float64 `json:"min_baths,omitempty"`
	MaxBaths *float64 `json:"max_baths,omitempty"`
	MinSqft  *float64 `json:"min_sqft,omitempty"`
	MaxSqft  *float64 `json:"max_sqft,omitempty"`

	MinSaleToPermitYears *float64 `json:"min_sale_to_permit_years,omitempty"`
	MaxSaleToPermitYears *float64 `json:"max_sale_to_permit_years,omitempty"`

	IncludeNulls map[string]bool `json:"include_nulls,omitempty"`
}

// PermitFilter constrains permits by the UTC year of their file date
type PermitFilter struct {
	MinPermitYear *int `json:"min_permit_year,omitempty"`
	MaxPermitYear *int `json:"max_permit_year,omitempty"`

	IncludeNulls map[string]bool `json:"include_nulls,omitempty"`
}

// Validate rejects inverted ranges and unknown include_nulls fields
func (f PropertyFilter) Validate() error {
	if err := checkBounds("year_built", f.MinYearBuilt, f.MaxYearBuilt); err != nil {
		return err
	}
	if err := checkBounds("sale_year", intPtrFloat(f.MinSaleYear), intPtrFloat(f.MaxSaleYear)); err != nil {
		return err
	}
	if err := checkBounds("sale_price", f.MinSalePrice, f.MaxSalePrice); err != nil {
		return err
	}
	if err := checkBounds("beds", f.MinBeds, f.MaxBeds); err != nil {
		return err
	}
	if err := checkBounds("baths", f.MinBaths, f.MaxBaths); err != nil {
		return err
	}
	if err := checkBounds("sqft", f.MinSqft, f.MaxSqft); err != nil {
		return err
	}
	if err := checkBounds("sale_to_permit_years", f.MinSaleToPermitYears, f.MaxSaleToPermitYears); err != nil {
		return err
	}
	for field := range f.IncludeNulls {
		if !propertyNullFields[field] {
			return fmt.Errorf("include_nulls: unknown property field %q", field)
		}
	}
	return nil
}

// Validate rejects an inverted year range and unknown include_nulls fields
func (f PermitFilter) Validate() error {
	if err := checkBounds("permit_year", intPtrFloat(f.MinPermitYear), intPtrFloat(f.MaxPermitYear)); err != nil {
		return err
	}
	for field := range f.IncludeNulls {
		if field != FieldFileDate {
			return fmt.Errorf("include_nulls: unknown permit field %q", field)
		}
	}
	return nil
}

// FilterConfig is the pair of filters that defines an audience, as read
// from a JSON document
type FilterConfig struct {
	Property PropertyFilter `json:"property_filters"`
	Permit   PermitFilter   `json:"permit_filters"`
}

// ParseFilterConfig decodes and validates a filter document
func ParseFilterConfig(data []byte) (FilterConfig, error) {
	var cfg FilterConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid filter configuration: %w", err)
	}
	if err := cfg.Property.Validate(); err != nil {
		return cfg, err
	}
	if err := cfg.Permit.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func checkBounds(name string, min, max *float64) error {
	if min != nil && max != nil && *min > *max {
		return fmt.Errorf("min_%s %v is greater than max_%s %v", name, *min, name, *max)
	}
	return nil
}

func intPtrFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

// Float returns a pointer to v, for building filters in code
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building filters in code
func Int(v int) *int { return &v }
