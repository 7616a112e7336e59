package normalize

import (
	"strings"

	"github.com/propmatch/internal/record"
)

// ApartmentPropertyType is the vendor property type for multi-unit records
const ApartmentPropertyType = "Apartment"

// apartmentIndicators mark a unit within a larger building when found in
// the secondary address line. Substring match, so "fl" also hits "Flat".
var apartmentIndicators = []string{"apt", "suite", "ste", "unit", "#", "floor", "fl"}

// IsApartment reports whether a property is a unit in a multi-unit
// building. Apartments are skipped by the matcher but still load into the
// dataset for filtering.
func IsApartment(p *record.Property) bool {
	if p.PropertyType == ApartmentPropertyType {
		return true
	}

	line2 := strings.ToLower(p.AddressLine2)
	if line2 == "" {
		return false
	}
	for _, indicator := range apartmentIndicators {
		if strings.Contains(line2, indicator) {
			return true
		}
	}
	return false
}
