package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// UnknownPropertyType is the placeholder for records without a property type.
// It is never selectable in a property-type filter.
const UnknownPropertyType = "Unknown"

// Property is one real-estate record from a vendor export
type Property struct {
	ID            string `json:"id"`
	AddressLine1  string `json:"addressLine1"`
	AddressLine2  string `json:"addressLine2,omitempty"`
	City          string `json:"city"`
	ZipCode       string `json:"zipCode"`
	State         string `json:"state"`
	PropertyType  string `json:"propertyType"`
	YearBuilt     Float  `json:"yearBuilt"`
	Beds          Float  `json:"beds"`
	Baths         Float  `json:"baths"`
	BuildingSize  Float  `json:"buildingSize"`
	LastSaleDate  Time   `json:"lastSaleDate"`
	LastSalePrice Float  `json:"lastSalePrice"`
}

// UnmarshalJSON decodes a vendor property object. Field types are coerced
// leniently and the vendor names bedrooms, bathrooms and squareFootage are
// accepted in place of beds, baths and buildingSize.
func (p *Property) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("property is not an object: %w", err)
	}

	*p = Property{
		ID:            stringField(fields, "id"),
		AddressLine1:  stringField(fields, "addressLine1"),
		AddressLine2:  stringField(fields, "addressLine2"),
		City:          stringField(fields, "city"),
		ZipCode:       stringField(fields, "zipCode"),
		State:         stringField(fields, "state"),
		PropertyType:  stringField(fields, "propertyType"),
		YearBuilt:     floatField(fields, "yearBuilt"),
		Beds:          floatField(fields, "bedrooms", "beds"),
		Baths:         floatField(fields, "bathrooms", "baths"),
		BuildingSize:  floatField(fields, "squareFootage", "buildingSize"),
		LastSaleDate:  timeField(fields, "lastSaleDate"),
		LastSalePrice: floatField(fields, "lastSalePrice"),
	}
	return nil
}

// Permit is one building-permit record
type Permit struct {
	PermitID string `json:"permit_id"`
	State    string `json:"state"`
	FileDate Time   `json:"file_date"`
	StreetNo string `json:"street_no,omitempty"`
	Street   string `json:"street,omitempty"`
	City     string `json:"city,omitempty"`
	ZipCode  string `json:"zip_code,omitempty"`
}

// UnmarshalJSON decodes a permit object leniently
func (p *Permit) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("permit is not an object: %w", err)
	}

	*p = Permit{
		PermitID: stringField(fields, "permit_id"),
		State:    stringField(fields, "state"),
		FileDate: timeField(fields, "file_date"),
		StreetNo: stringField(fields, "street_no"),
		Street:   stringField(fields, "street"),
		City:     stringField(fields, "city"),
		ZipCode:  stringField(fields, "zip_code"),
	}
	return nil
}

// stringField renders strings and integer literals as-is and other numbers
// in their shortest form.
// Null, missing and non-scalar values become "".
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return ""
		}
		// integer literals keep their digits, ids can exceed float64 precision
		if !strings.ContainsAny(n.String(), ".eE") {
			return n.String()
		}
		v, err := n.Float64()
		if err != nil {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// floatField returns the first present, non-null key among keys
func floatField(fields map[string]json.RawMessage, keys ...string) Float {
	for _, key := range keys {
		if raw, ok := fields[key]; ok {
			if f := floatFromJSON(raw); f.Valid {
				return f
			}
		}
	}
	return Float{}
}

func timeField(fields map[string]json.RawMessage, key string) Time {
	raw, ok := fields[key]
	if !ok {
		return Time{}
	}
	return timeFromJSON(raw)
}

// IsUnknownType reports whether a property type is the placeholder or blank
func IsUnknownType(propertyType string) bool {
	t := strings.TrimSpace(propertyType)
	return t == "" || t == UnknownPropertyType
}
