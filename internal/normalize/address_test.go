package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/propmatch/internal/record"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		streetNo string
		street   string
		city     string
		zip      string
		want     string
	}{
		{
			name:     "simple address",
			streetNo: "123", street: "Main St", city: "Arlington", zip: "22201",
			want: "123 main st arlington 22201",
		},
		{
			name:     "upper case input",
			streetNo: "123", street: "MAIN ST", city: "ARLINGTON", zip: "22201",
			want: "123 main st arlington 22201",
		},
		{
			name:     "missing city",
			streetNo: "9", street: "Oak Ave", city: "", zip: "20814",
			want: "9 oak ave none 20814",
		},
		{
			name: "everything missing",
			want: "none none none none",
		},
		{
			name:     "abbreviations are not expanded",
			streetNo: "123", street: "Main Street", city: "Arlington", zip: "22201",
			want: "123 main street arlington 22201",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.streetNo, tt.street, tt.city, tt.zip))
		})
	}
}

func TestNormalizeIsCaseInsensitive(t *testing.T) {
	assert.Equal(t,
		Normalize("123", "Main St", "Arlington", "22201"),
		Normalize("123", "MAIN ST", "ARLINGTON", "22201"))
	assert.NotEqual(t,
		Normalize("123", "Main St", "Arlington", "22201"),
		Normalize("123", "Main Street", "Arlington", "22201"))
}

func TestNormalizeNoCity(t *testing.T) {
	assert.Equal(t, "123 main st 22201", NormalizeNoCity("123", "Main St", "22201"))
	assert.Equal(t,
		NormalizeNoCity("123", "Main St", "22201"),
		NormalizeNoCity("123", "main st", "22201"))
	assert.Equal(t, "none none none", NormalizeNoCity("", "", ""))
}

func TestNormalizeDebugMatchesNormalize(t *testing.T) {
	assert.Equal(t,
		Normalize("123", "Main St", "", "22201"),
		NormalizeDebug(true, "123", "Main St", "", "22201"))
}

func TestSplitStreetLine(t *testing.T) {
	tests := []struct {
		input      string
		wantNumber string
		wantStreet string
		wantOK     bool
	}{
		{"123 Main St", "123", "Main St", true},
		{"  45 Elm Ct  ", "45", "Elm Ct", true},
		{"12B Baker St", "", "", false},
		{"One Main Plaza", "", "", false},
		{"123", "", "", false},
		{"", "", "", false},
		{"-5 Negative Way", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			number, street, ok := SplitStreetLine(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantNumber, number)
			assert.Equal(t, tt.wantStreet, street)
		})
	}
}

func TestIsApartment(t *testing.T) {
	tests := []struct {
		name string
		prop record.Property
		want bool
	}{
		{"apartment type", record.Property{PropertyType: "Apartment", AddressLine2: ""}, true},
		{"apartment type with line2", record.Property{PropertyType: "Apartment", AddressLine2: "Rear"}, true},
		{"apt in line2", record.Property{PropertyType: "Single Family", AddressLine2: "Apt 4B"}, true},
		{"hash in line2", record.Property{PropertyType: "Condo", AddressLine2: "#12"}, true},
		{"suite upper case", record.Property{AddressLine2: "SUITE 200"}, true},
		{"floor", record.Property{AddressLine2: "2nd Floor"}, true},
		{"unit", record.Property{AddressLine2: "Unit 7"}, true},
		{"single family", record.Property{PropertyType: "Single Family", AddressLine2: ""}, false},
		{"lowercase apartment type is not exact", record.Property{PropertyType: "apartment"}, false},
		{"line2 without indicator", record.Property{PropertyType: "Townhouse", AddressLine2: "Rear"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsApartment(&tt.prop))
		})
	}
}
