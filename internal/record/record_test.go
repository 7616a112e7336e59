package record

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFloat(t *testing.T) {
	tests := []struct {
		input string
		want  Float
	}{
		{"3", NewFloat(3)},
		{" 2.5 ", NewFloat(2.5)},
		{"", Float{}},
		{"n/a", Float{}},
		{"NaN", Float{}},
		{"Inf", Float{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFloat(tt.input))
		})
	}
}

func TestParseTimeIsUTC(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2020-01-01", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2020-01-01T00:00:00.000Z", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2020-01-01T05:00:00-05:00", time.Date(2020, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2019-06-01 12:30:00", time.Date(2019, 6, 1, 12, 30, 0, 0, time.UTC)},
		{"6/1/2019", time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseTime(tt.input)
			require.True(t, got.Valid)
			assert.True(t, tt.want.Equal(got.Value))
			assert.Equal(t, time.UTC, got.Value.Location())
		})
	}

	assert.False(t, ParseTime("").Valid)
	assert.False(t, ParseTime("not a date").Valid)
}

func TestDaysBetweenFloors(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, DaysBetween(base, base.Add(36*time.Hour)))
	assert.Equal(t, -2, DaysBetween(base, base.Add(-36*time.Hour)))
	assert.Equal(t, -214, DaysBetween(base, time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestPropertyUnmarshalLenient(t *testing.T) {
	raw := `{
		"id": "123-Main-St",
		"addressLine1": "123 Main St",
		"addressLine2": null,
		"city": "Arlington",
		"zipCode": 22201,
		"state": "XX",
		"yearBuilt": "1985",
		"bedrooms": 3,
		"bathrooms": "2.5",
		"squareFootage": "unknown",
		"lastSaleDate": "2020-01-01T00:00:00.000Z",
		"lastSalePrice": 450000
	}`

	var p Property
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	assert.Equal(t, "123-Main-St", p.ID)
	assert.Equal(t, "", p.AddressLine2)
	assert.Equal(t, "22201", p.ZipCode)
	assert.Equal(t, "", p.PropertyType)
	assert.Equal(t, NewFloat(1985), p.YearBuilt)
	assert.Equal(t, NewFloat(3), p.Beds)
	assert.Equal(t, NewFloat(2.5), p.Baths)
	assert.False(t, p.BuildingSize.Valid)
	assert.True(t, p.LastSaleDate.Valid)
	assert.Equal(t, NewFloat(450000), p.LastSalePrice)
}

func TestPropertyAcceptsRenamedFields(t *testing.T) {
	var p Property
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","beds":2,"baths":1,"buildingSize":900}`), &p))

	assert.Equal(t, NewFloat(2), p.Beds)
	assert.Equal(t, NewFloat(1), p.Baths)
	assert.Equal(t, NewFloat(900), p.BuildingSize)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"beds":2`)
	assert.Contains(t, string(out), `"lastSaleDate":null`)
}

func TestPermitUnmarshal(t *testing.T) {
	var p Permit
	require.NoError(t, json.Unmarshal([]byte(`{"permit_id": 981, "file_date": "bad", "street_no": "12"}`), &p))

	assert.Equal(t, "981", p.PermitID)
	assert.False(t, p.FileDate.Valid)
	assert.Equal(t, "12", p.StreetNo)

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &p))
}

func TestNumericIDsKeepLiteralDigits(t *testing.T) {
	var a, b Property
	require.NoError(t, json.Unmarshal([]byte(`{"id": 12345678901234567890, "zipCode": 22201.0}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"id": 12345678901234567891}`), &b))

	assert.Equal(t, "12345678901234567890", a.ID)
	assert.Equal(t, "12345678901234567891", b.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "22201", a.ZipCode)

	var p Permit
	require.NoError(t, json.Unmarshal([]byte(`{"permit_id": 9007199254740993}`), &p))
	assert.Equal(t, "9007199254740993", p.PermitID)
}

func TestSanitizeJSON(t *testing.T) {
	in := []byte(`{"a": NaN, "b": "NaN text", "c": [Infinity, -Infinity], "d": "say \"NaN\""}`)
	out := SanitizeJSON(in)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Nil(t, decoded["a"])
	assert.Equal(t, "NaN text", decoded["b"])
	assert.Equal(t, []any{nil, nil}, decoded["c"])
	assert.Equal(t, `say "NaN"`, decoded["d"])
}

func TestMatchFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VA", "VA_matches.json")
	pairs := []MatchPair{
		{Property: json.RawMessage(`{"id":"p1"}`), Permit: json.RawMessage(`{"permit_id":"x1"}`)},
		{Property: json.RawMessage(`{"id":"p2"}`)},
	}

	require.NoError(t, WriteMatchFile(path, pairs))

	got, err := ReadMatchFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].HasPermit())
	assert.False(t, got[1].HasPermit())
	assert.JSONEq(t, `{"id":"p2"}`, string(got[1].Property))

	_, err = ReadMatchFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
