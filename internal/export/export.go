package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/propmatch/internal/audience"
	"github.com/propmatch/internal/dataset"
	"github.com/propmatch/internal/record"
)

// PropertyHeader is the property part of every export
var PropertyHeader = []string{
	"id",
	"addressLine1",
	"addressLine2",
	"city",
	"zipCode",
	"state",
	"propertyType",
	"yearBuilt",
	"beds",
	"baths",
	"buildingSize",
	"lastSaleDate",
	"lastSalePrice",
}

// Permit columns appended when a filtered permit set is supplied
const (
	ColPermitIDs  = "permit_ids"
	ColPermitData = "permit_data"
)

// Table is an audience export. A nil cell is a null value.
type Table struct {
	Header []string
	Rows   [][]any
}

// Build lays out one row per audience property, in the order of ids.
// Unknown ids are skipped. When permits is non-nil every row also lists
// the property's permits that are in that filtered set, as comma-joined
// ids and as a JSON array of the full permit objects.
func Build(ds *dataset.Dataset, ids []string, permits []audience.AnnotatedPermit) (*Table, error) {
	withPermits := permits != nil
	t := &Table{Header: append([]string(nil), PropertyHeader...)}
	if withPermits {
		t.Header = append(t.Header, ColPermitIDs, ColPermitData)
	}

	filtered := make(map[string]bool, len(permits))
	for _, p := range permits {
		filtered[p.PermitID] = true
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		p, ok := ds.Property(id)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true

		row := propertyRow(p)
		if withPermits {
			permitIDs, data, err := permitColumns(ds, id, filtered)
			if err != nil {
				return nil, err
			}
			row = append(row, permitIDs, data)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func propertyRow(p *record.Property) []any {
	return []any{
		p.ID,
		p.AddressLine1,
		p.AddressLine2,
		p.City,
		p.ZipCode,
		p.State,
		p.PropertyType,
		floatCell(p.YearBuilt),
		floatCell(p.Beds),
		floatCell(p.Baths),
		floatCell(p.BuildingSize),
		timeCell(p.LastSaleDate),
		floatCell(p.LastSalePrice),
	}
}

func permitColumns(ds *dataset.Dataset, propertyID string, filtered map[string]bool) (string, string, error) {
	var ids []string
	objects := []json.RawMessage{}
	for _, permitID := range ds.Index.Permits(propertyID) {
		if !filtered[permitID] {
			continue
		}
		ids = append(ids, permitID)
		if raw, ok := ds.PermitRaw(permitID); ok {
			objects = append(objects, raw)
		}
	}

	data, err := json.Marshal(objects)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode permits of %s: %w", propertyID, err)
	}
	return strings.Join(ids, ","), string(data), nil
}

func floatCell(f record.Float) any {
	if !f.Valid {
		return nil
	}
	return f.Value
}

func timeCell(t record.Time) any {
	if !t.Valid {
		return nil
	}
	return t.Value
}

// formatCell renders a cell for text output; nulls become empty strings
func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

// WriteCSV writes the table with a header row
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	line := make([]string, len(t.Header))
	for i, row := range t.Rows {
		for j, cell := range row {
			line[j] = formatCell(cell)
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
