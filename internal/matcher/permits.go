package matcher

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/propmatch/internal/normalize"
)

// Permit source columns
const (
	ColState             = "state"
	ColStreetNo          = "street_no"
	ColStreet            = "street"
	ColCity              = "city"
	ColZipCode           = "zip_code"
	ColPermitID          = "permit_id"
	ColFileDate          = "file_date"
	ColNormalizedAddress = "normalized_address"
)

var requiredPermitColumns = []string{ColState, ColStreetNo, ColStreet, ColCity, ColZipCode}

// fileDateAliases are accepted in place of file_date, first one wins
var fileDateAliases = []string{ColFileDate, "fileDate", "permitDate", "issueDate", "issue_date"}

// PermitRow is one row of the permit source with its join key precomputed
type PermitRow struct {
	Columns           map[string]string
	NormalizedAddress string

	encoded json.RawMessage
}

// Get returns a column value, "" when absent
func (p *PermitRow) Get(column string) string {
	return p.Columns[column]
}

// JSON is the permit object written into match pairs: every source column
// (empty cells as null) plus normalized_address.
func (p *PermitRow) JSON() (json.RawMessage, error) {
	if p.encoded != nil {
		return p.encoded, nil
	}
	obj := make(map[string]any, len(p.Columns)+1)
	for k, v := range p.Columns {
		if v == "" {
			obj[k] = nil
		} else {
			obj[k] = v
		}
	}
	obj[ColNormalizedAddress] = p.NormalizedAddress

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode permit %s: %w", p.Get(ColPermitID), err)
	}
	p.encoded = data
	return data, nil
}

// NewPermitRow builds a row from column values and computes its join key
func NewPermitRow(columns map[string]string) *PermitRow {
	if _, ok := columns[ColFileDate]; !ok {
		for _, alias := range fileDateAliases[1:] {
			if v, ok := columns[alias]; ok {
				columns[ColFileDate] = v
				break
			}
		}
	}
	return &PermitRow{
		Columns: columns,
		NormalizedAddress: normalize.Normalize(
			columns[ColStreetNo], columns[ColStreet], columns[ColCity], columns[ColZipCode]),
	}
}

// LoadPermitsCSV reads the permit source table. Malformed rows are logged
// and skipped; a missing required column fails the whole load.
func LoadPermitsCSV(path string, logger *zap.Logger) ([]*PermitRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open permits file %s: %w", path, err)
	}
	defer file.Close()

	return ReadPermitsCSV(file, logger)
}

// ReadPermitsCSV is LoadPermitsCSV over any reader
func ReadPermitsCSV(r io.Reader, logger *zap.Logger) ([]*PermitRow, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read permits header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	if err := checkColumns(header); err != nil {
		return nil, err
	}

	var rows []*PermitRow
	skipped := 0
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn("skipping unreadable permit row", zap.Error(err))
			skipped++
			continue
		}

		columns := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(fields) {
				columns[name] = strings.TrimSpace(fields[i])
			} else {
				columns[name] = ""
			}
		}
		rows = append(rows, NewPermitRow(columns))
	}

	logger.Info("loaded permits", zap.Int("rows", len(rows)), zap.Int("skipped", skipped))
	return rows, nil
}

func checkColumns(header []string) error {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}

	var missing []string
	for _, col := range requiredPermitColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("permits file is missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

// FilterRegion keeps the permits whose state column equals region
func FilterRegion(rows []*PermitRow, region string) []*PermitRow {
	var out []*PermitRow
	for _, row := range rows {
		if row.Get(ColState) == region {
			out = append(out, row)
		}
	}
	return out
}

// PermitIndex is a read-only lookup from normalized address to permits.
// It is built once per region and shared by every worker.
type PermitIndex struct {
	byAddress map[string][]*PermitRow
	size      int
}

// NewPermitIndex indexes rows by normalized address, preserving row order
// within an address. Each row's match-pair JSON is encoded up front so
// workers only read shared state.
func NewPermitIndex(rows []*PermitRow) (*PermitIndex, error) {
	idx := &PermitIndex{byAddress: make(map[string][]*PermitRow), size: len(rows)}
	for _, row := range rows {
		if _, err := row.JSON(); err != nil {
			return nil, err
		}
		idx.byAddress[row.NormalizedAddress] = append(idx.byAddress[row.NormalizedAddress], row)
	}
	return idx, nil
}

// Lookup returns every permit filed under key
func (idx *PermitIndex) Lookup(key string) []*PermitRow {
	return idx.byAddress[key]
}

// Has reports whether at least one permit is filed under key
func (idx *PermitIndex) Has(key string) bool {
	return len(idx.byAddress[key]) > 0
}

// Len is the number of indexed permits
func (idx *PermitIndex) Len() int {
	return idx.size
}
