package matcher

import (
	"encoding/json"

	"github.com/propmatch/internal/normalize"
	"github.com/propmatch/internal/record"
)

// Candidate is a property that is eligible for matching, with its join
// keys computed once.
type Candidate struct {
	Raw       json.RawMessage
	Property  record.Property
	StreetNo  string
	Street    string
	Key       string
	KeyNoCity string
}

// PrepareStats counts why properties were dropped before matching
type PrepareStats struct {
	Input       int
	Malformed   int
	Apartments  int
	Unparseable int
	Candidates  int
}

// PrepareCandidates drops apartments, malformed objects and properties
// whose primary line has no leading house number or that lack city or zip.
// Dropped properties are only excluded from matching; the caller's slice is
// untouched. Input order is preserved. With localDebug set every join key
// is traced.
func PrepareCandidates(localDebug bool, raws []json.RawMessage) ([]Candidate, PrepareStats) {
	stats := PrepareStats{Input: len(raws)}
	candidates := make([]Candidate, 0, len(raws))

	for _, raw := range raws {
		var prop record.Property
		if err := json.Unmarshal(raw, &prop); err != nil {
			stats.Malformed++
			continue
		}
		if normalize.IsApartment(&prop) {
			stats.Apartments++
			continue
		}

		streetNo, street, ok := normalize.SplitStreetLine(prop.AddressLine1)
		if !ok || street == "" || prop.City == "" || prop.ZipCode == "" {
			stats.Unparseable++
			continue
		}

		candidates = append(candidates, Candidate{
			Raw:       raw,
			Property:  prop,
			StreetNo:  streetNo,
			Street:    street,
			Key:       normalize.NormalizeDebug(localDebug, streetNo, street, prop.City, prop.ZipCode),
			KeyNoCity: normalize.NormalizeNoCity(streetNo, street, prop.ZipCode),
		})
	}

	stats.Candidates = len(candidates)
	return candidates, stats
}

// ResolveDuplicates keeps exactly one candidate per no-city address. Within
// a group of variants (the same address under different city spellings) the
// first variant whose full address has a permit wins, otherwise the first
// variant. Groups come out in order of first appearance.
//
// The tie-break depends on input order, which is not guaranteed stable
// across re-ingestion of the vendor export.
func ResolveDuplicates(candidates []Candidate, permits *PermitIndex) (unique []Candidate, groups int) {
	order := make([]string, 0, len(candidates))
	byKey := make(map[string][]int, len(candidates))
	for i, c := range candidates {
		if _, seen := byKey[c.KeyNoCity]; !seen {
			order = append(order, c.KeyNoCity)
		}
		byKey[c.KeyNoCity] = append(byKey[c.KeyNoCity], i)
	}

	unique = make([]Candidate, 0, len(order))
	for _, key := range order {
		members := byKey[key]
		if len(members) == 1 {
			unique = append(unique, candidates[members[0]])
			continue
		}

		chosen := members[0]
		for _, i := range members {
			if permits.Has(candidates[i].Key) {
				chosen = i
				break
			}
		}
		unique = append(unique, candidates[chosen])
	}

	return unique, len(order)
}
