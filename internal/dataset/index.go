package dataset

import (
	"go.uber.org/zap"

	"github.com/propmatch/internal/debug"
)

// Link is one property/permit association read from a match pair
type Link struct {
	PropertyID string
	PermitID   string
}

// Index relates properties to the permits matched at their address
type Index struct {
	// PropertyPermits lists permit ids per property in first-seen order,
	// without duplicates
	PropertyPermits map[string][]string

	// PermitProperty maps each permit to its single owning property
	PermitProperty map[string]string

	// Conflicts counts permits that were re-mapped to a different property
	Conflicts int
}

// BuildIndex scans links in order. When a permit is linked to a second,
// different property the later link wins and the remap is logged.
func BuildIndex(links []Link, logger *zap.Logger) *Index {
	logger = debug.OrNop(logger)

	idx := &Index{
		PropertyPermits: make(map[string][]string),
		PermitProperty:  make(map[string]string, len(links)),
	}
	seen := make(map[Link]struct{}, len(links))

	for _, link := range links {
		if link.PropertyID == "" || link.PermitID == "" {
			continue
		}

		if _, dup := seen[link]; !dup {
			seen[link] = struct{}{}
			idx.PropertyPermits[link.PropertyID] = append(idx.PropertyPermits[link.PropertyID], link.PermitID)
		}

		if owner, ok := idx.PermitProperty[link.PermitID]; ok && owner != link.PropertyID {
			idx.Conflicts++
			logger.Warn("permit re-mapped to a different property",
				zap.String("permit_id", link.PermitID),
				zap.String("previous_property_id", owner),
				zap.String("property_id", link.PropertyID))
		}
		idx.PermitProperty[link.PermitID] = link.PropertyID
	}

	return idx
}

// Permits returns the permit ids linked to a property
func (idx *Index) Permits(propertyID string) []string {
	return idx.PropertyPermits[propertyID]
}

// Owner returns the property a permit belongs to
func (idx *Index) Owner(permitID string) (string, bool) {
	id, ok := idx.PermitProperty[permitID]
	return id, ok
}
