package handlers

import (
	"net/http"

	"github.com/propmatch/internal/audience"
	"github.com/propmatch/internal/dataset"
)

// DatasetResponse summarizes the loaded dataset
type DatasetResponse struct {
	Properties            int                    `json:"properties"`
	Permits               int                    `json:"permits"`
	PropertiesWithPermits int                    `json:"properties_with_permits"`
	PermitMappings        int                    `json:"permit_mappings"`
	IndexConflicts        int                    `json:"index_conflicts"`
	Load                  dataset.LoadStats      `json:"load"`
	Quality               []dataset.FieldQuality `json:"quality"`
}

// OptionsResponse lists the values selectable in list constraints
type OptionsResponse struct {
	PropertyTypes []string `json:"property_types"`
	States        []string `json:"states"`
}

// GetDataset returns record counts and the data-quality report
func (h *APIHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	var resp DatasetResponse
	err := h.Session.Do(func(e *audience.Engine) error {
		ds := e.Dataset()
		resp = DatasetResponse{
			Properties:            len(ds.Properties),
			Permits:               len(ds.Permits),
			PropertiesWithPermits: len(ds.Index.PropertyPermits),
			PermitMappings:        len(ds.Index.PermitProperty),
			IndexConflicts:        ds.Index.Conflicts,
			Load:                  ds.Stats,
			Quality:               ds.QualityReport(),
		}
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRanges returns the selectable bounds of every range constraint
func (h *APIHandler) GetRanges(w http.ResponseWriter, r *http.Request) {
	var ranges dataset.Ranges
	err := h.Session.Do(func(e *audience.Engine) error {
		ranges = e.Dataset().Ranges()
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranges)
}

// GetOptions returns the property types and states to choose from
func (h *APIHandler) GetOptions(w http.ResponseWriter, r *http.Request) {
	var resp OptionsResponse
	err := h.Session.Do(func(e *audience.Engine) error {
		resp.PropertyTypes = e.Dataset().PropertyTypes()
		resp.States = e.Dataset().States()
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
