package handlers

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/propmatch/internal/audience"
	"github.com/propmatch/internal/debug"
	"github.com/propmatch/internal/export"
)

// ExportAudience streams a saved audience as CSV or XLSX. Permit columns
// list the property's permits passing the permit-year query parameters.
func (h *APIHandler) ExportAudience(w http.ResponseWriter, r *http.Request) {
	if h.Config != nil && !h.Config.Features.ExportEnabled {
		http.Error(w, "Export is disabled", http.StatusForbidden)
		return
	}

	name := mux.Vars(r)["name"]
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		http.Error(w, "Invalid format. Use csv or xlsx", http.StatusBadRequest)
		return
	}

	permitFilter, err := permitFilterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a, err := h.Store.Load(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var table *export.Table
	err = h.Session.Do(func(e *audience.Engine) error {
		permits, err := e.AnnotatedPermits(permitFilter)
		if err != nil {
			return err
		}
		table, err = export.Build(e.Dataset(), a.Properties, permits)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// render fully before writing headers so failures still get an error status
	var buf bytes.Buffer
	contentType := "text/csv"
	if format == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = table.WriteXLSX(&buf)
	} else {
		err = table.WriteCSV(&buf)
	}
	if err != nil {
		h.writeError(w, r, fmt.Errorf("failed to export audience %s: %w", name, err))
		return
	}

	debug.OrNop(h.Logger).Info("audience exported",
		zap.String("name", name),
		zap.String("format", format),
		zap.Int("rows", len(table.Rows)))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, name, format))
	w.Write(buf.Bytes())
}
