package audience

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/propmatch/internal/dataset"
	"github.com/propmatch/internal/debug"
	"github.com/propmatch/internal/record"
)

// DaysPerYear converts a whole-day gap to fractional years
const DaysPerYear = 365.25

// FilterStageError reports which filter stage failed. No partial result is
// returned alongside it.
type FilterStageError struct {
	Stage string
	Err   error
}

func (e *FilterStageError) Error() string {
	return fmt.Sprintf("error in %s filter: %v", e.Stage, e.Err)
}

func (e *FilterStageError) Unwrap() error {
	return e.Err
}

// Engine applies filters to a loaded dataset. It never modifies the
// dataset; callers serialize calls that share one Engine.
type Engine struct {
	ds         *dataset.Dataset
	logger     *zap.Logger
	localDebug bool
}

// NewEngine creates a filter engine over ds
func NewEngine(ds *dataset.Dataset, logger *zap.Logger) *Engine {
	return &Engine{ds: ds, logger: debug.OrNop(logger)}
}

// SetDebug toggles per-stage count tracing
func (e *Engine) SetDebug(enabled bool) {
	e.localDebug = enabled
}

// Dataset returns the dataset the engine filters
func (e *Engine) Dataset() *dataset.Dataset {
	return e.ds
}

// AnnotatedPermit is a filtered permit with the property that owns it
type AnnotatedPermit struct {
	PermitID   string      `json:"permit_id"`
	State      string      `json:"state"`
	FileDate   record.Time `json:"file_date"`
	PropertyID string      `json:"property_id"`
}

// Result is the outcome of one audience build
type Result struct {
	TotalProperties    int                `json:"total_properties"`
	MatchingProperties int                `json:"matching_properties"`
	MatchingPermits    int                `json:"matching_permits"`
	FinalMatches       int                `json:"final_matches"`
	Properties         []*record.Property `json:"properties"`
	Permits            []AnnotatedPermit  `json:"permits"`
}

// PropertyIDs lists the ids of the final properties
func (r *Result) PropertyIDs() []string {
	ids := make([]string, 0, len(r.Properties))
	for _, p := range r.Properties {
		ids = append(ids, p.ID)
	}
	return ids
}

// guard runs one stage, turning a returned error or a panic into a
// *FilterStageError naming the stage
func (e *Engine) guard(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			e.logger.Error("filter stage failed", zap.String("stage", stage), zap.Error(err))
			err = &FilterStageError{Stage: stage, Err: err}
		}
	}()
	return fn()
}

// BuildAudience applies both filters and keeps the filtered properties
// that own at least one filtered permit. Excluded ids are removed from the
// available and matching counts. The index used for ownership is rebuilt
// from the dataset's links on every call.
func (e *Engine) BuildAudience(pf PropertyFilter, mf PermitFilter, exclude []string) (*Result, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	e.logger.Info("building audience", zap.Int("excluded", len(excluded)))

	result := &Result{}
	for _, p := range e.ds.Properties {
		if !excluded[p.ID] {
			result.TotalProperties++
		}
	}

	properties, err := e.FilterProperties(pf)
	if err != nil {
		return nil, err
	}
	if len(excluded) > 0 {
		kept := make([]*record.Property, 0, len(properties))
		for _, p := range properties {
			if !excluded[p.ID] {
				kept = append(kept, p)
			}
		}
		properties = kept
	}
	result.MatchingProperties = len(properties)

	permits, err := e.FilterPermits(mf)
	if err != nil {
		return nil, err
	}
	result.MatchingPermits = len(permits)

	annotated, err := e.annotate(permits)
	if err != nil {
		return nil, err
	}
	result.Permits = annotated

	owners := make(map[string]bool)
	for _, permit := range annotated {
		if permit.PropertyID != "" {
			owners[permit.PropertyID] = true
		}
	}

	result.Properties = make([]*record.Property, 0)
	for _, p := range properties {
		if owners[p.ID] {
			result.Properties = append(result.Properties, p)
		}
	}
	result.FinalMatches = len(result.Properties)

	e.logger.Info("audience built",
		zap.Int("total_properties", result.TotalProperties),
		zap.Int("matching_properties", result.MatchingProperties),
		zap.Int("matching_permits", result.MatchingPermits),
		zap.Int("final_matches", result.FinalMatches))

	return result, nil
}

// AnnotatedPermits filters the permits and names the owner of each
func (e *Engine) AnnotatedPermits(mf PermitFilter) ([]AnnotatedPermit, error) {
	permits, err := e.FilterPermits(mf)
	if err != nil {
		return nil, err
	}
	return e.annotate(permits)
}

func (e *Engine) annotate(permits []*record.Permit) ([]AnnotatedPermit, error) {
	var index *dataset.Index
	if err := e.guard("index", func() error {
		index = e.ds.RebuildIndex()
		return nil
	}); err != nil {
		return nil, err
	}

	annotated := make([]AnnotatedPermit, 0, len(permits))
	if err := e.guard("permit_owner", func() error {
		for _, permit := range permits {
			owner, _ := index.Owner(permit.PermitID)
			annotated = append(annotated, AnnotatedPermit{
				PermitID:   permit.PermitID,
				State:      permit.State,
				FileDate:   permit.FileDate,
				PropertyID: owner,
			})
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return annotated, nil
}
