package validation

import "github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"

// FlowValidator runs the two-stage pipeline over tenant-authored flows:
// 1. Structural (JSON Schema, envelope plus per-kind config bags)
// 2. Graph (entry point, referential integrity, handles, reachability)
type FlowValidator struct {
	schemas *SchemaValidator
}

// NewFlowValidator creates a FlowValidator with all schemas pre-compiled.
func NewFlowValidator() (*FlowValidator, error) {
	sv, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &FlowValidator{schemas: sv}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: graph analysis over a malformed
// envelope would only repeat them.
func (fv *FlowValidator) Validate(flow *schema.Flow) *schema.ValidationResult {
	if flow == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "flow is nil")
		return r
	}

	result := fv.schemas.ValidateGraph(&flow.Graph)
	if !result.Valid() {
		return result
	}

	result.Merge(checkGraph(&flow.Graph))
	return result
}

// ValidateFlow collapses the result into a single error, nil when valid.
func (fv *FlowValidator) ValidateFlow(flow *schema.Flow) error {
	return fv.Validate(flow).ToError()
}
