package validation

import "github.com/TIZ36/chatflow/pkg/schema"

// Validator checks workflow definitions for correctness before registration
// or execution.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node types, configs, edge refs, retry policies)
// 3. DAG (entry point, cycles, reachability)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	nodes      NodeLookup
}

// NewWorkflowValidator creates a WorkflowValidator.
// lookup may be nil to skip node type existence checks.
func NewWorkflowValidator(lookup NodeLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		nodes:      lookup,
	}, nil
}

// Validate runs the full 3-stage pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and DAG stages are skipped.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeInvalidDefinition, "workflow definition is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(def, wv.nodes))

	// Stage 3: DAG (skip if semantic errors — graph may be invalid).
	if result.Valid() {
		result.Merge(validateDAG(def))
	}

	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// ValidateRaw validates raw JSON (an import payload) against the workflow schema.
func (wv *WorkflowValidator) ValidateRaw(raw []byte) error {
	return wv.jsonSchema.ValidateRaw(raw)
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return wv.jsonSchema.ValidateInput(input, inputSchema)
}

// validateStructural wraps JSONSchemaValidator.ValidateDefinition, converting
// its error output into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	flowErr, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeInvalidDefinition, err.Error())
		return result
	}

	if flowErr.Details != nil {
		if violations, ok := flowErr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeInvalidDefinition, v)
			}
			return result
		}
	}
	result.AddError("/", flowErr.Code, flowErr.Message)
	return result
}
