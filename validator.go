package apimeta

import j "github.com/goccy/go-json"

// Result is the outcome of validating one document. An invalid document is a
// normal outcome, not an error.
type Result struct {
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
	Issues Issues `json:"issues,omitempty"`
}

// MarshalJSON emits {"valid":true} or {"valid":false,"error":"..."}; issues
// are added only when ValidateAll filled them.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Valid {
		return []byte(`{"valid":true}`), nil
	}
	type wire struct {
		Valid  bool   `json:"valid"`
		Error  string `json:"error"`
		Issues Issues `json:"issues,omitempty"`
	}
	return j.Marshal(wire{Error: r.Error, Issues: r.Issues})
}

// Validator checks one document against a pre-loaded schema. Building it does
// no I/O; see the schemasource package for loading schemas.
type Validator struct {
	schema *Schema
	doc    *Document
}

// NewValidator binds doc to schema. schema must be non-nil.
func NewValidator(schema *Schema, doc *Document) *Validator {
	if schema == nil {
		panic("apimeta: NewValidator with nil schema")
	}
	return &Validator{schema: schema, doc: doc}
}

// Validate returns {valid:true} or {valid:false, error:<first violation>}.
func (v *Validator) Validate() Result { return v.schema.Validate(v.doc) }

// ValidateAll is Validate with every violation listed in Result.Issues.
func (v *Validator) ValidateAll() Result { return v.schema.ValidateAll(v.doc) }

// Document returns the document under validation.
func (v *Validator) Document() *Document { return v.doc }
