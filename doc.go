// Package apimeta validates SmartAPI/OpenAPI metadata documents against a
// JSON Schema and reshapes them for search indexing.
//
// - Document: insertion-ordered JSON object, decoded from JSON (DecodeJSON) or YAML (DecodeYAML)
// - Schema/Validator: JSON Schema validation yielding {valid} or {valid:false, error}
// - Transformer: "paths" mapping to a list of {path, pathitem} records plus a "~raw" snapshot
// - EncodeRaw/DecodeRaw: base64url(gzip(json)) snapshot codec
//
// Loading the schema is the only network step and lives in the schemasource
// package, so validators are built from an already compiled Schema.
//
// Typical usage:
//
//	schema, err := schemasource.New().Load(ctx, schemasource.DefaultURL)
//	doc, err := apimeta.DecodeFile("openapi.yaml", apimeta.DecodeOpt{})
//
//	res := apimeta.NewValidator(schema, doc).Validate()
//	if res.Valid {
//		idx, err := apimeta.NewTransformer(doc).ToIndexDocument()
//	}
package apimeta
