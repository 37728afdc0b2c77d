package apimeta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON Schema. It is immutable and safe for concurrent
// use; load it once and share it between validators.
type Schema struct {
	url      string
	compiled *jsonschema.Schema
}

// URL returns the location the schema was compiled from.
func (s *Schema) URL() string { return s.url }

type schemaConfig struct {
	draft        *jsonschema.Draft
	assertFormat bool
}

// SchemaOption configures CompileSchema.
type SchemaOption func(*schemaConfig)

// WithDefaultDraft selects the draft used when the schema has no $schema
// keyword. Accepted names: draft4, draft6, draft7, 2019-09, 2020-12.
func WithDefaultDraft(name string) SchemaOption {
	return func(c *schemaConfig) {
		if d, err := ParseDraft(name); err == nil {
			c.draft = d
		}
	}
}

// WithFormatAssertions makes the "format" keyword fail validation instead of
// being an annotation. Drafts before 2019-09 always assert format.
func WithFormatAssertions() SchemaOption {
	return func(c *schemaConfig) { c.assertFormat = true }
}

// ParseDraft maps a draft name onto the validator's draft.
func ParseDraft(name string) (*jsonschema.Draft, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "draft4", "draft-04", "4":
		return jsonschema.Draft4, nil
	case "draft6", "draft-06", "6":
		return jsonschema.Draft6, nil
	case "draft7", "draft-07", "7":
		return jsonschema.Draft7, nil
	case "2019-09", "draft2019-09":
		return jsonschema.Draft2019, nil
	case "2020-12", "draft2020-12":
		return jsonschema.Draft2020, nil
	}
	return nil, fmt.Errorf("unknown JSON Schema draft %q", name)
}

// CompileSchema compiles a JSON Schema document. url identifies the schema
// and resolves its internal references; references to other documents are
// not fetched. Without a $schema keyword the schema is read as draft-04,
// which the SmartAPI schema uses.
func CompileSchema(url string, data []byte, opts ...SchemaOption) (*Schema, error) {
	cfg := schemaConfig{draft: jsonschema.Draft4}
	for _, o := range opts {
		o(&cfg)
	}
	if url == "" {
		url = "mem:schema.json"
	}
	if !json.Valid(data) {
		return nil, &SchemaFetchError{URL: url, Stage: StageParse, Err: errors.New("body is not valid JSON")}
	}

	c := jsonschema.NewCompiler()
	c.Draft = cfg.draft
	c.AssertFormat = cfg.assertFormat
	c.LoadURL = func(ref string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("external reference %s is not loaded", ref)
	}
	if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, &SchemaFetchError{URL: url, Stage: StageParse, Err: err}
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, &SchemaFetchError{URL: url, Stage: StageCompile, Err: err}
	}
	return &Schema{url: url, compiled: compiled}, nil
}

// Validate checks doc and reports the first violation.
func (s *Schema) Validate(doc *Document) Result {
	res := s.ValidateAll(doc)
	res.Issues = nil
	return res
}

// ValidateAll checks doc and reports every violation in Result.Issues.
func (s *Schema) ValidateAll(doc *Document) Result {
	var instance any
	if doc != nil {
		instance = doc.Plain()
	}
	iss := s.violations(instance)
	if len(iss) == 0 {
		return Result{Valid: true}
	}
	return Result{Valid: false, Error: iss[0].Reason(), Issues: iss}
}

// violations flattens the validator's error tree into its leaves, sorted by
// instance location then keyword location so the first one is stable across
// runs.
func (s *Schema) violations(instance any) Issues {
	err := s.compiled.Validate(instance)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return Issues{{Code: CodeSchema, Message: err.Error(), Cause: err}}
	}
	iss := collectLeaves(ve, nil)
	sort.SliceStable(iss, func(i, j int) bool {
		a, b := iss[i], iss[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.SchemaPath != b.SchemaPath {
			return a.SchemaPath < b.SchemaPath
		}
		return a.Message < b.Message
	})
	return iss
}

func collectLeaves(ve *jsonschema.ValidationError, out Issues) Issues {
	if len(ve.Causes) == 0 {
		return append(out, Issue{
			Path:       ve.InstanceLocation,
			Code:       CodeSchema,
			Message:    ve.Message,
			SchemaPath: ve.KeywordLocation,
		})
	}
	for _, c := range ve.Causes {
		out = collectLeaves(c, out)
	}
	return out
}

// Reason renders the issue as a one-line, human-readable message.
func (i Issue) Reason() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}
