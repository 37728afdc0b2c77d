package apimeta

import (
	"errors"
	"fmt"
	"strings"

	eng "github.com/reoring/apimeta/internal/engine"
)

// Issue codes.
const (
	CodeInvalidType  = "invalid_type"
	CodeDuplicateKey = eng.CodeDuplicateKey
	CodeParseError   = eng.CodeParseError
	CodeTruncated    = eng.CodeTruncated
	CodeSchema       = "schema_violation"
)

// Issue is a single decode or validation finding.
type Issue struct {
	Path       string `json:"path"` // JSON Pointer into the document, e.g. /info/title.
	Code       string `json:"code"`
	Message    string `json:"message"`
	SchemaPath string `json:"schemaPath,omitempty"` // keyword location for schema violations.
	Cause      error  `json:"-"`
}

// Issues is a list of findings that implements error.
type Issues []Issue

// Error summarizes the first few issues.
func (iss Issues) Error() string {
	if len(iss) == 0 {
		return ""
	}
	const maxShown = 3
	b := &strings.Builder{}
	for i, it := range iss {
		if i == maxShown {
			fmt.Fprintf(b, "; ... (total %d)", len(iss))
			break
		}
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(b, "%s at %s: %s", it.Code, pointerOrRoot(it.Path), it.Message)
	}
	return b.String()
}

// Unwrap exposes the underlying causes to errors.Is and errors.As.
func (iss Issues) Unwrap() []error {
	var out []error
	for _, it := range iss {
		if it.Cause != nil {
			out = append(out, it.Cause)
		}
	}
	return out
}

// AsIssues extracts Issues from err.
func AsIssues(err error) (Issues, bool) {
	if err == nil {
		return nil, false
	}
	var iss Issues
	if errors.As(err, &iss) {
		return iss, true
	}
	return nil, false
}

// Sentinels for errors.Is.
var (
	ErrSchemaFetch  = errors.New("apimeta: schema unavailable")
	ErrMissingField = errors.New("apimeta: missing field")
	ErrDecode       = errors.New("apimeta: malformed raw token")
)

// FetchStage names the step at which loading a schema failed.
type FetchStage string

const (
	StageFetch   FetchStage = "fetch"
	StageStatus  FetchStage = "status"
	StageParse   FetchStage = "parse"
	StageCompile FetchStage = "compile"
)

// SchemaFetchError reports that the schema could not be retrieved, parsed or
// compiled. A Validator is never built from a failed load.
type SchemaFetchError struct {
	URL        string
	Stage      FetchStage
	StatusCode int
	Err        error
}

func (e *SchemaFetchError) Error() string {
	msg := fmt.Sprintf("schema %s: %s failed", e.URL, e.Stage)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaFetchError) Unwrap() error { return e.Err }

func (e *SchemaFetchError) Is(target error) bool { return target == ErrSchemaFetch }

// MissingFieldError reports that a structural key is absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %q", e.Field)
}

func (e *MissingFieldError) Is(target error) bool { return target == ErrMissingField }

// InvalidFieldError reports that a structural key holds the wrong kind of value.
type InvalidFieldError struct {
	Field string
	Want  string
	Got   string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("field %q: expected %s, got %s", e.Field, e.Want, e.Got)
}

// DecodeStage names the step at which a raw token failed to decode.
type DecodeStage string

const (
	StageBase64     DecodeStage = "base64"
	StageDecompress DecodeStage = "decompress"
	StageJSON       DecodeStage = "json"
)

// DecodeError reports a malformed raw token.
type DecodeError struct {
	Stage DecodeStage
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode raw (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// kindOf names the JSON kind of v for error messages.
func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case *Document, map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	return "number"
}
