package apimeta

import (
	"strings"

	"github.com/google/uuid"
)

// PathsField is the document key holding the path-item mapping.
const PathsField = "paths"

// Transformer reshapes one document for search indexing.
type Transformer struct {
	doc *Document
}

// NewTransformer binds doc. It may be the same document given to a Validator.
func NewTransformer(doc *Document) *Transformer {
	return &Transformer{doc: doc}
}

// ToIndexDocument returns a copy of the document in which "paths" becomes a
// list of {"path": key, "pathitem": value} records in the original key order
// and "~raw" holds EncodeRaw of the untouched input.
//
// The input is never modified. Path items are deep-copied into the records;
// every other top-level value is shared with the input.
//
// A missing "paths" yields *MissingFieldError and a non-object "paths"
// *InvalidFieldError; no partial result is returned.
func (t *Transformer) ToIndexDocument() (*Document, error) {
	raw, ok := t.doc.Get(PathsField)
	if !ok {
		return nil, &MissingFieldError{Field: PathsField}
	}
	paths, ok := raw.(*Document)
	if !ok || paths == nil {
		return nil, &InvalidFieldError{Field: PathsField, Want: "object", Got: kindOf(raw)}
	}

	records := make([]any, 0, paths.Len())
	paths.Range(func(path string, item any) bool {
		rec := NewDocument()
		rec.Set("path", path)
		rec.Set("pathitem", DeepCopyValue(item))
		records = append(records, rec)
		return true
	})

	snapshot, err := EncodeRaw(t.doc)
	if err != nil {
		return nil, err
	}

	out := t.doc.Clone()
	out.Set(PathsField, records)
	out.Set(RawField, snapshot)
	return out, nil
}

// RawDocument decodes the "~raw" field of an index document back into the
// original document.
func RawDocument(index *Document) (*Document, error) {
	v, ok := index.Get(RawField)
	if !ok {
		return nil, &MissingFieldError{Field: RawField}
	}
	token, ok := v.(string)
	if !ok {
		return nil, &InvalidFieldError{Field: RawField, Want: "string", Got: kindOf(v)}
	}
	return DecodeRaw(token)
}

// IndexID derives a stable document id from the metadata URL. Surrounding
// whitespace and a trailing slash do not change the id.
func IndexID(metadataURL string) string {
	u := strings.TrimSuffix(strings.TrimSpace(metadataURL), "/")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(u)).String()
}
