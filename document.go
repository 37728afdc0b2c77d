package apimeta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	j "github.com/goccy/go-json"
)

// Document is a JSON object whose keys keep their insertion order.
//
// Values are nil, bool, string, json.Number, Go numeric types, []any or
// nested *Document. Decoders in this package only ever produce json.Number for
// numbers and non-nil []any for arrays.
type Document struct {
	keys   []string
	values map[string]any
}

// NewDocument returns an empty Document.
func NewDocument() *Document {
	return &Document{values: make(map[string]any)}
}

// FromMap builds a Document from a plain map. Keys are sorted since Go maps
// carry no order; nested maps and slices are converted recursively.
func FromMap(m map[string]any) *Document {
	d := NewDocument()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Set(k, fromPlain(m[k]))
	}
	return d
}

func fromPlain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return FromMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = fromPlain(t[i])
		}
		return out
	default:
		return v
	}
}

// Len returns the number of keys.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns a copy of the keys in order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.keys...)
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Set stores v under key. New keys are appended; existing keys keep their
// position.
func (d *Document) Set(key string, v any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Delete removes key.
func (d *Document) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i:i], d.keys[i+1:]...)
			break
		}
	}
}

// Range calls fn for every entry in order until fn returns false.
func (d *Document) Range(fn func(key string, v any) bool) {
	if d == nil {
		return
	}
	for _, k := range d.keys {
		if !fn(k, d.values[k]) {
			return
		}
	}
}

// Clone returns a shallow copy: top-level entries are copied, nested
// documents and slices are shared.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{keys: append([]string(nil), d.keys...), values: make(map[string]any, len(d.values))}
	for k, v := range d.values {
		out.values[k] = v
	}
	return out
}

// DeepCopy returns a copy sharing no mutable state with d.
func (d *Document) DeepCopy() *Document {
	if d == nil {
		return nil
	}
	out := &Document{keys: append([]string(nil), d.keys...), values: make(map[string]any, len(d.values))}
	for k, v := range d.values {
		out.values[k] = DeepCopyValue(v)
	}
	return out
}

// DeepCopyValue copies documents, slices and plain maps recursively; scalars
// are returned as is.
func DeepCopyValue(v any) any {
	switch t := v.(type) {
	case *Document:
		return t.DeepCopy()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = DeepCopyValue(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = DeepCopyValue(vv)
		}
		return out
	default:
		return v
	}
}

// Plain converts d into map[string]any / []any trees, the shape JSON Schema
// validators consume.
func (d *Document) Plain() map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case *Document:
		return t.Plain()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = plainValue(t[i])
		}
		return out
	default:
		return v
	}
}

// MarshalJSON encodes d with keys in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into d, keeping key order.
func (d *Document) UnmarshalJSON(b []byte) error {
	doc, err := DecodeJSONBytes(b, DecodeOpt{})
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// String renders d as compact JSON; errors render as a placeholder.
func (d *Document) String() string {
	b, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<document: %v>", err)
	}
	return string(b)
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case *Document:
		if t == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		for i, k := range t.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := writeValue(buf, t.values[k]); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, e); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case string:
		writeString(buf, t)
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case json.Number:
		if !json.Valid([]byte(t)) {
			return fmt.Errorf("invalid number literal %q", string(t))
		}
		buf.WriteString(string(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("unsupported float value %v", t)
		}
		buf.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	default:
		b, err := j.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	enc := j.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encode only fails for unsupported types; strings always succeed.
	_ = enc.Encode(s)
	// Encoder appends a newline.
	buf.Truncate(buf.Len() - 1)
}
