// Package json is the encoding/json backed token driver.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	eng "github.com/reoring/apimeta/internal/engine"
)

type source struct {
	dec    *json.Decoder
	cls    eng.Classifier
	offset int64
}

// NewReader wraps r as an engine.TokenSource.
func NewReader(r io.Reader) eng.TokenSource {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &source{dec: dec, offset: -1}
}

// NewBytes wraps b as an engine.TokenSource.
func NewBytes(b []byte) eng.TokenSource { return NewReader(bytes.NewReader(b)) }

func (s *source) NextToken() (eng.Token, error) {
	tok, err := s.dec.Token()
	if err != nil {
		return eng.Token{}, err
	}
	s.offset = s.dec.InputOffset()

	t := eng.Token{Offset: s.offset}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			s.cls.Open(true)
			t.Kind = eng.KindBeginObject
		case '[':
			s.cls.Open(false)
			t.Kind = eng.KindBeginArray
		case '}':
			s.cls.Close()
			t.Kind = eng.KindEndObject
		case ']':
			s.cls.Close()
			t.Kind = eng.KindEndArray
		}
		return t, nil
	case string:
		t.Kind = s.cls.String()
		t.String = v
		return t, nil
	case bool:
		t.Kind, t.Bool = eng.KindBool, v
	case json.Number:
		t.Kind, t.Number = eng.KindNumber, string(v)
	case float64:
		t.Kind, t.Number = eng.KindNumber, strconv.FormatFloat(v, 'g', -1, 64)
	case nil:
		t.Kind = eng.KindNull
	default:
		return eng.Token{}, fmt.Errorf("json: unexpected token %T", tok)
	}
	s.cls.Value()
	return t, nil
}

func (s *source) Location() int64 { return s.offset }
