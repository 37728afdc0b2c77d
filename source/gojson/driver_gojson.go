// Package gojson is the goccy/go-json backed token driver. It is the default
// driver of the root package.
//
// go-json's Decoder.Token does not check separators, so input is read fully
// and validated before any token is produced.
package gojson

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	j "github.com/goccy/go-json"

	eng "github.com/reoring/apimeta/internal/engine"
)

type source struct {
	dec *j.Decoder
	cls eng.Classifier
	err error
}

// NewReader wraps r as an engine.TokenSource using go-json. r is read to the
// end on the first call to NextToken.
func NewReader(r io.Reader) eng.TokenSource {
	b, err := io.ReadAll(r)
	if err != nil {
		return &source{err: err}
	}
	return NewBytes(b)
}

// NewBytes wraps b as an engine.TokenSource using go-json.
func NewBytes(b []byte) eng.TokenSource {
	if err := validate(b); err != nil {
		return &source{err: err}
	}
	dec := j.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return &source{dec: dec}
}

func validate(b []byte) error {
	if len(bytes.TrimSpace(b)) == 0 {
		return io.EOF
	}
	if j.Valid(b) {
		return nil
	}
	var v any
	if err := j.Unmarshal(b, &v); err != nil {
		return err
	}
	return errors.New("gojson: invalid JSON")
}

func (s *source) NextToken() (eng.Token, error) {
	if s.err != nil {
		return eng.Token{}, s.err
	}
	tok, err := s.dec.Token()
	if err != nil {
		return eng.Token{}, err
	}
	t := eng.Token{Offset: s.dec.InputOffset()}
	switch v := tok.(type) {
	case j.Delim:
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
	case j.Number:
		// The literal aliases the decoder's buffer.
		t.Kind, t.Number = eng.KindNumber, strings.Clone(string(v))
	case float64:
		t.Kind, t.Number = eng.KindNumber, strconv.FormatFloat(v, 'g', -1, 64)
	case nil:
		t.Kind = eng.KindNull
	default:
		return eng.Token{}, fmt.Errorf("gojson: unexpected token %T", tok)
	}
	s.cls.Value()
	return t, nil
}

func (s *source) Location() int64 {
	if s.dec == nil {
		return -1
	}
	return s.dec.InputOffset()
}
