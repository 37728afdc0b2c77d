package engine

import "io"

// Kind represents token kinds produced by a JSON driver.
type Kind int

const (
	KindBeginObject Kind = iota
	KindEndObject
	KindBeginArray
	KindEndArray
	KindKey
	KindString
	KindNumber
	KindBool
	KindNull
)

func (k Kind) String() string {
	switch k {
	case KindBeginObject:
		return "begin_object"
	case KindEndObject:
		return "end_object"
	case KindBeginArray:
		return "begin_array"
	case KindEndArray:
		return "end_array"
	case KindKey:
		return "key"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindNull:
		return "null"
	}
	return "unknown"
}

// Token is a single streaming token. Numbers are kept as their literal text.
// Offset is the approximate input offset or -1 when the driver cannot tell.
type Token struct {
	Kind   Kind
	String string
	Number string
	Bool   bool
	Offset int64
}

// TokenSource is the minimal interface every driver implements.
// NextToken returns io.EOF once the input is exhausted.
type TokenSource interface {
	NextToken() (Token, error)
	Location() int64
}

// ExpectEOF drains src and reports an error if any token is left after the
// root value.
func ExpectEOF(src TokenSource) error {
	tok, err := src.NextToken()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	return &TrailingDataError{Token: tok}
}

// TrailingDataError is returned by ExpectEOF when the input holds more than a
// single root value.
type TrailingDataError struct{ Token Token }

func (e *TrailingDataError) Error() string {
	return "unexpected " + e.Token.Kind.String() + " token after root value"
}

// Classifier tracks container nesting for drivers built on Token()-style
// decoders, which report object keys and string values identically.
type Classifier struct{ stack []classFrame }

type classFrame struct {
	object  bool
	wantKey bool
}

// Open records the start of an object or array.
func (c *Classifier) Open(object bool) {
	c.Value()
	c.stack = append(c.stack, classFrame{object: object, wantKey: object})
}

// Close records the end of the innermost container.
func (c *Classifier) Close() {
	if n := len(c.stack); n > 0 {
		c.stack = c.stack[:n-1]
	}
}

// String classifies a string token as KindKey or KindString.
func (c *Classifier) String() Kind {
	if n := len(c.stack); n > 0 {
		top := &c.stack[n-1]
		if top.object && top.wantKey {
			top.wantKey = false
			return KindKey
		}
	}
	c.Value()
	return KindString
}

// Value records that a value was consumed in the current container.
func (c *Classifier) Value() {
	if n := len(c.stack); n > 0 {
		top := &c.stack[n-1]
		if top.object && !top.wantKey {
			top.wantKey = true
		}
	}
}
