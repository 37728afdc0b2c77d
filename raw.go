package apimeta

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	j "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// RawField is the IndexDocument key holding the encoded original document.
const RawField = "~raw"

// EncodeRaw serializes v to JSON, gzips it and returns the URL-safe base64
// text (padded). Documents keep their key order. Only values with no JSON
// form, such as NaN, make it fail.
func EncodeRaw(v any) (string, error) {
	var text []byte
	var err error
	switch t := v.(type) {
	case *Document:
		text, err = t.MarshalJSON()
	default:
		text, err = marshalPlain(t)
	}
	if err != nil {
		return "", fmt.Errorf("encode raw: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(text); err != nil {
		return "", fmt.Errorf("encode raw: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("encode raw: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

func marshalPlain(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, fromPlain(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRaw reverses EncodeRaw. Tokens written by other producers of the same
// format (gzip container, URL-safe alphabet, padding) decode as well. Errors
// are *DecodeError naming the failing stage.
func DecodeRaw(token string) (*Document, error) {
	compressed, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, &DecodeError{Stage: StageBase64, Err: err}
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &DecodeError{Stage: StageDecompress, Err: err}
	}
	text, err := io.ReadAll(zr)
	if err != nil {
		return nil, &DecodeError{Stage: StageDecompress, Err: err}
	}
	if err := zr.Close(); err != nil {
		return nil, &DecodeError{Stage: StageDecompress, Err: err}
	}
	if !j.Valid(text) {
		return nil, &DecodeError{Stage: StageJSON, Err: fmt.Errorf("payload is not valid JSON")}
	}
	doc, err := DecodeJSONBytes(text, DecodeOpt{})
	if err != nil {
		return nil, &DecodeError{Stage: StageJSON, Err: err}
	}
	return doc, nil
}
