package engine_test

import (
	"errors"
	"io"
	"testing"

	eng "github.com/reoring/apimeta/internal/engine"
	gojsonsrc "github.com/reoring/apimeta/source/gojson"
	jsonsrc "github.com/reoring/apimeta/source/json"
)

func drain(src eng.TokenSource) ([]eng.Token, error) {
	var out []eng.Token
	for {
		tok, err := src.NextToken()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, tok)
	}
}

func drivers() map[string]func([]byte) eng.TokenSource {
	return map[string]func([]byte) eng.TokenSource{
		"encoding/json": jsonsrc.NewBytes,
		"go-json":       gojsonsrc.NewBytes,
	}
}

func TestDrivers_ClassifyKeys(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			toks, err := drain(open([]byte(`{"k":"v","a":["s",{"x":1}]}`)))
			if err != nil {
				t.Fatalf("drain: %v", err)
			}
			want := []eng.Kind{
				eng.KindBeginObject, eng.KindKey, eng.KindString,
				eng.KindKey, eng.KindBeginArray, eng.KindString,
				eng.KindBeginObject, eng.KindKey, eng.KindNumber, eng.KindEndObject,
				eng.KindEndArray, eng.KindEndObject,
			}
			if len(toks) != len(want) {
				t.Fatalf("got %d tokens, want %d", len(toks), len(want))
			}
			for i, k := range want {
				if toks[i].Kind != k {
					t.Fatalf("token %d = %s, want %s", i, toks[i].Kind, k)
				}
			}
			if toks[8].Number != "1" {
				t.Fatalf("number literal = %q", toks[8].Number)
			}
		})
	}
}

func TestGuard_DuplicatePaths(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			src := eng.Guard(open([]byte(`{"a":[{"x":1},{"y/z":1,"y/z":2}]}`)), eng.GuardOptions{OnDuplicate: eng.DupError})
			_, err := drain(src)
			var ie eng.IssueError
			if !errors.As(err, &ie) {
				t.Fatalf("expected IssueError, got %v", err)
			}
			if ie.Code != eng.CodeDuplicateKey || ie.Path != "/a/1/y~1z" {
				t.Fatalf("issue = %+v", ie.SimpleIssue)
			}
		})
	}
}

func TestGuard_WarnCollects(t *testing.T) {
	var got []eng.SimpleIssue
	src := eng.Guard(jsonsrc.NewBytes([]byte(`{"a":1,"a":2,"b":{"c":1,"c":2}}`)), eng.GuardOptions{
		OnDuplicate: eng.DupWarn,
		Warn:        func(si eng.SimpleIssue) { got = append(got, si) },
	})
	if _, err := drain(src); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 2 || got[0].Path != "/a" || got[1].Path != "/b/c" {
		t.Fatalf("warnings = %+v", got)
	}
}

func TestGuard_MaxDepth(t *testing.T) {
	src := eng.Guard(jsonsrc.NewBytes([]byte(`{"a":[[1]]}`)), eng.GuardOptions{MaxDepth: 2})
	_, err := drain(src)
	var ie eng.IssueError
	if !errors.As(err, &ie) || ie.Message != "max depth exceeded" || ie.Path != "/a/0" {
		t.Fatalf("err = %v", err)
	}
}

func TestGuard_Disabled(t *testing.T) {
	if (eng.GuardOptions{}).Enabled() {
		t.Fatal("zero options should be disabled")
	}
}

func TestExpectEOF(t *testing.T) {
	src := jsonsrc.NewBytes([]byte(`{} []`))
	if _, err := src.NextToken(); err != nil {
		t.Fatal(err)
	}
	if _, err := src.NextToken(); err != nil {
		t.Fatal(err)
	}
	err := eng.ExpectEOF(src)
	var td *eng.TrailingDataError
	if !errors.As(err, &td) || td.Token.Kind != eng.KindBeginArray {
		t.Fatalf("err = %v", err)
	}
}
