package apimeta_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/reoring/apimeta"
)

func forEachDriver(t *testing.T, fn func(t *testing.T)) {
	t.Helper()
	for _, d := range []apimeta.JSONDriver{apimeta.CurrentJSONDriver(), apimeta.StdJSONDriver()} {
		d := d
		t.Run(d.Name(), func(t *testing.T) {
			apimeta.SetJSONDriver(d)
			t.Cleanup(apimeta.UseDefaultJSONDriver)
			fn(t)
		})
	}
}

func TestDecodeJSON_KeepsOrderAndNumbers(t *testing.T) {
	forEachDriver(t, func(t *testing.T) {
		in := `{"z":{"b":1,"a":[1.0,"x",null,true]},"a":12345678901234567890}`
		d, err := apimeta.DecodeJSON(strings.NewReader(in), apimeta.DecodeOpt{})
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got := d.String(); got != in {
			t.Fatalf("round trip:\n got %s\nwant %s", got, in)
		}
	})
}

func TestDecodeJSON_EmptyArrayIsNotNull(t *testing.T) {
	d, err := apimeta.DecodeJSONBytes([]byte(`{"a":[]}`), apimeta.DecodeOpt{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := d.String(); got != `{"a":[]}` {
		t.Fatalf("got %s", got)
	}
}

func TestDecodeJSON_DuplicateKey(t *testing.T) {
	forEachDriver(t, func(t *testing.T) {
		js := []byte(`{"a":{"b":1,"b":2}}`)

		d, err := apimeta.DecodeJSONBytes(js, apimeta.DecodeOpt{})
		if err != nil {
			t.Fatalf("lenient decode: %v", err)
		}
		if got := d.String(); got != `{"a":{"b":2}}` {
			t.Fatalf("last value should win, got %s", got)
		}

		var warned []apimeta.Issue
		opt := apimeta.DecodeOpt{
			Strictness: apimeta.Strictness{OnDuplicateKey: apimeta.Warn},
			OnWarning:  func(i apimeta.Issue) { warned = append(warned, i) },
		}
		if _, err := apimeta.DecodeJSONBytes(js, opt); err != nil {
			t.Fatalf("warn decode: %v", err)
		}
		if len(warned) != 1 || warned[0].Code != apimeta.CodeDuplicateKey || warned[0].Path != "/a/b" {
			t.Fatalf("warnings = %v", warned)
		}

		_, err = apimeta.DecodeJSONBytes(js, apimeta.StrictDecodeOpt())
		iss, ok := apimeta.AsIssues(err)
		if !ok || len(iss) == 0 {
			t.Fatalf("expected Issues, got %v", err)
		}
		if iss[0].Code != apimeta.CodeDuplicateKey || iss[0].Path != "/a/b" {
			t.Fatalf("issue = %+v", iss[0])
		}
	})
}

func TestDecodeJSON_MaxDepth(t *testing.T) {
	js := []byte(`{"a":{"b":{"c":[1]}}}`)
	if _, err := apimeta.DecodeJSONBytes(js, apimeta.DecodeOpt{MaxDepth: 4}); err != nil {
		t.Fatalf("depth 4 should pass: %v", err)
	}
	_, err := apimeta.DecodeJSONBytes(js, apimeta.DecodeOpt{MaxDepth: 3})
	iss, ok := apimeta.AsIssues(err)
	if !ok || iss[0].Code != apimeta.CodeParseError {
		t.Fatalf("expected parse_error, got %v", err)
	}
}

func TestDecodeJSON_MaxBytes(t *testing.T) {
	apimeta.SetJSONDriver(apimeta.StdJSONDriver())
	t.Cleanup(apimeta.UseDefaultJSONDriver)

	js := []byte(`{"a":"` + strings.Repeat("x", 256) + `"}`)
	_, err := apimeta.DecodeJSONBytes(js, apimeta.DecodeOpt{MaxBytes: 64})
	iss, ok := apimeta.AsIssues(err)
	if !ok || iss[0].Code != apimeta.CodeTruncated {
		t.Fatalf("expected truncated, got %v", err)
	}
}

func TestDecodeJSON_Malformed(t *testing.T) {
	forEachDriver(t, func(t *testing.T) {
		cases := map[string]string{
			"truncated": `{"a":`,
			"array":     `[1,2]`,
			"scalar":    `"x"`,
			"trailing":  `{"a":1}{"b":2}`,
			"empty":     ``,
		}
		for name, in := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := apimeta.DecodeJSONBytes([]byte(in), apimeta.DecodeOpt{})
				if _, ok := apimeta.AsIssues(err); !ok {
					t.Fatalf("expected Issues error, got %v", err)
				}
			})
		}
	})
}

func TestDecodeYAML(t *testing.T) {
	in := `
openapi: 3.0.0
info:
  title: Genes
  version: 1.0
defaults: &defaults
  produces: [application/json]
paths:
  /z:
    get:
      <<: *defaults
      summary: z
  /a: {}
nothing: ~
flag: yes
count: 0x1F
`
	d, err := apimeta.DecodeYAML(strings.NewReader(in), apimeta.DecodeOpt{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, want := d.Keys(), []string{"openapi", "info", "defaults", "paths", "nothing", "flag", "count"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys = %v", got)
	}
	paths, _ := d.Get("paths")
	want := `{"/z":{"get":{"produces":["application/json"],"summary":"z"}},"/a":{}}`
	if got := paths.(*apimeta.Document).String(); got != want {
		t.Fatalf("paths:\n got %s\nwant %s", got, want)
	}
	info, _ := d.Get("info")
	if got := info.(*apimeta.Document).String(); got != `{"title":"Genes","version":1.0}` {
		t.Fatalf("info = %s", got)
	}
	if v, _ := d.Get("nothing"); v != nil {
		t.Fatalf("nothing = %v", v)
	}
	if v, _ := d.Get("count"); fmt.Sprint(v) != "31" {
		t.Fatalf("count = %v", v)
	}
}

func TestDecodeYAML_DuplicateKey(t *testing.T) {
	in := "a: 1\na: 2\n"
	_, err := apimeta.DecodeYAMLBytes([]byte(in), apimeta.StrictDecodeOpt())
	iss, ok := apimeta.AsIssues(err)
	if !ok || iss[0].Code != apimeta.CodeDuplicateKey || iss[0].Path != "/a" {
		t.Fatalf("expected duplicate_key at /a, got %v", err)
	}
}

func TestDecodeYAML_AliasCycle(t *testing.T) {
	cases := map[string]string{
		"self":  "a: &x\n  b: *x\n",
		"seq":   "a: &x\n  - *x\n",
		"merge": "a: &x\n  b: 1\n  c:\n    <<: *x\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := apimeta.DecodeYAMLBytes([]byte(in), apimeta.DecodeOpt{})
			iss, ok := apimeta.AsIssues(err)
			if !ok || iss[0].Code != apimeta.CodeParseError || !strings.Contains(iss[0].Message, "cycle") {
				t.Fatalf("expected alias cycle, got %v", err)
			}
		})
	}
}

func TestDecodeYAML_AliasExpansionLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("a0: &a0 [x, x, x, x, x, x, x, x, x, x]\n")
	for i := 1; i <= 7; i++ {
		fmt.Fprintf(&b, "a%d: &a%d [", i, i)
		for k := 0; k < 10; k++ {
			if k > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "*a%d", i-1)
		}
		b.WriteString("]\n")
	}
	_, err := apimeta.DecodeYAMLBytes([]byte(b.String()), apimeta.StrictDecodeOpt())
	iss, ok := apimeta.AsIssues(err)
	if !ok || iss[0].Code != apimeta.CodeParseError || !strings.Contains(iss[0].Message, "alias expansion") {
		t.Fatalf("expected alias expansion limit, got %v", err)
	}
}

func TestDecodeYAML_SharedAlias(t *testing.T) {
	in := "base: &b {k: 1}\nx: *b\ny: [*b, *b]\n"
	d, err := apimeta.DecodeYAMLBytes([]byte(in), apimeta.StrictDecodeOpt())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, _ := d.MarshalJSON()
	if got, want := string(out), `{"base":{"k":1},"x":{"k":1},"y":[{"k":1},{"k":1}]}`; got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestDecodeYAML_Keys(t *testing.T) {
	d, err := apimeta.DecodeYAMLBytes([]byte("1: x\ntrue: y\n"), apimeta.DecodeOpt{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, want := d.Keys(), []string{"1", "true"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys = %v want %v", got, want)
	}

	for _, in := range []string{"1: x\n? [a]\n: y\n", "a:\n  ? {b: 1}\n  : y\n"} {
		_, err := apimeta.DecodeYAMLBytes([]byte(in), apimeta.DecodeOpt{})
		iss, ok := apimeta.AsIssues(err)
		if !ok || iss[0].Code != apimeta.CodeInvalidType {
			t.Fatalf("%q: expected invalid_type, got %v", in, err)
		}
	}
}

func TestDecodeYAML_NonMappingRoot(t *testing.T) {
	for _, in := range []string{"- a\n- b\n", "scalar\n", ""} {
		if _, err := apimeta.DecodeYAMLBytes([]byte(in), apimeta.DecodeOpt{}); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "doc.json")
	yamlPath := filepath.Join(dir, "doc.YML")
	if err := os.WriteFile(jsonPath, []byte(`{"b":1,"a":2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(yamlPath, []byte("b: 1\na: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{jsonPath, yamlPath} {
		d, err := apimeta.DecodeFile(p, apimeta.DecodeOpt{})
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if got := d.String(); got != `{"b":1,"a":2}` {
			t.Fatalf("%s: got %s", p, got)
		}
	}
	if _, err := apimeta.DecodeFile(filepath.Join(dir, "missing.json"), apimeta.DecodeOpt{}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestJSONDriverSwitch(t *testing.T) {
	if got := apimeta.CurrentJSONDriver().Name(); got != "go-json" {
		t.Fatalf("default driver = %s", got)
	}
	apimeta.SetJSONDriver(apimeta.StdJSONDriver())
	t.Cleanup(apimeta.UseDefaultJSONDriver)
	if got := apimeta.CurrentJSONDriver().Name(); got != "encoding/json" {
		t.Fatalf("driver = %s", got)
	}
	d, err := apimeta.DecodeJSON(bytes.NewReader([]byte(`{"k":"v"}`)), apimeta.DecodeOpt{})
	if err != nil || d.String() != `{"k":"v"}` {
		t.Fatalf("decode with std driver: %v %v", d, err)
	}
}

func TestEscapePointer(t *testing.T) {
	if got := apimeta.EscapePointer("/a~b"); got != "~1a~0b" {
		t.Fatalf("got %s", got)
	}
}
