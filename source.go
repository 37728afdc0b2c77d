package apimeta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	eng "github.com/reoring/apimeta/internal/engine"
	gojsonsrc "github.com/reoring/apimeta/source/gojson"
	jsonsrc "github.com/reoring/apimeta/source/json"
)

// JSONDriver turns JSON input into a token stream. The default is backed by
// goccy/go-json; StdJSONDriver uses encoding/json.
type JSONDriver interface {
	NewReader(r io.Reader) eng.TokenSource
	NewBytes(b []byte) eng.TokenSource
	Name() string
}

type goJSONDriver struct{}

func (goJSONDriver) NewReader(r io.Reader) eng.TokenSource { return gojsonsrc.NewReader(r) }
func (goJSONDriver) NewBytes(b []byte) eng.TokenSource     { return gojsonsrc.NewBytes(b) }
func (goJSONDriver) Name() string                          { return "go-json" }

type stdJSONDriver struct{}

func (stdJSONDriver) NewReader(r io.Reader) eng.TokenSource { return jsonsrc.NewReader(r) }
func (stdJSONDriver) NewBytes(b []byte) eng.TokenSource     { return jsonsrc.NewBytes(b) }
func (stdJSONDriver) Name() string                          { return "encoding/json" }

// StdJSONDriver returns the encoding/json backed driver. It reports input
// offsets while streaming.
func StdJSONDriver() JSONDriver { return stdJSONDriver{} }

var (
	jsonDriverMu      sync.RWMutex
	currentJSONDriver JSONDriver = goJSONDriver{}
)

// SetJSONDriver replaces the global JSON driver; nil is ignored.
func SetJSONDriver(d JSONDriver) {
	if d == nil {
		return
	}
	jsonDriverMu.Lock()
	currentJSONDriver = d
	jsonDriverMu.Unlock()
}

// UseDefaultJSONDriver restores the go-json driver.
func UseDefaultJSONDriver() { SetJSONDriver(goJSONDriver{}) }

// CurrentJSONDriver returns the driver in use.
func CurrentJSONDriver() JSONDriver {
	jsonDriverMu.RLock()
	defer jsonDriverMu.RUnlock()
	return currentJSONDriver
}

// DecodeJSON reads one JSON object from r.
func DecodeJSON(r io.Reader, opt DecodeOpt) (*Document, error) {
	return decodeTokens(CurrentJSONDriver().NewReader(r), opt)
}

// DecodeJSONBytes reads one JSON object from b.
func DecodeJSONBytes(b []byte, opt DecodeOpt) (*Document, error) {
	return decodeTokens(CurrentJSONDriver().NewBytes(b), opt)
}

func decodeTokens(src eng.TokenSource, opt DecodeOpt) (*Document, error) {
	// MaxBytes needs a driver that reports offsets.
	if g := guardOptions(opt); g.Enabled() {
		src = eng.Guard(src, g)
	}
	tok, err := src.NextToken()
	if err != nil {
		return nil, decodeFailure(err)
	}
	if tok.Kind != eng.KindBeginObject {
		return nil, Issues{{Path: "/", Code: CodeInvalidType, Message: "document root must be an object, got " + tok.Kind.String()}}
	}
	doc, err := readObject(src)
	if err != nil {
		return nil, decodeFailure(err)
	}
	if err := eng.ExpectEOF(src); err != nil {
		return nil, decodeFailure(err)
	}
	return doc, nil
}

func guardOptions(opt DecodeOpt) eng.GuardOptions {
	g := eng.GuardOptions{MaxDepth: opt.MaxDepth, MaxBytes: opt.MaxBytes}
	switch opt.Strictness.OnDuplicateKey {
	case Error:
		g.OnDuplicate = eng.DupError
	case Warn:
		g.OnDuplicate = eng.DupWarn
		if opt.OnWarning != nil {
			g.Warn = func(si eng.SimpleIssue) {
				opt.OnWarning(Issue{Path: si.Path, Code: si.Code, Message: si.Message})
			}
		}
	}
	return g
}

// decodeFailure maps engine errors onto Issues.
func decodeFailure(err error) error {
	var ie eng.IssueError
	if errors.As(err, &ie) {
		return Issues{{Path: ie.Path, Code: ie.Code, Message: ie.Message, Cause: err}}
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return Issues{{Path: "/", Code: CodeParseError, Message: err.Error(), Cause: err}}
}

func readValue(src eng.TokenSource, tok eng.Token) (any, error) {
	switch tok.Kind {
	case eng.KindBeginObject:
		return readObject(src)
	case eng.KindBeginArray:
		return readArray(src)
	case eng.KindString:
		return tok.String, nil
	case eng.KindNumber:
		return json.Number(tok.Number), nil
	case eng.KindBool:
		return tok.Bool, nil
	case eng.KindNull:
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected %s token", tok.Kind)
}

func readObject(src eng.TokenSource) (*Document, error) {
	d := NewDocument()
	for {
		tok, err := src.NextToken()
		if err != nil {
			return nil, err
		}
		if tok.Kind == eng.KindEndObject {
			return d, nil
		}
		if tok.Kind != eng.KindKey {
			return nil, fmt.Errorf("expected object key, got %s", tok.Kind)
		}
		vt, err := src.NextToken()
		if err != nil {
			return nil, err
		}
		v, err := readValue(src, vt)
		if err != nil {
			return nil, err
		}
		d.Set(tok.String, v)
	}
}

func readArray(src eng.TokenSource) ([]any, error) {
	arr := []any{}
	for {
		tok, err := src.NextToken()
		if err != nil {
			return nil, err
		}
		if tok.Kind == eng.KindEndArray {
			return arr, nil
		}
		v, err := readValue(src, tok)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
}

// DecodeYAML reads the first YAML document from r. Mapping order is kept and
// numbers become json.Number. Scalar mapping keys of any tag (1, true) are
// used as their literal text; sequence and mapping keys are rejected.
// Duplicate-key and depth limits from opt apply as for JSON. Alias cycles and
// alias expansion beyond a multiple of the input size are rejected.
func DecodeYAML(r io.Reader, opt DecodeOpt) (*Document, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, Issues{{Path: "/", Code: CodeParseError, Message: err.Error(), Cause: err}}
	}
	n := &root
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	n = resolveAlias(n)
	if n.Kind != yaml.MappingNode {
		return nil, Issues{{Path: "/", Code: CodeInvalidType, Message: "document root must be a mapping"}}
	}
	doc, err := newYAMLReader(&root, opt).mapping(n, "", 1)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DecodeYAMLBytes reads the first YAML document from b.
func DecodeYAMLBytes(b []byte, opt DecodeOpt) (*Document, error) {
	return DecodeYAML(bytes.NewReader(b), opt)
}

// DecodeFile reads a document from disk, choosing YAML for .yaml/.yml files
// and JSON otherwise.
func DecodeFile(path string, opt DecodeOpt) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if IsYAMLPath(path) {
		return DecodeYAML(f, opt)
	}
	return DecodeJSON(f, opt)
}

// IsYAMLPath reports whether path has a YAML extension.
func IsYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

type yamlReader struct {
	opt    DecodeOpt
	active map[*yaml.Node]bool // containers currently being expanded
	nodes  int
	budget int
}

// Alias expansion may visit at most this many nodes per node in the source
// tree, plus a fixed allowance for small documents.
const (
	yamlExpansionFactor = 64
	yamlExpansionFloor  = 10000
)

func newYAMLReader(root *yaml.Node, opt DecodeOpt) *yamlReader {
	return &yamlReader{
		opt:    opt,
		active: make(map[*yaml.Node]bool),
		budget: yamlExpansionFloor + yamlExpansionFactor*countYAMLNodes(root),
	}
}

// countYAMLNodes counts nodes without following aliases.
func countYAMLNodes(n *yaml.Node) int {
	c := 1
	for _, ch := range n.Content {
		c += countYAMLNodes(ch)
	}
	return c
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

// enter marks n as being expanded. It fails when n is already on the
// expansion stack or the node budget is spent.
func (y *yamlReader) enter(n *yaml.Node, path string) error {
	y.nodes++
	if y.nodes > y.budget {
		return Issues{{Path: pointerOrRoot(path), Code: CodeParseError, Message: "alias expansion exceeds limit"}}
	}
	if n.Kind != yaml.MappingNode && n.Kind != yaml.SequenceNode {
		return nil
	}
	if y.active[n] {
		return Issues{{Path: pointerOrRoot(path), Code: CodeParseError, Message: "alias cycle"}}
	}
	y.active[n] = true
	return nil
}

func (y *yamlReader) leave(n *yaml.Node) { delete(y.active, n) }

func (y *yamlReader) value(n *yaml.Node, path string, depth int) (any, error) {
	n = resolveAlias(n)
	switch n.Kind {
	case yaml.MappingNode:
		return y.mapping(n, path, depth+1)
	case yaml.SequenceNode:
		if y.opt.MaxDepth > 0 && depth+1 > y.opt.MaxDepth {
			return nil, Issues{{Path: path, Code: CodeParseError, Message: "max depth exceeded"}}
		}
		if err := y.enter(n, path); err != nil {
			return nil, err
		}
		defer y.leave(n)
		arr := make([]any, 0, len(n.Content))
		for i, c := range n.Content {
			v, err := y.value(c, fmt.Sprintf("%s/%d", path, i), depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case yaml.ScalarNode:
		if err := y.enter(n, path); err != nil {
			return nil, err
		}
		return yamlScalar(n)
	}
	return nil, Issues{{Path: pointerOrRoot(path), Code: CodeInvalidType, Message: "unsupported YAML node"}}
}

func (y *yamlReader) mapping(n *yaml.Node, path string, depth int) (*Document, error) {
	if y.opt.MaxDepth > 0 && depth > y.opt.MaxDepth {
		return nil, Issues{{Path: pointerOrRoot(path), Code: CodeParseError, Message: "max depth exceeded"}}
	}
	if err := y.enter(n, path); err != nil {
		return nil, err
	}
	defer y.leave(n)
	d := NewDocument()
	for i := 0; i+1 < len(n.Content); i += 2 {
		kn, vn := resolveAlias(n.Content[i]), n.Content[i+1]
		if kn.Tag == "!!merge" {
			if err := y.merge(d, vn, path, depth); err != nil {
				return nil, err
			}
			continue
		}
		if kn.Kind != yaml.ScalarNode {
			return nil, Issues{{Path: pointerOrRoot(path), Code: CodeInvalidType, Message: "mapping key must be a scalar"}}
		}
		key := kn.Value
		kp := path + "/" + EscapePointer(key)
		if d.Has(key) {
			switch y.opt.Strictness.OnDuplicateKey {
			case Error:
				return nil, Issues{{Path: kp, Code: CodeDuplicateKey, Message: "key '" + key + "' duplicated"}}
			case Warn:
				if y.opt.OnWarning != nil {
					y.opt.OnWarning(Issue{Path: kp, Code: CodeDuplicateKey, Message: "key '" + key + "' duplicated"})
				}
			}
		}
		v, err := y.value(vn, kp, depth)
		if err != nil {
			return nil, err
		}
		d.Set(key, v)
	}
	return d, nil
}

// merge applies a YAML merge key; explicit keys already set win.
func (y *yamlReader) merge(dst *Document, n *yaml.Node, path string, depth int) error {
	n = resolveAlias(n)
	var sources []*yaml.Node
	switch n.Kind {
	case yaml.MappingNode:
		sources = []*yaml.Node{n}
	case yaml.SequenceNode:
		sources = n.Content
	default:
		return Issues{{Path: pointerOrRoot(path), Code: CodeInvalidType, Message: "merge value must be a mapping"}}
	}
	for _, s := range sources {
		v, err := y.value(s, path, depth-1)
		if err != nil {
			return err
		}
		m, ok := v.(*Document)
		if !ok {
			return Issues{{Path: pointerOrRoot(path), Code: CodeInvalidType, Message: "merge value must be a mapping"}}
		}
		m.Range(func(k string, v any) bool {
			if !dst.Has(k) {
				dst.Set(k, v)
			}
			return true
		})
	}
	return nil
}

func yamlScalar(n *yaml.Node) (any, error) {
	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return b, nil
	case "!!int", "!!float":
		var f any
		if err := n.Decode(&f); err != nil {
			return nil, err
		}
		return yamlNumber(f, n.Value)
	}
	return n.Value, nil
}

// yamlNumber normalises YAML numerics to json.Number. Forms JSON cannot carry
// (.inf, .nan, 0x1F) are rendered through their decoded value.
func yamlNumber(v any, literal string) (any, error) {
	if json.Valid([]byte(literal)) {
		return json.Number(literal), nil
	}
	switch t := v.(type) {
	case int:
		return json.Number(fmt.Sprint(t)), nil
	case int64:
		return json.Number(fmt.Sprint(t)), nil
	case uint64:
		return json.Number(fmt.Sprint(t)), nil
	case float64:
		b, err := json.Marshal(t)
		if err != nil {
			// NaN and infinities have no JSON form; keep the YAML text.
			return literal, nil
		}
		return json.Number(b), nil
	}
	return literal, nil
}

// EscapePointer escapes a JSON Pointer reference token.
func EscapePointer(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}

func pointerOrRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
