package engine

import (
	"strconv"
	"strings"
)

// DuplicateStrictness controls how repeated object keys are reported.
type DuplicateStrictness int

const (
	DupIgnore DuplicateStrictness = iota
	DupWarn
	DupError
)

// Issue codes emitted by the guard. The root package re-exports them.
const (
	CodeDuplicateKey = "duplicate_key"
	CodeParseError   = "parse_error"
	CodeTruncated    = "truncated"
)

// SimpleIssue is the lightweight issue shape emitted by the guard.
type SimpleIssue struct {
	Code    string
	Path    string
	Message string
}

// IssueError carries a SimpleIssue as an error.
type IssueError struct{ SimpleIssue }

func (e IssueError) Error() string { return e.SimpleIssue.Message }

// GuardOptions configures Guard.
type GuardOptions struct {
	OnDuplicate DuplicateStrictness
	// MaxDepth limits container nesting; 0 disables the check.
	MaxDepth int
	// MaxBytes limits consumed input when the driver reports offsets; 0 disables it.
	MaxBytes int64
	// Warn receives DupWarn issues. Nil drops them.
	Warn func(SimpleIssue)
}

// Enabled reports whether any check is switched on.
func (o GuardOptions) Enabled() bool {
	return o.OnDuplicate != DupIgnore || o.MaxDepth > 0 || o.MaxBytes > 0
}

type frame struct {
	array   bool
	path    string
	keys    map[string]struct{}
	pending string
	index   int
}

// Guard wraps a TokenSource and enforces duplicate-key, depth and size limits
// while tokens stream through it. Issue paths are JSON Pointers.
func Guard(inner TokenSource, opt GuardOptions) TokenSource {
	return &guard{inner: inner, opt: opt}
}

type guard struct {
	inner TokenSource
	opt   GuardOptions
	stack []*frame
}

func (g *guard) Location() int64 { return g.inner.Location() }

func (g *guard) NextToken() (Token, error) {
	tok, err := g.inner.NextToken()
	if err != nil {
		return Token{}, err
	}
	if g.opt.MaxBytes > 0 {
		if off := g.inner.Location(); off > g.opt.MaxBytes {
			return Token{}, IssueError{SimpleIssue{Code: CodeTruncated, Path: g.valuePath(), Message: "max bytes exceeded"}}
		}
	}

	switch tok.Kind {
	case KindBeginObject, KindBeginArray:
		p := g.valuePath()
		g.advance()
		f := &frame{array: tok.Kind == KindBeginArray, path: p}
		if !f.array {
			f.keys = make(map[string]struct{})
		}
		g.stack = append(g.stack, f)
		if g.opt.MaxDepth > 0 && len(g.stack) > g.opt.MaxDepth {
			return Token{}, IssueError{SimpleIssue{Code: CodeParseError, Path: pointerOrRoot(p), Message: "max depth exceeded"}}
		}
	case KindEndObject, KindEndArray:
		if n := len(g.stack); n > 0 {
			g.stack = g.stack[:n-1]
		}
	case KindKey:
		if n := len(g.stack); n > 0 {
			top := g.stack[n-1]
			if _, seen := top.keys[tok.String]; seen && g.opt.OnDuplicate != DupIgnore {
				si := SimpleIssue{
					Code:    CodeDuplicateKey,
					Path:    joinPointer(top.path, tok.String),
					Message: "key '" + tok.String + "' duplicated",
				}
				if g.opt.OnDuplicate == DupError {
					return Token{}, IssueError{si}
				}
				if g.opt.Warn != nil {
					g.opt.Warn(si)
				}
			}
			top.keys[tok.String] = struct{}{}
			top.pending = tok.String
		}
	default:
		g.advance()
	}
	return tok, nil
}

// valuePath is the pointer of the value about to be read.
func (g *guard) valuePath() string {
	n := len(g.stack)
	if n == 0 {
		return ""
	}
	top := g.stack[n-1]
	if top.array {
		return joinPointer(top.path, strconv.Itoa(top.index))
	}
	return joinPointer(top.path, top.pending)
}

// advance moves the enclosing array index past the current value.
func (g *guard) advance() {
	if n := len(g.stack); n > 0 && g.stack[n-1].array {
		g.stack[n-1].index++
	}
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func joinPointer(base, token string) string {
	return base + "/" + pointerEscaper.Replace(token)
}

func pointerOrRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
