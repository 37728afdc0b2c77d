package apimeta

// Severity expresses how a decode-time finding is treated.
type Severity int

const (
	Ignore Severity = iota
	Warn
	Error
)

// Strictness configures duplicate-key handling while decoding.
type Strictness struct {
	OnDuplicateKey Severity
}

// DecodeOpt bundles decoding options. The zero value decodes leniently: a
// duplicated key keeps its last value and there is no depth or size limit.
type DecodeOpt struct {
	Strictness Strictness
	MaxDepth   int
	MaxBytes   int64
	// OnWarning receives Warn-level issues.
	OnWarning func(Issue)
}

// StrictDecodeOpt rejects duplicate keys and caps nesting at 64 levels; the
// HTTP service decodes request bodies with it.
func StrictDecodeOpt() DecodeOpt {
	return DecodeOpt{
		Strictness: Strictness{OnDuplicateKey: Error},
		MaxDepth:   64,
	}
}
