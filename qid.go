package jetstream

import "regexp"

// Qid is a routing key: either a literal byte string compared by equality,
// or a compiled pattern matched against a candidate literal (§9's design
// note: "replace the string-or-object-with-.match duck typing by a tagged
// variant Qid = Literal(bytes) | Pattern(compiled-regex)").
type Qid interface {
	// key returns the stable map key used to store this Qid in the
	// subscription table: the literal string itself, or the pattern's
	// source prefixed with "re:" so two subscriptions on the same pattern text collapse onto
	// one table entry exactly as Python's dict keyed by regex source does.
	key() string
	// matches reports whether this Qid selects the literal target qid.
	matches(target string) bool
	// isPattern reports the SUBSCRIBE/UNSUBSCRIBE wire flag bit.
	isPattern() bool
	// bytes returns the wire representation: the literal bytes, or the
	// pattern source text.
	bytes() string
}

// Literal is a Qid matched by exact byte equality.
type Literal string

func (l Literal) key() string        { return string(l) }
func (l Literal) matches(t string) bool { return string(l) == t }
func (l Literal) isPattern() bool    { return false }
func (l Literal) bytes() string      { return string(l) }

// Pattern is a Qid matched by an anchored regular expression, mirroring the
// source's use of re.compile(qid).match (anchored at the start).
type Pattern struct {
	re *regexp.Regexp
}

// NewPattern compiles src as an anchored-match pattern Qid. src is used
// as-is as the regexp source; callers wanting "contains" semantics should
// write an explicit ".*" themselves, matching Python's re.match semantics
// (anchored at position 0, not forced to consume the whole string).
func NewPattern(src string) (Pattern, error) {
	re, err := regexp.Compile(src)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{re: re}, nil
}

func (p Pattern) key() string        { return "re:" + p.re.String() }
func (p Pattern) matches(t string) bool { return matchAnchored(p.re, t) }
func (p Pattern) isPattern() bool    { return true }
func (p Pattern) bytes() string      { return p.re.String() }

// matchAnchored reproduces Python's re.match: the pattern must match
// starting at position 0, but need not consume the whole string.
func matchAnchored(re *regexp.Regexp, s string) bool {
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}
