// Package calendar splits ICS text into header, body and footer and merges
// period exports into a single calendar.
//
// The structural markers are configuration, not code: exports from different
// sources (or locales) may close their prologue with a different component.
package calendar

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrMalformedDocument is returned when text does not satisfy the
	// header/body/footer grammar.
	ErrMalformedDocument = errors.New("calendar: malformed document")

	// ErrInvalidMarkers is returned by NewGrammar for unusable markers.
	ErrInvalidMarkers = errors.New("calendar: invalid grammar markers")
)

// Markers describes the structural lines of a calendar export.
type Markers struct {
	// Open starts the document, e.g. BEGIN:VCALENDAR.
	Open string `yaml:"open" json:"open"`
	// PrologueEnd is the last structural marker before the first entry,
	// e.g. END:VTIMEZONE. The header runs up to and including it.
	PrologueEnd string `yaml:"prologue_end" json:"prologue_end"`
	// EntryBegin / EntryEnd delimit one repeatable body entry.
	EntryBegin string `yaml:"entry_begin" json:"entry_begin"`
	EntryEnd   string `yaml:"entry_end" json:"entry_end"`
	// Close ends the document, e.g. END:VCALENDAR.
	Close string `yaml:"close" json:"close"`

	// Pattern, if set, replaces the marker-derived expression. It must have
	// exactly three capture groups (header, body, footer) and is matched
	// against the whole text.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// DefaultMarkers returns the markers of a plain iCalendar export whose
// timezone definitions precede the events.
func DefaultMarkers() Markers {
	return Markers{
		Open:        "BEGIN:VCALENDAR",
		PrologueEnd: "END:VTIMEZONE",
		EntryBegin:  "BEGIN:VEVENT",
		EntryEnd:    "END:VEVENT",
		Close:       "END:VCALENDAR",
	}
}

// Grammar is a compiled set of markers. It is immutable and safe for
// concurrent use.
type Grammar struct {
	re *regexp.Regexp
}

// NewGrammar compiles markers into a grammar.
func NewGrammar(m Markers) (*Grammar, error) {
	expr := m.Pattern
	if expr == "" {
		for name, v := range map[string]string{
			"open":         m.Open,
			"prologue_end": m.PrologueEnd,
			"entry_begin":  m.EntryBegin,
			"entry_end":    m.EntryEnd,
			"close":        m.Close,
		} {
			if strings.TrimSpace(v) == "" {
				return nil, fmt.Errorf("%w: %s is empty", ErrInvalidMarkers, name)
			}
		}
		expr = markerExpr(m)
	} else {
		// Whole-text match regardless of how the pattern was written.
		expr = `(?s)\A(?:` + expr + `)\z`
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarkers, err)
	}
	if re.NumSubexp() != 3 {
		return nil, fmt.Errorf("%w: pattern needs 3 capture groups, has %d", ErrInvalidMarkers, re.NumSubexp())
	}
	return &Grammar{re: re}, nil
}

// MustGrammar is NewGrammar for markers known to be valid.
func MustGrammar(m Markers) *Grammar {
	g, err := NewGrammar(m)
	if err != nil {
		panic(err)
	}
	return g
}

// markerExpr builds
//
//	\A (OPEN .*? PROLOGUE_END) [\r\n]* (ENTRY ([\r\n]+ ENTRY)*)? [\r\n]* (CLOSE \s*) \z
//
// with ENTRY = ENTRY_BEGIN .*? ENTRY_END and dot matching newlines.
func markerExpr(m Markers) string {
	q := regexp.QuoteMeta
	entry := q(m.EntryBegin) + `.*?` + q(m.EntryEnd)
	return `(?s)\A` +
		`(` + q(m.Open) + `.*?` + q(m.PrologueEnd) + `)` +
		`[\r\n]*` +
		`((?:` + entry + `(?:[\r\n]+` + entry + `)*)?)` +
		`[\r\n]*` +
		`(` + q(m.Close) + `\s*)` +
		`\z`
}

// Valid reports whether text satisfies the grammar.
func (g *Grammar) Valid(text string) bool {
	return g.re.MatchString(text)
}

// Parse splits text into header, body and footer. The whole text must match.
func (g *Grammar) Parse(text string) (Document, error) {
	sub := g.re.FindStringSubmatch(text)
	if sub == nil {
		return Document{}, ErrMalformedDocument
	}
	return Document{
		header: sub[1],
		body:   sub[2],
		footer: sub[3],
		text:   text,
	}, nil
}

// Compose joins header, body and footer with newlines and parses the result,
// so parts taken from unrelated documents are rejected.
func (g *Grammar) Compose(header, body, footer string) (Document, error) {
	return g.Parse(header + "\n" + body + "\n" + footer)
}
