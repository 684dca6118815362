// Package charset recovers the text encoding of a byte stream by brute force.
//
// Frequency-based sniffers guess badly on ICS exports (UTF-16 without a BOM
// is the usual victim), so instead every candidate encoding is tried in a
// fixed order until the decoded text contains all of the caller's hints.
// Knowing roughly what the document must contain is the price for a
// deterministic answer.
package charset

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// ErrNoEncodingMatched is returned when no candidate decodes the input into a
// text containing every hint.
var ErrNoEncodingMatched = errors.New("charset: no encoding matched")

// Candidate is one encoding in the trial order.
type Candidate struct {
	// Name is the preferred MIME name, else the IANA name.
	Name string
	enc  encoding.Encoding
}

// Decode decodes data without ever failing. Invalid sequences become U+FFFD;
// if the decoder gives up, the output produced so far is kept.
func (c Candidate) Decode(data []byte) string {
	out, _, err := transform.Bytes(c.enc.NewDecoder(), data)
	if err != nil && out == nil {
		return ""
	}
	return string(out)
}

// Match is a successful detection.
type Match struct {
	Charset string
	Text    string
}

// Detector holds the ordered, de-duplicated candidate table. It is immutable
// and safe for concurrent use.
type Detector struct {
	candidates []Candidate
}

// NewDetector builds the trial order: priority names first, then the
// platform default, then the common charsets, then everything else the
// platform supports. An unknown priority name is an error.
func NewDetector(priority ...string) (*Detector, error) {
	var ordered []Candidate
	seen := make(map[string]bool)
	add := func(c Candidate) {
		key := strings.ToLower(c.Name)
		if seen[key] {
			return
		}
		seen[key] = true
		ordered = append(ordered, c)
	}

	for _, name := range priority {
		c, ok := lookup(name)
		if !ok {
			return nil, fmt.Errorf("charset: unsupported priority charset %q", name)
		}
		add(c)
	}

	if c, ok := lookup(platformDefault()); ok {
		add(c)
	} else {
		add(mustLookup("UTF-8"))
	}

	for _, name := range commonCharsets {
		if c, ok := lookup(name); ok {
			add(c)
		}
	}

	for _, c := range remaining() {
		add(c)
	}

	return &Detector{candidates: ordered}, nil
}

// Candidates returns the trial order by name.
func (d *Detector) Candidates() []string {
	names := make([]string, len(d.candidates))
	for i, c := range d.candidates {
		names[i] = c.Name
	}
	return names
}

// Detect returns the first candidate whose decoding of data contains every
// hint, together with that decoding.
func (d *Detector) Detect(data []byte, hints ...string) (Match, error) {
	for _, c := range d.candidates {
		probe := c.Decode(data)
		if containsAll(probe, hints) {
			return Match{Charset: c.Name, Text: probe}, nil
		}
	}
	return Match{}, ErrNoEncodingMatched
}

// DetectParallel probes candidates on up to workers goroutines. The answer
// is the same as Detect: the earliest matching candidate in trial order wins,
// whichever probe finishes first.
func (d *Detector) DetectParallel(data []byte, workers int, hints ...string) (Match, error) {
	if workers <= 1 {
		return d.Detect(data, hints...)
	}

	probes := make([]string, len(d.candidates))
	matched := make([]bool, len(d.candidates))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, c := range d.candidates {
		i, c := i, c
		g.Go(func() error {
			probe := c.Decode(data)
			if containsAll(probe, hints) {
				probes[i] = probe
				matched[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, ok := range matched {
		if ok {
			return Match{Charset: d.candidates[i].Name, Text: probes[i]}, nil
		}
	}
	return Match{}, ErrNoEncodingMatched
}

// containsAll checks hints in order and stops at the first one missing.
func containsAll(s string, hints []string) bool {
	for _, h := range hints {
		if !strings.Contains(s, h) {
			return false
		}
	}
	return true
}
