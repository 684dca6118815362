package calendar

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrEmptyKeySet is returned when both pools are empty, leaving nothing to
// take a header and footer from.
var ErrEmptyKeySet = errors.New("calendar: no calendars to merge")

// Pool maps a period key (e.g. "Y2017M01") to raw calendar text.
type Pool map[string]string

// Keys returns the pool's keys in ascending order.
func (p Pool) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// MergeResult is the outcome of Merge.
type MergeResult struct {
	Document Document
	// Keys is the sorted union of both pools.
	Keys []string
	// Persist lists, in key order, every key taken from the fetched pool.
	// The caller is expected to write those back to its cache.
	Persist []string
	// HeaderKey is the key whose header and footer wrap the merged body.
	HeaderKey string
}

// Merge combines one calendar per key from fetched and cached into a single
// document. A fetched calendar always replaces the cached one for the same
// key, even when the two are identical. Header and footer come from the
// greatest key; bodies are concatenated in ascending key order. Any
// malformed calendar fails the whole merge.
func (g *Grammar) Merge(fetched, cached Pool) (MergeResult, error) {
	keys := unionKeys(fetched, cached)
	if len(keys) == 0 {
		return MergeResult{}, ErrEmptyKeySet
	}

	var persist []string
	bodies := make([]string, 0, len(keys))
	var last Document

	for _, key := range keys {
		text, ok := fetched[key]
		if ok {
			persist = append(persist, key)
		} else {
			text = cached[key]
		}

		doc, err := g.Parse(text)
		if err != nil {
			return MergeResult{}, fmt.Errorf("calendar %s: %w", key, err)
		}
		bodies = append(bodies, doc.Body())
		last = doc
	}

	merged, err := g.Compose(last.Header(), strings.Join(bodies, "\n"), last.Footer())
	if err != nil {
		return MergeResult{}, fmt.Errorf("merged calendar: %w", err)
	}

	return MergeResult{
		Document:  merged,
		Keys:      keys,
		Persist:   persist,
		HeaderKey: keys[len(keys)-1],
	}, nil
}

func unionKeys(a, b Pool) []string {
	all := make(Pool, len(a)+len(b))
	for k := range b {
		all[k] = ""
	}
	for k := range a {
		all[k] = ""
	}
	return all.Keys()
}
