// Package timefilter extracts a timestamp from record text via a
// configurable regex and checks it against a window, following
// original_source/src/query.rs's apply_time_filter parse cascade.
package timefilter

import (
	"regexp"
	"strings"
	"time"

	"github.com/coffersTech/logsearchd/internal/model"
)

// DefaultRegex matches RFC3339-ish timestamps, the common case when
// callers don't supply their own.
const DefaultRegex = `\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?Z?`

var layouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
}

// Compiled is a TimeFilter with its regex pre-compiled for reuse across
// records of a single search.
type Compiled struct {
	Start           *time.Time
	End             *time.Time
	Regex           *regexp.Regexp
	DriftTolerance  time.Duration
}

// Compile validates and compiles a TimeFilter. A nil filter compiles to a
// pass-through.
func Compile(tf *model.TimeFilter) (*Compiled, error) {
	if tf == nil {
		return nil, nil
	}
	pattern := tf.Regex
	if pattern == "" {
		pattern = DefaultRegex
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Compiled{
		Start:          tf.Start,
		End:            tf.End,
		Regex:          re,
		DriftTolerance: time.Duration(tf.DriftToleranceS) * time.Second,
	}, nil
}

// Allows reports whether text's embedded timestamp falls within the
// filter's window (drift-tolerant).
//
// A nil filter or a record with no timestamp match always passes. A
// record whose ts_regex matched but failed to parse is timestamp-less
// and is excluded only when both bounds are set (spec §4.5) — with one
// bound open there is nothing to exclude it from, so it passes.
func (c *Compiled) Allows(text string) bool {
	if c == nil {
		return true
	}
	match := c.Regex.FindString(text)
	if match == "" {
		return true
	}
	ts, ok := parseCascade(match)
	if !ok {
		return c.Start == nil || c.End == nil
	}
	if c.Start != nil && ts.Before(c.Start.Add(-c.DriftTolerance)) {
		return false
	}
	if c.End != nil && ts.After(c.End.Add(c.DriftTolerance)) {
		return false
	}
	return true
}

// Extract pulls and parses the first timestamp match out of text.
func (c *Compiled) Extract(text string) (time.Time, bool) {
	if c == nil || c.Regex == nil {
		return time.Time{}, false
	}
	match := c.Regex.FindString(text)
	if match == "" {
		return time.Time{}, false
	}
	return parseCascade(match)
}

// parseCascade tries RFC3339 first, then the common log formats, then a
// T-to-space normalized retry of those, mirroring query.rs exactly.
func parseCascade(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range layouts[2:] {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	normalized := strings.Replace(s, "T", " ", 1)
	for _, layout := range layouts[2:] {
		if t, err := time.Parse(layout, normalized); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
