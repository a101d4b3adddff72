// Package matcher evaluates logical queries (must/any/none atoms) against
// record text and extracts match positions, following the literal/regex,
// case-sensitivity, and whole-word semantics of the search spec.
//
// The Fields interface below plays the same decoupling role as the
// teacher's nanoql eval.go LogRecord interface: the matcher only knows
// how to pull a string out of whatever it's given, not what a record is.
package matcher

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/coffersTech/logsearchd/internal/model"
	"github.com/coffersTech/logsearchd/internal/searcherr"
)

// MaxMatchPositions caps the spans collected per record (Open Question
// decision, see DESIGN.md).
const MaxMatchPositions = 256

// Matcher evaluates LogicalQuery atoms, caching compiled regexes.
type Matcher struct {
	cache        *regexCache
	regexTimeout time.Duration
}

// New builds a Matcher with the given regex LRU cache size and per-pattern
// compile timeout. Regex evaluation against a record is not timed.
func New(cacheSize int, regexTimeout time.Duration) *Matcher {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	if regexTimeout <= 0 {
		regexTimeout = 200 * time.Millisecond
	}
	return &Matcher{cache: newRegexCache(cacheSize), regexTimeout: regexTimeout}
}

// Matches reports whether text satisfies query's must/any/none atoms, and
// how many atom evaluations were skipped due to a regex compile timeout (spec
// §4.4/§4.5's per-query regex_timeouts counter).
func (m *Matcher) Matches(text string, query model.LogicalQuery) (matched bool, regexTimeouts int) {
	if query.Empty() {
		return true, 0
	}
	// None-atoms are cheapest to reject on, so they run first and skip the
	// rest of the evaluation as soon as one matches.
	for _, q := range query.None {
		ok, timedOut := m.singleMatch(text, q)
		if timedOut {
			regexTimeouts++
		}
		if ok {
			return false, regexTimeouts
		}
	}
	for _, q := range query.Must {
		ok, timedOut := m.singleMatch(text, q)
		if timedOut {
			regexTimeouts++
		}
		if !ok {
			return false, regexTimeouts
		}
	}
	if len(query.Any) > 0 {
		any := false
		for _, q := range query.Any {
			ok, timedOut := m.singleMatch(text, q)
			if timedOut {
				regexTimeouts++
			}
			if ok {
				any = true
				break
			}
		}
		if !any {
			return false, regexTimeouts
		}
	}
	return true, regexTimeouts
}

// singleMatch evaluates one atom, reporting whether the regex compile
// guard timed out (the record is then treated as skipped for this atom
// per spec §4.4, not as a silent non-match).
func (m *Matcher) singleMatch(text string, q model.SearchQuery) (matched bool, timedOut bool) {
	if q.Query == "" {
		return true, false
	}
	if q.Regex {
		re, err := m.CompileGuarded(context.Background(), q.Query, q.CaseSensitive)
		if err != nil {
			return false, searcherr.KindOf(err) == searcherr.RegexTimeout
		}
		return re.MatchString(text), false
	}
	if q.WholeWord {
		re, err := m.CompileGuarded(context.Background(), `\b`+regexp.QuoteMeta(q.Query)+`\b`, q.CaseSensitive)
		if err != nil {
			return false, searcherr.KindOf(err) == searcherr.RegexTimeout
		}
		return re.MatchString(text), false
	}
	if q.CaseSensitive {
		return strings.Contains(text, q.Query), false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(q.Query)), false
}

// FindPositions returns the match spans of a single atom within text,
// soft-capped at MaxMatchPositions; truncated reports how many spans were
// dropped past the cap.
func (m *Matcher) FindPositions(text string, q model.SearchQuery) (positions []model.MatchPosition, truncated int) {
	if q.Query == "" {
		return nil, 0
	}

	if q.Regex {
		re, err := m.CompileGuarded(context.Background(), q.Query, q.CaseSensitive)
		if err != nil {
			return nil, 0
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if len(positions) >= MaxMatchPositions {
				truncated++
				continue
			}
			positions = append(positions, model.MatchPosition{Offset: loc[0], Length: loc[1] - loc[0]})
		}
		return positions, truncated
	}

	haystack, keyword := text, q.Query
	if !q.CaseSensitive {
		haystack, keyword = strings.ToLower(text), strings.ToLower(q.Query)
	}

	if q.WholeWord {
		bytes := []byte(haystack)
		needle := []byte(keyword)
		for idx := 0; idx+len(needle) <= len(bytes); idx++ {
			if string(bytes[idx:idx+len(needle)]) != string(needle) {
				continue
			}
			beforeOK := idx == 0 || !isWordByte(bytes[idx-1])
			afterOK := idx+len(needle) == len(bytes) || !isWordByte(bytes[idx+len(needle)])
			if beforeOK && afterOK {
				if len(positions) >= MaxMatchPositions {
					truncated++
					continue
				}
				positions = append(positions, model.MatchPosition{Offset: idx, Length: len(needle)})
			}
		}
		return positions, truncated
	}

	start := 0
	for {
		idx := strings.Index(haystack[start:], keyword)
		if idx < 0 {
			break
		}
		abs := start + idx
		if len(positions) >= MaxMatchPositions {
			truncated++
		} else {
			positions = append(positions, model.MatchPosition{Offset: abs, Length: len(keyword)})
		}
		start = abs + len(keyword)
	}
	return positions, truncated
}

// MergePositions combines the per-atom spans collected across every atom
// matching a single record into the one record-level postcondition spec.md
// §3/§4.4 require: sorted ascending by offset, with identical (offset,
// length) spans from different atoms collapsed to one. Per-atom capping
// (MaxMatchPositions) already happened in FindPositions; this only sorts
// and de-duplicates what survived that cap.
func MergePositions(positions []model.MatchPosition) []model.MatchPosition {
	if len(positions) < 2 {
		return positions
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Offset != positions[j].Offset {
			return positions[i].Offset < positions[j].Offset
		}
		return positions[i].Length < positions[j].Length
	})
	out := positions[:1]
	for _, p := range positions[1:] {
		last := out[len(out)-1]
		if p.Offset == last.Offset && p.Length == last.Length {
			continue
		}
		out = append(out, p)
	}
	return out
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// CompileGuarded compiles pattern with a bounded timeout so a pathological
// regex can't stall the whole search (ReDoS protection, spec §7
// regex_timeout). Evaluation of a compiled Go regexp is linear-time (RE2
// semantics), so the timeout only guards the compile step itself, which is
// the one place user-controlled complexity is unbounded.
func (m *Matcher) CompileGuarded(ctx context.Context, pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	if re, ok := m.cache.get(pattern, caseSensitive); ok {
		return re, nil
	}

	type result struct {
		re  *regexp.Regexp
		err error
	}
	done := make(chan result, 1)
	go func() {
		re, err := m.cache.compile(pattern, caseSensitive)
		done <- result{re, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, searcherr.Wrap(searcherr.RegexInvalid, r.err, "invalid regex %q", pattern)
		}
		return r.re, nil
	case <-time.After(m.regexTimeout):
		return nil, searcherr.New(searcherr.RegexTimeout, "regex compile exceeded %s: %q", m.regexTimeout, pattern)
	case <-ctx.Done():
		return nil, searcherr.Wrap(searcherr.DeadlineHit, ctx.Err(), "regex compile cancelled")
	}
}
