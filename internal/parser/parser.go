// Package parser aggregates decoded lines into multiline records: a
// record starts at a line matching startRegex (or every line is its own
// record when no pattern is configured) and continues until the next
// start match or end of stream.
package parser

import (
	"regexp"

	"github.com/coffersTech/logsearchd/internal/model"
)

// RecordFunc is invoked once per assembled record; returning true stops
// further aggregation.
type RecordFunc func(model.Record) (stop bool)

// Aggregator buffers lines into multiline records per startPattern.
type Aggregator struct {
	start *regexp.Regexp

	buf          []string
	bufSeps      []string // bufSeps[i] is the delimiter between buf[i] and buf[i+1]
	bufLineNo    int
	bufEndLine   int
	bufOffset    int64
	bufEndOffset int64 // byte offset where the buffered record's last line ends
	have         bool
	lastSep      string // delimiter that terminated the most recently fed line
}

// New builds an Aggregator. An empty startPattern means every line is its
// own record.
func New(startPattern string) (*Aggregator, error) {
	a := &Aggregator{}
	if startPattern == "" {
		return a, nil
	}
	re, err := regexp.Compile(startPattern)
	if err != nil {
		return nil, err
	}
	a.start = re
	return a, nil
}

// Feed processes one decoded line, along with its starting byteOffset,
// the stream offset where the next line begins (nextOffset), and sep —
// the original line-ending delimiter the reader stripped off it,
// reattached on join so a multiline record preserves its source file's
// line-ending style (spec's Reader/Parser boundary contract). It calls
// emit with a completed record whenever the buffered record closes (a new
// start match arrives). It does not emit the record currently being
// buffered.
func (a *Aggregator) Feed(lineNo int, byteOffset int64, nextOffset int64, line string, sep string, emit RecordFunc) (stop bool) {
	if a.start == nil {
		return emit(model.Record{LineNumber: lineNo, EndLineNumber: lineNo, ByteOffset: byteOffset, EndByteOffset: nextOffset, Content: line})
	}

	if a.start.MatchString(line) {
		if a.have {
			if a.flush(emit) {
				return true
			}
		}
		a.buf = []string{line}
		a.bufSeps = nil
		a.bufLineNo = lineNo
		a.bufEndLine = lineNo
		a.bufOffset = byteOffset
		a.bufEndOffset = nextOffset
		a.have = true
		a.lastSep = sep
		return false
	}

	if !a.have {
		// No start match seen yet; treat a leading non-matching line as
		// the start of its own record so nothing is silently dropped.
		a.buf = []string{line}
		a.bufSeps = nil
		a.bufLineNo = lineNo
		a.bufEndLine = lineNo
		a.bufOffset = byteOffset
		a.bufEndOffset = nextOffset
		a.have = true
		a.lastSep = sep
		return false
	}

	a.bufSeps = append(a.bufSeps, a.lastSep)
	a.buf = append(a.buf, line)
	a.bufEndLine = lineNo
	a.bufEndOffset = nextOffset
	a.lastSep = sep
	return false
}

// Flush emits whatever record is currently buffered, if any. Call this
// once after the last Feed for a file.
func (a *Aggregator) Flush(emit RecordFunc) (stop bool) {
	if a.start == nil || !a.have {
		return false
	}
	return a.flush(emit)
}

func (a *Aggregator) flush(emit RecordFunc) bool {
	content := joinLines(a.buf, a.bufSeps)
	rec := model.Record{LineNumber: a.bufLineNo, EndLineNumber: a.bufEndLine, ByteOffset: a.bufOffset, EndByteOffset: a.bufEndOffset, Content: content}
	a.have = false
	a.buf = nil
	a.bufSeps = nil
	return emit(rec)
}

// joinLines reassembles a multiline record's buffered lines using each
// line's own original delimiter (seps[i] between lines[i] and
// lines[i+1]), falling back to '\n' only if a delimiter was somehow never
// recorded.
func joinLines(lines []string, seps []string) string {
	if len(lines) == 1 {
		return lines[0]
	}
	total := 0
	for _, l := range lines {
		total += len(l)
	}
	for _, s := range seps {
		total += len(s)
	}
	out := make([]byte, 0, total+len(lines))
	for i, l := range lines {
		if i > 0 {
			sep := "\n"
			if i-1 < len(seps) && seps[i-1] != "" {
				sep = seps[i-1]
			}
			out = append(out, sep...)
		}
		out = append(out, l...)
	}
	return string(out)
}
