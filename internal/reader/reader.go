// Package reader streams decoded text lines from a (possibly gzip
// compressed, possibly non-UTF-8) log file.
package reader

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/coffersTech/logsearchd/internal/logging"
)

var log = logging.ForComponent("reader")

// Options controls truncation and size-warning thresholds.
type Options struct {
	MaxLineBytes    int // 0 means no limit
	LargeFileWarnMB int // 0 disables the warning
}

// LineFunc is called once per decoded line (boundary already stripped),
// with its 1-based line number, starting byte offset within the
// decompressed stream, the byte offset where the next line begins
// (nextOffset — true even when line was cut short at MaxLineBytes, since
// it reflects the underlying stream position rather than the truncated
// string), whether it was cut short at MaxLineBytes, and the original
// line-ending delimiter that terminated it ("\n", "\r\n", "\r", or "" for
// a final line with no trailing delimiter).
type LineFunc func(lineNo int, byteOffset int64, nextOffset int64, line string, truncated bool, sep string) (stop bool)

// Open opens path (transparently gunzipping .gz files), detects its text
// encoding, and streams decoded lines to fn until fn requests a stop, EOF,
// or an error occurs.
func Open(path string, opts Options, fn LineFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reader: open %s: %w", path, err)
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil && opts.LargeFileWarnMB > 0 {
		if fi.Size() > int64(opts.LargeFileWarnMB)<<20 {
			log.Warn("large log file", "path", path, "size_bytes", fi.Size())
		}
	}

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("reader: gunzip %s: %w", path, err)
		}
		defer gz.Close()
		src = gz
	}

	decoded, err := decodeStream(src)
	if err != nil {
		return fmt.Errorf("reader: decode %s: %w", path, err)
	}

	return streamLines(decoded, opts, fn)
}

// decodeStream peeks the BOM and wraps the reader with the appropriate
// text decoder; invalid UTF-8 falls back to GBK, mirroring
// original_source/src/reader.rs's BOM-then-fallback cascade.
func decodeStream(r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	peek, _ := br.Peek(4)

	switch {
	case bytes.HasPrefix(peek, []byte{0xEF, 0xBB, 0xBF}):
		br.Discard(3)
		return br, nil
	case bytes.HasPrefix(peek, []byte{0xFF, 0xFE}):
		br.Discard(2)
		return transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()), nil
	case bytes.HasPrefix(peek, []byte{0xFE, 0xFF}):
		br.Discard(2)
		return transform.NewReader(br, unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()), nil
	}

	// No BOM: sniff a chunk for UTF-8 validity; fall back to GBK.
	sniff, _ := br.Peek(4096)
	if utf8Valid(sniff) {
		return br, nil
	}
	return transform.NewReader(br, simplifiedchinese.GBK.NewDecoder()), nil
}

// truncateAtRuneBoundary cuts s to at most n bytes without splitting a
// multi-byte UTF-8 rune in half.
func truncateAtRuneBoundary(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Valid(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 {
			return false
		}
		b = b[size:]
	}
	return true
}

// streamLines scans decoded for \n, \r\n, or \r line boundaries, invoking
// fn with each line (boundary stripped) truncated to opts.MaxLineBytes.
func streamLines(decoded io.Reader, opts Options, fn LineFunc) error {
	br := bufio.NewReaderSize(decoded, 64*1024)
	var (
		lineNo     int
		byteOffset int64
		buf        bytes.Buffer
	)

	// flush emits the buffered line starting at lineStart, then advances
	// byteOffset past the line content plus the delimiter's byte length.
	flush := func(lineStart int64, delim string) bool {
		lineNo++
		line := buf.String()
		contentLen := int64(buf.Len())
		truncated := false
		if opts.MaxLineBytes > 0 && len(line) > opts.MaxLineBytes {
			line = truncateAtRuneBoundary(line, opts.MaxLineBytes)
			truncated = true
		}
		buf.Reset()
		byteOffset = lineStart + contentLen + int64(len(delim))
		return fn(lineNo, lineStart, byteOffset, line, truncated, delim)
	}

	lineStart := byteOffset
	for {
		b, err := br.ReadByte()
		if err != nil {
			if buf.Len() > 0 {
				flush(lineStart, "")
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reader: read: %w", err)
		}

		switch b {
		case '\n':
			stop := flush(lineStart, "\n")
			lineStart = byteOffset
			if stop {
				return nil
			}
		case '\r':
			next, peekErr := br.Peek(1)
			delim := "\r"
			if peekErr == nil && len(next) == 1 && next[0] == '\n' {
				br.ReadByte()
				delim = "\r\n"
			}
			stop := flush(lineStart, delim)
			lineStart = byteOffset
			if stop {
				return nil
			}
		default:
			buf.WriteByte(b)
		}
	}
}
