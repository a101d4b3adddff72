package reader

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenPlainTextMixedLineEndings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mixed.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\r\nthree\rfour"), 0o644))

	var lines []string
	require.NoError(t, Open(path, Options{}, func(lineNo int, off, next int64, line string, truncated bool, sep string) bool {
		lines = append(lines, line)
		return false
	}))
	require.Equal(t, []string{"one", "two", "three", "four"}, lines)
}

func TestOpenGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("alpha\nbeta\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	var lines []string
	require.NoError(t, Open(path, Options{}, func(lineNo int, off, next int64, line string, truncated bool, sep string) bool {
		lines = append(lines, line)
		return false
	}))
	require.Equal(t, []string{"alpha", "beta"}, lines)
}

func TestOpenUTF8BOM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bom.log")
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello\n")...)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	var lines []string
	require.NoError(t, Open(path, Options{}, func(lineNo int, off, next int64, line string, truncated bool, sep string) bool {
		lines = append(lines, line)
		return false
	}))
	require.Equal(t, []string{"hello"}, lines)
}

func TestOpenMaxLineTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "long.log")
	require.NoError(t, os.WriteFile(path, []byte("abcdefghij\nshort\n"), 0o644))

	var got string
	var gotTruncated, shortTruncated bool
	lineNo := 0
	require.NoError(t, Open(path, Options{MaxLineBytes: 5}, func(n int, off, next int64, line string, truncated bool, sep string) bool {
		lineNo++
		if lineNo == 1 {
			got = line
			gotTruncated = truncated
		} else {
			shortTruncated = truncated
		}
		return false
	}))
	require.Equal(t, "abcde", got)
	require.True(t, gotTruncated)
	require.False(t, shortTruncated)
}

func TestOpenNextOffsetSkipsFullLineRegardlessOfTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "long.log")
	require.NoError(t, os.WriteFile(path, []byte("abcdefghij\nshort\n"), 0o644))

	var nextOffsets []int64
	require.NoError(t, Open(path, Options{MaxLineBytes: 5}, func(n int, off, next int64, line string, truncated bool, sep string) bool {
		nextOffsets = append(nextOffsets, next)
		return false
	}))
	// "abcdefghij\n" is 11 bytes even though the reported line was cut to 5.
	require.Equal(t, []int64{11, 17}, nextOffsets)
}

func TestOpenReportsLineDelimiters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "delims.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\r\nthree\rfour"), 0o644))

	var seps []string
	require.NoError(t, Open(path, Options{}, func(lineNo int, off, next int64, line string, truncated bool, sep string) bool {
		seps = append(seps, sep)
		return false
	}))
	require.Equal(t, []string{"\n", "\r\n", "\r", ""}, seps)
}

func TestOpenStopEarly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stop.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0o644))

	var seen []string
	require.NoError(t, Open(path, Options{}, func(lineNo int, off, next int64, line string, truncated bool, sep string) bool {
		seen = append(seen, line)
		return lineNo == 2
	}))
	require.Equal(t, []string{"a", "b"}, seen)
}
