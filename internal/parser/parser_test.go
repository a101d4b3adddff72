package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coffersTech/logsearchd/internal/model"
)

func feedAll(t *testing.T, a *Aggregator, lines []string) []model.Record {
	t.Helper()
	return feedAllWithSep(t, a, lines, "\n")
}

func feedAllWithSep(t *testing.T, a *Aggregator, lines []string, sep string) []model.Record {
	t.Helper()
	var records []model.Record
	offset := int64(0)
	for i, l := range lines {
		next := offset + int64(len(l)) + int64(len(sep))
		a.Feed(i+1, offset, next, l, sep, func(r model.Record) bool {
			records = append(records, r)
			return false
		})
		offset = next
	}
	a.Flush(func(r model.Record) bool {
		records = append(records, r)
		return false
	})
	return records
}

func TestAggregatorNoPatternEveryLineIsRecord(t *testing.T) {
	a, err := New("")
	require.NoError(t, err)
	records := feedAll(t, a, []string{"a", "b", "c"})
	require.Len(t, records, 3)
	require.Equal(t, "a", records[0].Content)
}

func TestAggregatorMultilineBuffering(t *testing.T) {
	a, err := New(`^\d{4}-\d{2}-\d{2}`)
	require.NoError(t, err)
	lines := []string{
		"2024-01-01 10:00:00 start of entry one",
		"  stack trace line 1",
		"  stack trace line 2",
		"2024-01-01 10:00:05 start of entry two",
		"  more detail",
	}
	records := feedAll(t, a, lines)
	require.Len(t, records, 2)
	require.Contains(t, records[0].Content, "entry one")
	require.Contains(t, records[0].Content, "stack trace line 2")
	require.Contains(t, records[1].Content, "entry two")
	require.Equal(t, 1, records[0].LineNumber)
	require.Equal(t, 3, records[0].EndLineNumber)
	require.Equal(t, 4, records[1].LineNumber)
	require.Equal(t, 5, records[1].EndLineNumber)
}

func TestAggregatorPreservesCRLFSeparatorOnJoin(t *testing.T) {
	a, err := New(`^\d{4}-\d{2}-\d{2}`)
	require.NoError(t, err)
	lines := []string{
		"2024-01-01 10:00:00 start of entry",
		"  stack trace line 1",
		"  stack trace line 2",
	}
	records := feedAllWithSep(t, a, lines, "\r\n")
	require.Len(t, records, 1)
	require.Equal(t, "2024-01-01 10:00:00 start of entry\r\n  stack trace line 1\r\n  stack trace line 2", records[0].Content)
}

func TestAggregatorPreservesCROnlySeparatorOnJoin(t *testing.T) {
	a, err := New(`^\d{4}-\d{2}-\d{2}`)
	require.NoError(t, err)
	lines := []string{
		"2024-01-01 10:00:00 start of entry",
		"  continuation",
	}
	records := feedAllWithSep(t, a, lines, "\r")
	require.Len(t, records, 1)
	require.Equal(t, "2024-01-01 10:00:00 start of entry\r  continuation", records[0].Content)
}

func TestAggregatorLeadingNonMatchIsOwnRecord(t *testing.T) {
	a, err := New(`^\d{4}-\d{2}-\d{2}`)
	require.NoError(t, err)
	records := feedAll(t, a, []string{"preamble with no timestamp", "2024-01-01 00:00:00 real entry"})
	require.Len(t, records, 2)
	require.Equal(t, "preamble with no timestamp", records[0].Content)
}
