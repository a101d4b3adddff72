package timefilter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coffersTech/logsearchd/internal/model"
)

func TestAllowsRespectsRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tf := &model.TimeFilter{Start: &start, End: &end, Regex: `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`}

	c, err := Compile(tf)
	require.NoError(t, err)

	require.True(t, c.Allows("2024-01-01T12:00:00Z something"))
	require.False(t, c.Allows("2024-01-03T00:00:00Z late"))
}

func TestAllowsPassesWhenNoTimestampMatches(t *testing.T) {
	tf := &model.TimeFilter{Regex: `never-matches-\d+`}
	c, err := Compile(tf)
	require.NoError(t, err)
	require.True(t, c.Allows("no timestamp here at all"))
}

func TestAllowsDriftTolerance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tf := &model.TimeFilter{Start: &start, DriftToleranceS: 5}
	c, err := Compile(tf)
	require.NoError(t, err)
	require.True(t, c.Allows("2023-12-31T23:59:57Z within drift"))
	require.False(t, c.Allows("2023-12-31T23:59:50Z outside drift"))
}

func TestAllowsExcludesUnparseableWhenBothBoundsSet(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	// Regex matches a bogus month, so FindString succeeds but parseCascade fails.
	tf := &model.TimeFilter{Start: &start, End: &end, Regex: `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`}
	c, err := Compile(tf)
	require.NoError(t, err)
	require.False(t, c.Allows("2024-13-40T99:99:99Z garbage"))
}

func TestAllowsIncludesUnparseableWhenOneBoundOpen(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tf := &model.TimeFilter{Start: &start, Regex: `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`}
	c, err := Compile(tf)
	require.NoError(t, err)
	require.True(t, c.Allows("2024-13-40T99:99:99Z garbage"))
}

func TestNilFilterAlwaysAllows(t *testing.T) {
	c, err := Compile(nil)
	require.NoError(t, err)
	require.True(t, c.Allows("anything"))
}
