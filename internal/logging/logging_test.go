package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForComponentPicksUpLaterInit(t *testing.T) {
	orig := root.Load()
	t.Cleanup(func() { root.Store(orig) })

	// Grab a logger the way package-level `var log = logging.ForComponent(...)`
	// does, before any Init call installs a real handler.
	before := ForComponent("widget")

	var buf bytes.Buffer
	root.Store(slog.New(slog.NewJSONHandler(&buf, nil)))

	before.Info("hello", "n", 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "widget", decoded["component"])
	require.Equal(t, "hello", decoded["msg"])
}

func TestForComponentTagsComponent(t *testing.T) {
	orig := root.Load()
	t.Cleanup(func() { root.Store(orig) })

	var buf bytes.Buffer
	root.Store(slog.New(slog.NewTextHandler(&buf, nil)))

	ForComponent("scanner").Warn("disk slow")
	require.True(t, strings.Contains(buf.String(), "component=scanner"))
}
