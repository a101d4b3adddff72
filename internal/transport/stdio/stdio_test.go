package stdio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coffersTech/logsearchd/internal/config"
	"github.com/coffersTech/logsearchd/internal/engine"
)

func newTestEngine(t *testing.T) (*engine.Engine, string) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("ERROR boom\n"), 0o644))
	sc := config.Default().Search
	lp := config.Default().LogParser
	return engine.New(func() config.SearchConfig { return sc }, func() config.LogParserConfig { return lp }, []byte("k"), nil), dir
}

func TestRunInitializeAndListTools(t *testing.T) {
	eng, _ := newTestEngine(t)
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"list_tools"}` + "\n"
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), eng, strings.NewReader(input), &out))
	require.Contains(t, out.String(), "protocolVersion")
	require.Contains(t, out.String(), "search_logs")
}

func TestRunNotificationNoResponse(t *testing.T) {
	eng, _ := newTestEngine(t)
	input := `{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n"
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), eng, strings.NewReader(input), &out))
	require.Empty(t, out.String())
}

func TestRunSearchLogs(t *testing.T) {
	eng, dir := newTestEngine(t)
	input := `{"jsonrpc":"2.0","id":3,"method":"search_logs","params":{"scan_config":{"root_path":"` + dir + `"},"logical_query":{"must":[{"query":"ERROR"}]},"include_content":true}}` + "\n"
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), eng, strings.NewReader(input), &out))
	require.Contains(t, out.String(), "boom")
}

func TestRunUnknownMethod(t *testing.T) {
	eng, _ := newTestEngine(t)
	input := `{"jsonrpc":"2.0","id":4,"method":"does_not_exist"}` + "\n"
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), eng, strings.NewReader(input), &out))
	require.Contains(t, out.String(), "-32601")
}

func TestRunParseError(t *testing.T) {
	eng, _ := newTestEngine(t)
	input := "not json\n"
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), eng, strings.NewReader(input), &out))
	require.Contains(t, out.String(), "-32700")
}
