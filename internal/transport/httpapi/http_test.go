package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coffersTech/logsearchd/internal/config"
	"github.com/coffersTech/logsearchd/internal/engine"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("2024-01-01T00:00:00Z ERROR boom\n"), 0o644))

	sc := config.Default().Search
	lp := config.Default().LogParser
	eng := engine.New(func() config.SearchConfig { return sc }, func() config.LogParserConfig { return lp }, []byte("k"), nil)
	return New("127.0.0.1:0", eng), dir
}

func TestHandleFiles(t *testing.T) {
	s, dir := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/files?root_path="+dir, nil)
	w := httptest.NewRecorder()
	s.handleFiles(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "app.log")
}

func TestHandleSearch(t *testing.T) {
	s, dir := newTestServer(t)
	body := `{"scan_config":{"root_path":"` + dir + `"},"logical_query":{"must":[{"query":"ERROR"}]},"include_content":true}`
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleSearch(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "boom")
}

func TestHandleSearchHitCapReturnsPartialContent(t *testing.T) {
	s, dir := newTestServer(t)
	content := ""
	for i := 0; i < 5; i++ {
		content += "ERROR boom\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "many.log"), []byte(content), 0o644))

	body := `{"scan_config":{"root_path":"` + dir + `"},"logical_query":{"must":[{"query":"ERROR"}]},"max_hits":2,"page_size":100}`
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleSearch(w, req)
	require.Equal(t, http.StatusPartialContent, w.Code)
}

func TestHandleSearchMissingField(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"scan_config":{}}`))
	w := httptest.NewRecorder()
	s.handleSearch(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "healthy")
}
