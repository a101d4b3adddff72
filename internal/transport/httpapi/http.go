// Package httpapi exposes the Engine over HTTP: GET /files, POST /search,
// GET /context, GET /health. Grounded in the teacher's server/http.go
// route-registration and Start/Shutdown pairing.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/logsearchd/internal/engine"
	"github.com/coffersTech/logsearchd/internal/logging"
	"github.com/coffersTech/logsearchd/internal/model"
	"github.com/coffersTech/logsearchd/internal/searcherr"
)

var log = logging.ForComponent("httpapi")

// Server wraps http.Server with the logsearchd route set.
type Server struct {
	eng       *engine.Engine
	http      *http.Server
	startedAt time.Time
	jsonPool  fastjson.ParserPool
}

// New builds a Server bound to addr, serving eng.
func New(addr string, eng *engine.Engine) *Server {
	s := &Server{eng: eng, startedAt: time.Now()}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /files", s.handleFiles)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("GET /context", s.handleContext)
	mux.HandleFunc("GET /health", s.handleHealth)
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving; it blocks until the server stops, returning
// http.ErrServerClosed on a graceful Shutdown.
func (s *Server) Start() error {
	log.Info("http server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg := model.FileScanConfig{
		RootPath:     q.Get("root_path"),
		IncludeGlobs: splitCSV(q.Get("include_globs")),
		ExcludeGlobs: splitCSV(q.Get("exclude_globs")),
	}
	res, err := s.eng.ListFiles(cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	body, err := readAndSniff(r, &s.jsonPool, []string{"scan_config", "logical_query"})
	if err != nil {
		writeError(w, searcherr.Wrap(searcherr.BadRequest, err, "malformed search request body"))
		return
	}

	var req model.SearchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, searcherr.Wrap(searcherr.BadRequest, err, "invalid search request"))
		return
	}

	resp, err := s.eng.Search(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, statusForResponse(resp), resp)
}

// statusForResponse picks the HTTP status for a successful Search call per
// spec.md §6: 408 when the deadline fired before any hit was produced, 206
// when the hit/byte cap short-circuited the scan (a cursor is included),
// 200 otherwise.
func statusForResponse(resp model.SearchResponse) int {
	if resp.Stats.DeadlineHit && len(resp.Hits) == 0 {
		return http.StatusRequestTimeout
	}
	if resp.Stats.HitCapHit || resp.Stats.ByteCapHit {
		return http.StatusPartialContent
	}
	return http.StatusOK
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := model.ContextRequest{FilePath: q.Get("file_path")}
	req.Line = atoiDefault(q.Get("line"), 0)
	req.Before = atoiDefault(q.Get("before"), 5)
	req.After = atoiDefault(q.Get("after"), 5)

	resp, err := s.eng.GetContext(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"uptime_s": int(time.Since(s.startedAt).Seconds()),
	})
}

// readAndSniff reads the body and, via fastjson, checks that
// requiredFields are present before the caller pays for a full
// encoding/json decode into the typed struct — the same
// sniff-before-decode idiom the teacher's http.go uses for ingest
// parsing.
func readAndSniff(r *http.Request, pool *fastjson.ParserPool, requiredFields []string) ([]byte, error) {
	defer r.Body.Close()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}

	p := pool.Get()
	defer pool.Put(p)
	v, err := p.ParseBytes(buf)
	if err != nil {
		return nil, err
	}
	for _, f := range requiredFields {
		if v.Get(f) == nil {
			return nil, searcherr.New(searcherr.BadRequest, "missing required field %q", f)
		}
	}
	return buf, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusForKind(searcherr.KindOf(err))
	body := map[string]any{"error": err.Error()}
	if ms := searcherr.RetryAfterMSOf(err); ms > 0 {
		body["retry_after_ms"] = ms
	}
	writeJSON(w, status, body)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}
