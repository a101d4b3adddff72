package engine

import (
	"github.com/coffersTech/logsearchd/internal/model"
	"github.com/coffersTech/logsearchd/internal/reader"
	"github.com/coffersTech/logsearchd/internal/searcherr"
)

// GetContext returns the raw lines surrounding req.Line in req.FilePath,
// reusing the Reader pipeline directly (no matching/parsing) — a
// supplemented feature adapted from the teacher's QueryEngine.GetContext,
// re-pointed at plain-text lines (SPEC_FULL.md SUPPLEMENTED FEATURES).
func (e *Engine) GetContext(req model.ContextRequest) (model.ContextResponse, error) {
	if req.FilePath == "" || req.Line < 1 {
		return model.ContextResponse{}, searcherr.New(searcherr.BadRequest, "file_path and a positive line are required")
	}
	before, after := req.Before, req.After
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}

	lp := e.parserCfg()
	var all []string
	err := reader.Open(req.FilePath, reader.Options{MaxLineBytes: lp.MaxLineBytes}, func(lineNo int, _, _ int64, line string, _ bool, _ string) bool {
		all = append(all, line)
		return false
	})
	if err != nil {
		return model.ContextResponse{}, searcherr.Wrap(searcherr.IOError, err, "reading %s for context", req.FilePath)
	}

	if req.Line > len(all) {
		return model.ContextResponse{}, searcherr.New(searcherr.BadRequest, "line %d is past end of file (%d lines)", req.Line, len(all))
	}

	start := req.Line - before
	if start < 1 {
		start = 1
	}
	end := req.Line + after
	if end > len(all) {
		end = len(all)
	}

	return model.ContextResponse{
		FilePath:  req.FilePath,
		Center:    req.Line,
		FirstLine: start,
		Lines:     all[start-1 : end],
	}, nil
}
