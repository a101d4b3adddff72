// Package stdio implements the line-delimited JSON-RPC 2.0 surface over
// stdin/stdout, grounded exactly in original_source/src/mcp.rs's method
// table and error codes.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/coffersTech/logsearchd/internal/engine"
	"github.com/coffersTech/logsearchd/internal/logging"
	"github.com/coffersTech/logsearchd/internal/model"
	"github.com/coffersTech/logsearchd/internal/searcherr"
)

var log = logging.ForComponent("stdio")

type rpcRequest struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Run reads newline-delimited JSON-RPC requests from r and writes
// responses to w until r is exhausted or ctx is cancelled.
func Run(ctx context.Context, eng *engine.Engine, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			writeResp(enc, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error: " + err.Error()}})
			continue
		}

		resp, skip := dispatch(ctx, eng, req)
		if skip {
			continue
		}
		writeResp(enc, resp)
	}
	return scanner.Err()
}

func dispatch(ctx context.Context, eng *engine.Engine, req rpcRequest) (rpcResponse, bool) {
	switch req.Method {
	case "initialize":
		return handleInitialize(req), false
	case "notifications/initialized":
		if len(req.ID) == 0 || string(req.ID) == "null" {
			return rpcResponse{}, true
		}
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: true}, false
	case "list_log_files":
		return handleListFiles(eng, req), false
	case "search_logs":
		return handleSearch(ctx, eng, req), false
	case "get_context":
		return handleGetContext(eng, req), false
	case "tools/list", "list_tools":
		return handleListTools(req), false
	default:
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found: " + req.Method}}, false
	}
}

func handleInitialize(req rpcRequest) rpcResponse {
	return rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "logsearchd", "version": "0.1.0"},
		},
	}
}

func handleListFiles(eng *engine.Engine, req rpcRequest) rpcResponse {
	var params struct {
		RootPath     string   `json:"root_path"`
		IncludeGlobs []string `json:"include_globs"`
		ExcludeGlobs []string `json:"exclude_globs"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResp(req, -32602, "invalid params: "+err.Error())
	}

	res, err := eng.ListFiles(model.FileScanConfig{RootPath: params.RootPath, IncludeGlobs: params.IncludeGlobs, ExcludeGlobs: params.ExcludeGlobs})
	if err != nil {
		return errResp(req, -32001, err.Error())
	}
	files := make([]string, len(res.Files))
	for i, f := range res.Files {
		files[i] = f.Path
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"files": files}}
}

func handleSearch(ctx context.Context, eng *engine.Engine, req rpcRequest) rpcResponse {
	var sreq model.SearchRequest
	if err := json.Unmarshal(req.Params, &sreq); err != nil {
		return errResp(req, -32602, "invalid params: "+err.Error())
	}
	resp, err := eng.Search(ctx, sreq)
	if err != nil {
		if ms := searcherr.RetryAfterMSOf(err); ms > 0 {
			return rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32002, Message: err.Error(), Data: map[string]any{"retry_after_ms": ms}}}
		}
		return errResp(req, -32002, err.Error())
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: resp}
}

func handleGetContext(eng *engine.Engine, req rpcRequest) rpcResponse {
	var creq model.ContextRequest
	if err := json.Unmarshal(req.Params, &creq); err != nil {
		return errResp(req, -32602, "invalid params: "+err.Error())
	}
	resp, err := eng.GetContext(creq)
	if err != nil {
		return errResp(req, -32002, err.Error())
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: resp}
}

func handleListTools(req rpcRequest) rpcResponse {
	tools := []map[string]any{
		{
			"name":        "list_log_files",
			"description": "List log files under a root path with optional include/exclude globs.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"root_path":     map[string]any{"type": "string"},
					"include_globs": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"exclude_globs": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
		{
			"name":        "search_logs",
			"description": "Search log files with logical queries, optional time filter and multiline pattern.",
			"inputSchema": map[string]any{
				"type":     "object",
				"required": []string{"scan_config", "logical_query"},
				"properties": map[string]any{
					"scan_config": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"root_path":     map[string]any{"type": "string"},
							"include_globs": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							"exclude_globs": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						},
					},
					"logical_query": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"must": map[string]any{"type": "array"},
							"any":  map[string]any{"type": "array"},
							"none": map[string]any{"type": "array"},
						},
					},
					"time_filter":       map[string]any{"type": []string{"object", "null"}},
					"log_start_pattern": map[string]any{"type": []string{"string", "null"}},
					"page_size":         map[string]any{"type": "integer"},
					"page":              map[string]any{"type": "integer"},
					"max_hits":          map[string]any{"type": []string{"integer", "null"}},
					"hard_timeout_ms":   map[string]any{"type": []string{"integer", "null"}},
					"include_content":   map[string]any{"type": "boolean"},
				},
			},
		},
		{
			"name":        "get_context",
			"description": "Fetch the lines surrounding a given line of a log file.",
			"inputSchema": map[string]any{
				"type":     "object",
				"required": []string{"file_path", "line"},
				"properties": map[string]any{
					"file_path": map[string]any{"type": "string"},
					"line":      map[string]any{"type": "integer"},
					"before":    map[string]any{"type": "integer"},
					"after":     map[string]any{"type": "integer"},
				},
			},
		},
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": tools}}
}

func errResp(req rpcRequest, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: code, Message: message}}
}

func writeResp(enc *json.Encoder, resp rpcResponse) {
	if err := enc.Encode(resp); err != nil {
		log.Warn("failed to write rpc response", "error", err)
	}
}
