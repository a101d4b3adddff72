// Package model holds the wire and domain types shared across the scan,
// read, parse, match, and search pipeline.
package model

import "time"

// FileScanConfig describes where and how the Scanner looks for log files.
// FilePaths, when non-empty, bypasses directory walking entirely and
// scans exactly those paths (spec.md §3 "scan: {root, include_globs,
// exclude_globs, file_paths?}").
type FileScanConfig struct {
	RootPath     string   `json:"root_path"`
	IncludeGlobs []string `json:"include_globs,omitempty"`
	ExcludeGlobs []string `json:"exclude_globs,omitempty"`
	FilePaths    []string `json:"file_paths,omitempty"`
}

// FileInfo is a discovered log file descriptor (spec §3 "File descriptor").
type FileInfo struct {
	Path       string    `json:"path"`
	FamilyID   string    `json:"family_id"`
	SizeBytes  int64     `json:"size_bytes"`
	ModTime    time.Time `json:"mod_time"`
	Compressed bool      `json:"compressed"`
}

// ScanResult is the Scanner's output: the ordered file set plus any
// per-file failures encountered while resolving the tree.
type ScanResult struct {
	Files       []FileInfo        `json:"files"`
	FailedFiles map[string]string `json:"failed_files,omitempty"`
}

// SearchQuery is a single match atom: literal or regex, with case and
// word-boundary options (spec §3 "Query" atoms).
type SearchQuery struct {
	Query         string `json:"query"`
	Regex         bool   `json:"regex,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	WholeWord     bool   `json:"whole_word,omitempty"`
}

// LogicalQuery composes atoms with must/any/none semantics.
type LogicalQuery struct {
	Must []SearchQuery `json:"must,omitempty"`
	Any  []SearchQuery `json:"any,omitempty"`
	None []SearchQuery `json:"none,omitempty"`
}

// Empty reports whether the logical query has no atoms at all, meaning
// every record matches.
func (q LogicalQuery) Empty() bool {
	return len(q.Must) == 0 && len(q.Any) == 0 && len(q.None) == 0
}

// TimeFilter restricts matches to a timestamp window extracted from each
// record via Regex.
type TimeFilter struct {
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	Regex        string     `json:"regex,omitempty"`
	DriftToleranceS int     `json:"drift_tolerance_s,omitempty"`
}

// SearchRequest is the full request shape accepted by search_logs /
// POST /search.
type SearchRequest struct {
	ScanConfig       FileScanConfig `json:"scan_config"`
	LogicalQuery     LogicalQuery   `json:"logical_query"`
	TimeFilter       *TimeFilter    `json:"time_filter,omitempty"`
	LogStartPattern  string         `json:"log_start_pattern,omitempty"`
	PageSize         int            `json:"page_size,omitempty"`
	Page             int            `json:"page,omitempty"`
	Cursor           string         `json:"cursor,omitempty"`
	MaxHits          int            `json:"max_hits,omitempty"`
	MaxBytes         int64          `json:"max_bytes,omitempty"`
	HardTimeoutMS    int            `json:"hard_timeout_ms,omitempty"`
	IncludeContent   bool           `json:"include_content"`
	SessionID        string         `json:"session_id,omitempty"`
}

// MatchPosition is a byte-offset span within a record's content that a
// query atom matched.
type MatchPosition struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// HitResult is one matched record surfaced to the caller.
type HitResult struct {
	FilePath       string          `json:"file_path"`
	FamilyID       string          `json:"family_id"`
	LineNumber     int             `json:"start_line"`
	EndLineNumber  int             `json:"end_line"`
	Timestamp      *time.Time      `json:"timestamp,omitempty"`
	Content        string          `json:"content"`
	MatchPositions []MatchPosition `json:"match_positions,omitempty"`
}

// SearchStats reports aggregate accounting for a search. TotalHits here is
// this call's own page count (always known); SearchResponse.TotalHits is
// the query-wide total, known only on a non-short-circuited scan.
type SearchStats struct {
	FilesScanned            int   `json:"files_scanned"`
	BytesScanned            int64 `json:"bytes_scanned"`
	RecordsEvaluated        int   `json:"records_evaluated"`
	TotalHits               int   `json:"total_hits"`
	MatchPositionsTruncated int   `json:"match_positions_truncated,omitempty"`
	RegexTimeouts           int   `json:"regex_timeouts,omitempty"`
	LinesTruncated          int   `json:"lines_truncated,omitempty"`
	DeadlineHit             bool  `json:"deadline_hit,omitempty"`
	HitCapHit               bool  `json:"hit_cap_hit,omitempty"`
	ByteCapHit              bool  `json:"byte_cap_hit,omitempty"`
}

// SearchResponse is the full search_logs / POST /search response shape.
//
// Page counts how many times this query has been paged so far, derived
// from the caller-supplied request Page. TotalHits/TotalPages are the
// query-wide totals (not just this page's), populated only when this call
// scanned every remaining candidate file to completion without a hit cap,
// byte cap, or deadline short-circuit — per spec.md §4.6 step 9, they are
// nil (omitted from the JSON body) and Truncated is true otherwise, since
// a short-circuited scan cannot know the true total.
type SearchResponse struct {
	Hits            []HitResult       `json:"hits"`
	Page            int               `json:"page"`
	PageSize        int               `json:"page_size"`
	TotalHits       *int64            `json:"total_hits,omitempty"`
	TotalPages      *int              `json:"total_pages,omitempty"`
	Truncated       bool              `json:"truncated,omitempty"`
	ExecutionTimeMS int64             `json:"execution_time_ms"`
	Cursor          string            `json:"cursor,omitempty"`
	Stats           SearchStats       `json:"stats"`
	FailedFiles     map[string]string `json:"failed_files,omitempty"`
}

// ContextRequest asks for the window of physical lines around a specific
// line.
type ContextRequest struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Before   int    `json:"before"`
	After    int    `json:"after"`
}

// ContextResponse is the window of physical lines around the requested
// line; multiline records are not aggregated.
type ContextResponse struct {
	FilePath string   `json:"file_path"`
	Center   int      `json:"center"`
	Lines    []string `json:"lines"`
	FirstLine int     `json:"first_line"`
}

// Record is a parsed (possibly multiline) log record. EndByteOffset is
// the stream offset immediately after the record's last line; it anchors
// cursor resumption (spec.md §3 Cursor.byte_offset) and is never
// serialized to callers.
type Record struct {
	LineNumber    int
	EndLineNumber int
	ByteOffset    int64
	EndByteOffset int64
	Content       string
}
