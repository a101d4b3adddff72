// Package engine orchestrates the scan -> read -> parse -> match ->
// time-filter -> paginate pipeline: spec's central Engine component.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/coffersTech/logsearchd/internal/config"
	"github.com/coffersTech/logsearchd/internal/logging"
	"github.com/coffersTech/logsearchd/internal/matcher"
	"github.com/coffersTech/logsearchd/internal/model"
	"github.com/coffersTech/logsearchd/internal/parser"
	"github.com/coffersTech/logsearchd/internal/reader"
	"github.com/coffersTech/logsearchd/internal/scanner"
	"github.com/coffersTech/logsearchd/internal/searcherr"
	"github.com/coffersTech/logsearchd/internal/session"
	"github.com/coffersTech/logsearchd/internal/timefilter"
)

var log = logging.ForComponent("engine")

// Engine is the process-wide query engine: stateless across requests
// apart from the shared regex cache and cursor signing key, matching
// spec §5's "shared regex cache is the only process-wide singleton
// besides the session store" model.
type Engine struct {
	cfgSource func() config.SearchConfig
	parserCfg func() config.LogParserConfig
	matcher   *matcher.Matcher
	cursor    *cursorCodec
	sessions  *session.Store
}

// New builds an Engine. cfgSource/parserCfg are read on every request so
// a hot-reloaded config takes effect without restarting the process; the
// regex cache size, regex timeout and cursor TTL are read once, here.
// sessions may be nil, in which case quota enforcement and history/byte
// accounting are skipped (no session_id was supplied by the caller).
func New(cfgSource func() config.SearchConfig, parserCfg func() config.LogParserConfig, cursorKey []byte, sessions *session.Store) *Engine {
	sc := cfgSource()
	return &Engine{
		cfgSource: cfgSource,
		parserCfg: parserCfg,
		matcher:   matcher.New(sc.RegexCacheSize, time.Duration(sc.RegexTimeoutMS)*time.Millisecond),
		cursor:    newCursorCodec(cursorKey, time.Duration(sc.CursorTTLSeconds)*time.Second),
		sessions:  sessions,
	}
}

// ListFiles runs the Scanner and returns its result directly.
func (e *Engine) ListFiles(cfg model.FileScanConfig) (model.ScanResult, error) {
	return scanner.Scan(cfg)
}

// fileOutcome is one file's contribution to a Search call. hitEndOffsets
// parallels hits: hitEndOffsets[i] is the stream offset right after
// hits[i]'s last line, the anchor a resumption cursor is minted from.
type fileOutcome struct {
	hits          []model.HitResult
	hitEndOffsets []int64
	bytesScanned  int64
	recordsEval   int
	matchTrunc    int
	regexTimeouts int
	linesTrunc    int
	failed        string
}

// rankedHit pairs a hit with the file and offset it came from, so the
// merged, canonically-ordered hit list can still mint an accurate
// resumption cursor after HitResult values themselves are stripped of
// everything but what callers see.
type rankedHit struct {
	hit      model.HitResult
	filePath string
	endOff   int64
}

// Search executes req end to end and returns the requested page of hits.
//
// Pagination follows spec.md §4.6: a request with no cursor starts at
// (first file, byte 0); a request presenting a cursor starts at
// (cursor.file_path, cursor.byte_offset), with every file lexicographically
// before file_path skipped entirely — never rescanned. The next cursor is
// minted from the byte offset immediately after the last hit returned on
// this page, so no hit at or before that point can ever reappear. max_hits
// is enforced query-wide (spec.md §3): the cursor carries the cumulative
// hit count already returned, and each call's own hit cap is that budget
// minus what prior pages already spent.
func (e *Engine) Search(ctx context.Context, req model.SearchRequest) (model.SearchResponse, error) {
	startTime := time.Now()
	sc := e.cfgSource()
	lp := e.parserCfg()

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = sc.DefaultPageSize
	}
	if pageSize > sc.MaxPageSize {
		pageSize = sc.MaxPageSize
	}

	maxHits := req.MaxHits
	if maxHits <= 0 {
		maxHits = sc.DefaultMaxHits
	}
	timeoutMS := req.HardTimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = sc.DefaultTimeoutMS
	}

	fp := fingerprint(req, pageSize)

	var resume cursorPayload
	responsePage := 1
	if req.Cursor != "" {
		payload, err := e.cursor.verify(req.Cursor, fp, time.Now())
		if err != nil {
			return model.SearchResponse{}, err
		}
		if payload.SessionID != "" && payload.SessionID != req.SessionID {
			return model.SearchResponse{}, searcherr.New(searcherr.CursorMismatch, "cursor was minted for a different session")
		}
		if e.sessions != nil && payload.SessionID != "" {
			ok, err := e.sessions.Exists(ctx, payload.SessionID)
			if err != nil {
				return model.SearchResponse{}, err
			}
			if !ok {
				return model.SearchResponse{}, searcherr.New(searcherr.CursorExpired, "cursor's session no longer exists")
			}
		}
		resume = payload
		responsePage = req.Page + 1
		if req.Page <= 0 {
			responsePage = 2
		}
	}
	resumeHits := resume.HitsSoFar

	timeFilter, err := timefilter.Compile(req.TimeFilter)
	if err != nil {
		return model.SearchResponse{}, searcherr.Wrap(searcherr.RegexInvalid, err, "invalid time_filter regex")
	}

	scanResult, err := scanner.Scan(req.ScanConfig)
	if err != nil {
		return model.SearchResponse{}, searcherr.Wrap(searcherr.FileDenied, err, "scan failed")
	}

	// Files strictly before the resume point in canonical (lexicographic
	// path) order are skipped entirely, never re-read (spec.md §4.6
	// step 3).
	files := scanResult.Files
	if resume.FilePath != "" {
		idx := 0
		for idx < len(files) && files[idx].Path < resume.FilePath {
			idx++
		}
		files = files[idx:]
	}

	// Remaining hit budget for this call is the query-wide cap minus what
	// earlier pages of the same fingerprint already returned. If a prior
	// page already exhausted it, this call does no work at all.
	quotaExhausted := false
	dispatchHitCap := int64(0)
	if maxHits > 0 {
		remaining := int64(maxHits) - resumeHits
		if remaining <= 0 {
			quotaExhausted = true
			files = nil
		} else {
			dispatchHitCap = remaining
		}
	}

	if e.sessions != nil && req.SessionID != "" {
		// Projection uses on-disk file size as a lower bound for gzip
		// members (actual decompressed bytes are unknown until read), per
		// spec.md §4.7, scoped to exactly the files this call will touch.
		var projected int64
		for _, fi := range files {
			projected += fi.SizeBytes
		}
		if err := e.sessions.CheckQuota(ctx, req.SessionID, projected); err != nil {
			return model.SearchResponse{}, err
		}
	}

	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	searchCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	outcomes := make([]fileOutcome, len(files))
	var (
		hitCount    atomic.Int64
		byteCount   atomic.Int64
		hitCapHit   atomic.Bool
		byteCapHit  atomic.Bool
		deadlineHit atomic.Bool
	)

	sem := semaphore.NewWeighted(int64(maxConcurrent(sc.MaxConcurrentFiles)))
	var wg sync.WaitGroup

	for i, fi := range files {
		i, fi := i, fi
		if err := sem.Acquire(searchCtx, 1); err != nil {
			deadlineHit.Store(true)
			break
		}
		resumeOffset := int64(-1)
		if fi.Path == resume.FilePath {
			resumeOffset = resume.ByteOffset
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = e.scanOneFile(searchCtx, fi, req, timeFilter, lp, &hitCount, &byteCount, dispatchHitCap, req.MaxBytes, &hitCapHit, &byteCapHit, resumeOffset)
		}()
	}
	wg.Wait()

	if searchCtx.Err() != nil {
		deadlineHit.Store(true)
	}

	var (
		all            []rankedHit
		bytesScanned   int64
		recordsEval    int
		matchTrunc     int
		regexTimeouts  int
		linesTruncated int
		filesScanned   int
	)
	failedFiles := map[string]string{}
	for path, reason := range scanResult.FailedFiles {
		failedFiles[path] = reason
	}
	for i, o := range outcomes {
		if o.failed != "" {
			failedFiles[files[i].Path] = o.failed
			continue
		}
		for j, h := range o.hits {
			all = append(all, rankedHit{hit: h, filePath: files[i].Path, endOff: o.hitEndOffsets[j]})
		}
		bytesScanned += o.bytesScanned
		recordsEval += o.recordsEval
		matchTrunc += o.matchTrunc
		regexTimeouts += o.regexTimeouts
		linesTruncated += o.linesTrunc
		filesScanned++
	}

	hasMore := false
	pageHits := all
	if len(all) > pageSize {
		pageHits = all[:pageSize]
		hasMore = true
	}
	capTriggered := quotaExhausted || hitCapHit.Load() || byteCapHit.Load() || deadlineHit.Load()

	hits := make([]model.HitResult, len(pageHits))
	for i, r := range pageHits {
		hits[i] = r.hit
	}
	if !req.IncludeContent {
		for i := range hits {
			hits[i].Content = ""
		}
	}

	cumulativeHits := resumeHits + int64(len(pageHits))

	var nextCursor string
	if len(pageHits) > 0 && (hasMore || capTriggered) {
		last := pageHits[len(pageHits)-1]
		nextCursor = e.cursor.mint(req.SessionID, last.filePath, last.endOff, last.hit.EndLineNumber, fp, pageSize, cumulativeHits, time.Now())
	}

	// total_hits/total_pages are query-wide totals, knowable only when
	// this call scanned every remaining candidate file to completion
	// (spec.md §4.6 step 9); otherwise they're omitted and Truncated is
	// set instead of a number that would understate the true total.
	var totalHits *int64
	var totalPages *int
	if !capTriggered {
		th := resumeHits + int64(len(all))
		totalHits = &th
		tp := 1
		if pageSize > 0 {
			tp = int((th + int64(pageSize) - 1) / int64(pageSize))
			if tp < 1 {
				tp = 1
			}
		}
		totalPages = &tp
	}

	resp := model.SearchResponse{
		Hits:            hits,
		Page:            responsePage,
		PageSize:        pageSize,
		TotalHits:       totalHits,
		TotalPages:      totalPages,
		Truncated:       capTriggered,
		ExecutionTimeMS: time.Since(startTime).Milliseconds(),
		Cursor:          nextCursor,
		FailedFiles:     failedFiles,
		Stats: model.SearchStats{
			FilesScanned:            filesScanned,
			BytesScanned:            bytesScanned,
			RecordsEvaluated:        recordsEval,
			TotalHits:               len(pageHits),
			MatchPositionsTruncated: matchTrunc,
			RegexTimeouts:           regexTimeouts,
			LinesTruncated:          linesTruncated,
			DeadlineHit:             deadlineHit.Load(),
			HitCapHit:               hitCapHit.Load(),
			ByteCapHit:              byteCapHit.Load(),
		},
	}

	if e.sessions != nil && req.SessionID != "" {
		if err := e.sessions.AddBytesScanned(ctx, req.SessionID, bytesScanned); err != nil {
			log.Warn("failed to record bytes scanned", "session_id", req.SessionID, "error", err)
		}
		hitRefs := make([]session.HitRef, len(hits))
		for i, h := range hits {
			hitRefs[i] = session.HitRef{FilePath: h.FilePath, LineNumber: h.LineNumber}
		}
		if err := e.sessions.RecordSearch(ctx, req.SessionID, fp, hitRefs); err != nil {
			log.Warn("failed to record search history", "session_id", req.SessionID, "error", err)
		}
	}
	return resp, nil
}

func maxConcurrent(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// scanOneFile reads, aggregates, matches, and time-filters a single file,
// respecting the global hit/byte caps and the shared deadline context.
// resumeOffset, when >= 0, is the cursor's byte_offset for this file (the
// end offset of the last hit already returned): any record starting
// before it was already covered by an earlier page and is skipped rather
// than re-emitted (spec.md §3's "no hit from (F,<=B) reappears"
// invariant), while the record starting exactly at it is the next one.
func (e *Engine) scanOneFile(
	ctx context.Context,
	fi model.FileInfo,
	req model.SearchRequest,
	tf *timefilter.Compiled,
	lp config.LogParserConfig,
	hitCount, byteCount *atomic.Int64,
	maxHits int64, maxBytes int64,
	hitCapHit, byteCapHit *atomic.Bool,
	resumeOffset int64,
) fileOutcome {
	var out fileOutcome

	agg, err := parser.New(req.LogStartPattern)
	if err != nil {
		out.failed = fmt.Sprintf("invalid log_start_pattern: %v", err)
		return out
	}

	emit := func(rec model.Record) bool {
		out.recordsEval++
		if resumeOffset >= 0 && rec.ByteOffset < resumeOffset {
			return ctx.Err() != nil
		}
		matched, timeouts := e.matcher.Matches(rec.Content, req.LogicalQuery)
		out.regexTimeouts += timeouts
		if !matched {
			return ctx.Err() != nil
		}
		if !tf.Allows(rec.Content) {
			return ctx.Err() != nil
		}

		var positions []model.MatchPosition
		for _, atom := range allAtoms(req.LogicalQuery) {
			pos, trunc := e.matcher.FindPositions(rec.Content, atom)
			positions = append(positions, pos...)
			out.matchTrunc += trunc
		}
		// Spans collected across distinct atoms are a single record-level
		// postcondition: sorted by offset ascending, exact-span duplicates
		// collapsed (spec.md §3/§4.4).
		positions = matcher.MergePositions(positions)

		ts, _ := tf.Extract(rec.Content)
		hit := model.HitResult{
			FilePath:       fi.Path,
			FamilyID:       fi.FamilyID,
			LineNumber:     rec.LineNumber,
			EndLineNumber:  rec.EndLineNumber,
			Content:        rec.Content,
			MatchPositions: positions,
		}
		if !ts.IsZero() {
			hit.Timestamp = &ts
		}
		out.hits = append(out.hits, hit)
		out.hitEndOffsets = append(out.hitEndOffsets, rec.EndByteOffset)

		n := hitCount.Add(1)
		if maxHits > 0 && n >= maxHits {
			hitCapHit.Store(true)
			return true
		}
		return ctx.Err() != nil
	}

	readOpts := reader.Options{MaxLineBytes: lp.MaxLineBytes, LargeFileWarnMB: lp.LargeFileWarnMB}
	readErr := reader.Open(fi.Path, readOpts, func(lineNo int, off, next int64, line string, truncated bool, sep string) bool {
		b := byteCount.Add(int64(len(line)))
		out.bytesScanned += int64(len(line))
		if truncated {
			out.linesTrunc++
		}
		if maxBytes > 0 && b >= maxBytes {
			byteCapHit.Store(true)
			return true
		}
		if ctx.Err() != nil {
			return true
		}
		return agg.Feed(lineNo, off, next, line, sep, emit)
	})
	agg.Flush(emit)

	if readErr != nil {
		out.failed = readErr.Error()
	}
	return out
}

func allAtoms(q model.LogicalQuery) []model.SearchQuery {
	atoms := make([]model.SearchQuery, 0, len(q.Must)+len(q.Any))
	atoms = append(atoms, q.Must...)
	atoms = append(atoms, q.Any...)
	return atoms
}
