package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/coffersTech/logsearchd/internal/model"
	"github.com/coffersTech/logsearchd/internal/searcherr"
)

// cursorPayload is the opaque pagination token contents, wire-encoded
// exactly as spec.md §3/§6 names it: {sid,f,b,l,pf,ps,t}. FilePath and
// ByteOffset are the resume point in canonical scan order; every file
// lexicographically before FilePath is skipped entirely on the next
// request, and FilePath itself is read starting at ByteOffset rather than
// from its beginning (spec.md §4.6 step 3).
type cursorPayload struct {
	SessionID   string `json:"sid,omitempty"`
	FilePath    string `json:"f"`
	ByteOffset  int64  `json:"b"`
	RecordLine  int    `json:"l"`
	Fingerprint string `json:"pf"`
	PageSize    int    `json:"ps"`
	IssuedAt    int64  `json:"t"`
	// HitsSoFar is the cumulative hit count already returned across every
	// prior page of this fingerprint, carried so max_hits is enforced
	// across the whole paginated query rather than reset per call
	// (spec.md §3 "total hits returned across all pages ... <= max_hits").
	// It is resume state, not part of the query's identity, so it is
	// deliberately excluded from fingerprint().
	HitsSoFar int64 `json:"h,omitempty"`
}

// cursorCodec signs/verifies cursors with an HMAC tag so a client can't
// forge an earlier TTL or a different fingerprint. Chosen over bcrypt
// (see SPEC_FULL.md DOMAIN STACK) because this authenticates a
// server-minted token, not a human password.
type cursorCodec struct {
	key []byte
	ttl time.Duration
}

func newCursorCodec(key []byte, ttl time.Duration) *cursorCodec {
	return &cursorCodec{key: key, ttl: ttl}
}

// fingerprint hashes exactly the field set spec.md §4.6 step 2 names:
// logic, time, record_start_regex, include_globs, exclude_globs,
// page_size, and the normalized root — never max_hits. page_size is the
// effective one, after the config default and max_page_size clamp were
// applied, so a request that leaves page_size unset gets a different
// fingerprint (and its old cursors are rejected) once a config reload
// changes the default page size.
func fingerprint(req model.SearchRequest, effectivePageSize int) string {
	b, _ := json.Marshal(struct {
		Logic        model.LogicalQuery `json:"logic"`
		Time         *model.TimeFilter  `json:"time"`
		StartRegex   string             `json:"record_start_regex"`
		IncludeGlobs []string           `json:"include_globs"`
		ExcludeGlobs []string           `json:"exclude_globs"`
		PageSize     int                `json:"page_size"`
		Root         string             `json:"root"`
	}{
		req.LogicalQuery,
		req.TimeFilter,
		req.LogStartPattern,
		normalizeGlobs(req.ScanConfig.IncludeGlobs),
		normalizeGlobs(req.ScanConfig.ExcludeGlobs),
		effectivePageSize,
		normalizeRoot(req.ScanConfig.RootPath),
	})
	sum := sha256.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func normalizeRoot(root string) string {
	if root == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(root))
}

func normalizeGlobs(globs []string) []string {
	if len(globs) == 0 {
		return nil
	}
	out := make([]string, len(globs))
	for i, g := range globs {
		out[i] = filepath.ToSlash(g)
	}
	return out
}

// mint builds a cursor resuming strictly after the record at
// (filePath, byteEnd, recordLine), per spec.md §4.6 step 8. hitsSoFar is
// the cumulative count of hits returned across this and every prior page
// of the same query, used to enforce max_hits query-wide.
func (c *cursorCodec) mint(sessionID, filePath string, byteEnd int64, recordLine int, fp string, pageSize int, hitsSoFar int64, now time.Time) string {
	payload := cursorPayload{
		SessionID:   sessionID,
		FilePath:    filePath,
		ByteOffset:  byteEnd,
		RecordLine:  recordLine,
		Fingerprint: fp,
		PageSize:    pageSize,
		IssuedAt:    now.Unix(),
		HitsSoFar:   hitsSoFar,
	}
	body, _ := json.Marshal(payload)
	tag := c.sign(body)
	token := append(body, '.')
	token = append(token, tag...)
	return base64.RawURLEncoding.EncodeToString(token)
}

func (c *cursorCodec) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(body)
	return mac.Sum(nil)
}

func (c *cursorCodec) verify(token, expectFP string, now time.Time) (cursorPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursorPayload{}, searcherr.Wrap(searcherr.CursorExpired, err, "cursor is not valid base64")
	}
	sep := len(raw) - sha256.Size
	if sep <= 0 {
		return cursorPayload{}, searcherr.New(searcherr.CursorExpired, "cursor is truncated")
	}
	body, tag := raw[:sep-1], raw[sep:]
	expected := c.sign(body)
	if !hmac.Equal(tag, expected) {
		return cursorPayload{}, searcherr.New(searcherr.CursorExpired, "cursor signature mismatch")
	}

	var payload cursorPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return cursorPayload{}, searcherr.Wrap(searcherr.CursorExpired, err, "cursor payload unreadable")
	}
	if payload.Fingerprint != expectFP {
		return cursorPayload{}, searcherr.New(searcherr.CursorMismatch, "cursor was minted for a different query")
	}
	if c.ttl > 0 && now.Sub(time.Unix(payload.IssuedAt, 0)) > c.ttl {
		return cursorPayload{}, searcherr.New(searcherr.CursorExpired, "cursor has expired")
	}
	return payload, nil
}
