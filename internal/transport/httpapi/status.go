package httpapi

import (
	"net/http"

	"github.com/coffersTech/logsearchd/internal/searcherr"
)

// StatusForKind maps the shared error taxonomy to an HTTP status, the one
// place this transport decides the mapping (spec §7 error handling
// design, ambient stack "error handling" section).
func StatusForKind(kind searcherr.Kind) int {
	switch kind {
	case searcherr.BadRequest, searcherr.RegexInvalid, searcherr.CursorExpired, searcherr.CursorMismatch:
		return http.StatusBadRequest
	case searcherr.FileDenied:
		return http.StatusForbidden
	case searcherr.QuotaExceeded:
		return http.StatusTooManyRequests
	case searcherr.DeadlineHit:
		return http.StatusRequestTimeout
	case searcherr.HitCapReached, searcherr.ByteCapReached:
		return http.StatusPartialContent
	case searcherr.IOError:
		return http.StatusUnprocessableEntity
	case searcherr.RegexTimeout:
		return http.StatusOK // recorded as a per-query counter, not a request failure
	default:
		return http.StatusInternalServerError
	}
}
