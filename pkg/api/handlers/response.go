package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/marmos91/gatefs/pkg/lock"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Last resort; the status line is already out.
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// writeLockError maps a broker error to its HTTP status and wire body.
func writeLockError(w http.ResponseWriter, err error) {
	code := lock.CodeOf(err)
	resp := LockResponse{Status: StatusError, ErrorKind: string(code), Error: err.Error()}

	var httpStatus int
	switch code {
	case lock.CodeQueueTimeout:
		resp.Status = StatusTimeout
		httpStatus = http.StatusRequestTimeout
	case lock.CodeNotHeld:
		resp.Status = StatusNotHeld
		httpStatus = http.StatusNotFound
	case lock.CodeLeaseExpired, lock.CodeForceExpired:
		resp.Status = StatusExpired
		httpStatus = http.StatusGone
	case lock.CodeInvalidArgument:
		httpStatus = http.StatusBadRequest
	case lock.CodeModeConflict:
		httpStatus = http.StatusConflict
	case lock.CodeQueueFull:
		httpStatus = http.StatusTooManyRequests
	case lock.CodeStoreFailure:
		httpStatus = http.StatusInternalServerError
	case lock.CodeClosed:
		httpStatus = http.StatusServiceUnavailable
	default:
		resp.ErrorKind = "internal"
		httpStatus = http.StatusInternalServerError
	}

	writeJSON(w, httpStatus, resp)
}

// writeInvalid writes a 400 with the invalid_argument error kind.
func writeInvalid(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, LockResponse{
		Status:    StatusError,
		ErrorKind: string(lock.CodeInvalidArgument),
		Error:     msg,
	})
}
