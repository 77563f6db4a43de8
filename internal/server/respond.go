package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Machine-readable error codes carried in the error envelope.
const (
	codeInvalidArgument = "INVALID_ARGUMENT"
	codeNotFound        = "NOT_FOUND"
	codeUnauthorized    = "UNAUTHORIZED"
	codeInternal        = "INTERNAL_ERROR"
)

// errorBody is the uniform error envelope every failing endpoint returns.
// Status carries the HTTP status code; details is always an object, empty
// when there is nothing to add.
type errorBody struct {
	Status  int         `json:"status"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	TraceID string      `json:"trace_id"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	if details == nil {
		details = map[string]string{}
	}
	writeJSON(w, status, errorBody{
		Status:  status,
		Code:    code,
		Message: message,
		TraceID: uuid.NewString(),
		Details: details,
	})
}
