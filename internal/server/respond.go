package server

import (
	"errors"
	"net/http"

	j "github.com/goccy/go-json"

	"github.com/reoring/apimeta"
)

// errorPayload is the body of every non-2xx response except 422 validation
// results and raw decode failures.
type errorPayload struct {
	Error  string         `json:"error"`
	Issues apimeta.Issues `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := j.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string, issues apimeta.Issues) {
	writeJSON(w, status, errorPayload{Error: msg, Issues: issues})
}

// writeBodyError answers a request whose body could not be read or decoded.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
		return
	}
	if iss, ok := apimeta.AsIssues(err); ok {
		writeError(w, http.StatusBadRequest, "malformed document", iss)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error(), nil)
}

func writeTransformError(w http.ResponseWriter, err error) {
	var invalid *apimeta.InvalidFieldError
	switch {
	case errors.Is(err, apimeta.ErrMissingField), errors.As(err, &invalid):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
	}
}
