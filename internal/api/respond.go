package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// writeJSON encodes v as JSON and writes it with the given status code. The
// Content-Type header is set by the responseHeaders middleware.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeRaw writes a JSON document that is already serialized, e.g. registry
// values stored verbatim.
func writeRaw(w http.ResponseWriter, status int, raw string) {
	w.WriteHeader(status)
	if _, err := w.Write([]byte(raw)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// issued answers 202 Accepted with the issue timestamp, the standard reply
// for operations that publish to the transport.
func issued(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]int64{"issued": time.Now().Unix()})
}

func created(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusCreated, v)
}

func badRequest(w http.ResponseWriter) {
	w.WriteHeader(http.StatusBadRequest)
}

func notFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
}

func noContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func preconditionFailed(w http.ResponseWriter) {
	w.WriteHeader(http.StatusPreconditionFailed)
}

// internalError logs the full error server-side and answers 500 with an
// empty body.
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	LoggerFromContext(r.Context()).Error(msg, "error", err)
	w.WriteHeader(http.StatusInternalServerError)
}
