package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/omniswap/swapd/internal/domain"
)

// Stable error codes surfaced in the response envelope. Clients branch on
// these, not on messages.
const (
	codeSwapNotFound      = "SWAP_NOT_FOUND"
	codeQuoteNotFound     = "QUOTE_NOT_FOUND"
	codeTriggerNotFound   = "TRIGGER_NOT_FOUND"
	codePriceNotFound     = "PRICE_NOT_FOUND"
	codeSwapFinished      = "SWAP_FINISHED"
	codeStepIndexMismatch = "STEP_INDEX_MISMATCH"
	codeStepNotPending    = "STEP_NOT_PENDING"
	codeQuoteExpired      = "QUOTE_EXPIRED"
	codeRouteNotFound     = "ROUTE_NOT_FOUND"
	codeValidation        = "VALIDATION_ERROR"
	codeConflict          = "CONFLICT"
	codeProviderDown      = "PROVIDER_UNAVAILABLE"
	codeInternal          = "INTERNAL_ERROR"
)

// envelope is the uniform response shape for every REST endpoint.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeData writes a success envelope with the given HTTP status code.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError writes a failure envelope with a stable code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: &errorBody{Code: code, Message: msg}})
}

// writeJSON marshals v and writes it with the given HTTP status code. If
// marshaling fails, it falls back to a plain 500 envelope.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"encoding failed"}}`,
			http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeServiceError maps domain sentinels to envelope codes and HTTP status.
// notFoundCode names the resource for ErrNotFound so a missing swap and a
// missing trigger stay distinguishable. Unknown errors are logged and become
// an opaque 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, notFoundCode string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, domain.ErrQuoteExpired):
		writeError(w, http.StatusBadRequest, codeQuoteExpired, "quote expired or unknown")
	case errors.Is(err, domain.ErrRouteNotFound):
		writeError(w, http.StatusBadRequest, codeRouteNotFound, "route not part of quote")
	case errors.Is(err, domain.ErrSwapFinished):
		writeError(w, http.StatusConflict, codeSwapFinished, "swap already reached a terminal state")
	case errors.Is(err, domain.ErrStepIndexMismatch):
		writeError(w, http.StatusConflict, codeStepIndexMismatch, "step index is not the swap's current step")
	case errors.Is(err, domain.ErrStepNotPending):
		writeError(w, http.StatusConflict, codeStepNotPending, "step already submitted or settled")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, "state changed concurrently, re-read and retry")
	case errors.Is(err, domain.ErrProviderDown):
		writeError(w, http.StatusServiceUnavailable, codeProviderDown, "price provider unavailable")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundCode, "resource not found")
	default:
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=20 (max 200), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 20
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// pathIndex parses a numeric path parameter, returning -1 when absent or
// malformed so step guards reject it downstream.
func pathIndex(r *http.Request, name string) int {
	v := r.PathValue(name)
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
