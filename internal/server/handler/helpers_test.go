package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do routes a request through the given mux and decodes the envelope.
func do(t *testing.T, mux *http.ServeMux, method, target, body string) (int, testEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response %q is not an envelope: %v", rec.Body.String(), err)
	}
	return rec.Code, env
}

func wantErrorCode(t *testing.T, env testEnvelope, code string) {
	t.Helper()
	if env.Success {
		t.Fatal("expected failure envelope")
	}
	if env.Error == nil {
		t.Fatal("failure envelope missing error body")
	}
	if env.Error.Code != code {
		t.Fatalf("error code = %q, want %q", env.Error.Code, code)
	}
}
