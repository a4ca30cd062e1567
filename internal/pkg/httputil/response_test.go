package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestJSON_UnencodableValueIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusOK, map[string]any{"ch": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decodeError(t, rec).Code)
}

func TestError_DerivesCodeFromStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "campaign not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "not_found", body.Code)
	assert.Equal(t, "campaign not found", body.Error)
}

func TestInternalError_HidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(rec, errors.New(`pq: relation "campaigns" does not exist`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
	details, ok := decodeError(t, rec).Details.(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, details["error_id"])
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
		msg  string
	}{
		{"valid", `{"reason":"x"}`, true, ""},
		{"empty", ``, false, "request body is empty"},
		{"malformed", `{"reason":`, false, "invalid JSON"},
		{"trailing", `{"reason":"x"} {"reason":"y"}`, false, "unexpected data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst struct {
				Reason string `json:"reason"`
			}

			got := Decode(rec, req, &dst)

			assert.Equal(t, tt.ok, got)
			if !tt.ok {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Contains(t, decodeError(t, rec).Error, tt.msg)
			}
		})
	}
}

func TestDecodeOptional(t *testing.T) {
	tests := []struct {
		name   string
		body   io.Reader
		chunk  bool
		ok     bool
		reason string
	}{
		{"no body", nil, false, true, ""},
		{"empty chunked", strings.NewReader(""), true, true, ""},
		{"value", strings.NewReader(`{"reason":"typo"}`), true, true, "typo"},
		{"malformed", strings.NewReader(`{"reason"`), false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", tt.body)
			if tt.chunk {
				req.ContentLength = -1
				req.TransferEncoding = []string{"chunked"}
			}
			var dst struct {
				Reason string `json:"reason"`
			}

			got := DecodeOptional(rec, req, &dst)

			assert.Equal(t, tt.ok, got)
			assert.Equal(t, tt.reason, dst.Reason)
			if !tt.ok {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			}
		})
	}
}
