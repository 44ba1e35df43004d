package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONHelpers(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantCode   string
	}{
		{"ok", func(w http.ResponseWriter) { OK(w, map[string]int{"n": 1}) }, http.StatusOK, ""},
		{"created", func(w http.ResponseWriter) { Created(w, map[string]int{"n": 1}) }, http.StatusCreated, ""},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "id is required") }, http.StatusBadRequest, "invalid_input"},
		{"unauthorized", Unauthorized, http.StatusUnauthorized, "unauthorized"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "nope") }, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
			if tt.wantCode != "" {
				var body ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantCode, body.Code)
			}
		})
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(rec, errors.New("open /var/lib/tracking/sent.jsonl: permission denied"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/var/lib")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestDecode(t *testing.T) {
	var dst struct {
		ID string `json:"id"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"id":"abc"}`))
	rec := httptest.NewRecorder()
	assert.True(t, Decode(rec, req, &dst))
	assert.Equal(t, "abc", dst.ID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
	rec = httptest.NewRecorder()
	assert.False(t, Decode(rec, req, &dst))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
