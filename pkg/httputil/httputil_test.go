package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithErrorDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithErrorDetails(rec, http.StatusBadRequest, "invalid attack parameters", []string{"a", "b"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid attack parameters", body.Error)
	assert.Equal(t, []string{"a", "b"}, body.Details)
}

func TestGetIntQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=25&offset=abc", nil)
	assert.Equal(t, 25, GetIntQueryParam(r, "limit", 50))
	assert.Equal(t, 0, GetIntQueryParam(r, "offset", 0))
	assert.Equal(t, 7, GetIntQueryParam(r, "missing", 7))
	assert.Equal(t, "25", GetQueryParam(r, "limit"))
}
