package httputil

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	var dest struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"basic"}`))
	require.NoError(t, ParseJSON(req, &dest))
	assert.Equal(t, "basic", dest.Name)

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"basic","limit":1}`))
	assert.Error(t, ParseJSON(req, &dest))

	rec := httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/", strings.NewReader(`{`))
	assert.False(t, ParseJSONOrError(rec, req, &dest))
	assert.Equal(t, 400, rec.Code)
}

func TestParsePathInt64(t *testing.T) {
	tests := map[string]bool{"42": true, "0": false, "-3": false, "abc": false, "": false}
	for value, ok := range tests {
		req := mux.SetURLVars(httptest.NewRequest("GET", "/", nil), map[string]string{"id": value})
		got, err := ParsePathInt64(req, "id")
		if ok {
			require.NoError(t, err)
			assert.Equal(t, int64(42), got)
		} else {
			assert.Error(t, err, value)
		}
	}
}

func TestParseQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/?force=true&limit=5&user_id=9&bad=x", nil)

	force, err := ParseQueryBool(req, "force", false)
	require.NoError(t, err)
	assert.True(t, force)

	limit, err := ParseQueryInt(req, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)

	userID, err := ParseQueryInt64(req, "user_id", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(9), userID)

	missing, err := ParseQueryInt(req, "offset", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, missing)

	_, err = ParseQueryBool(req, "bad", false)
	assert.Error(t, err)
	_, err = ParseQueryInt64(req, "bad", 0)
	assert.Error(t, err)
}
