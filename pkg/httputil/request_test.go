package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	type payload struct {
		Name   string `json:"name"`
		Amount string `json:"amount"`
	}

	t.Run("valid JSON", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"rent","amount":"1200.00"}`))

		var p payload
		require.NoError(t, ParseJSON(r, &p))
		assert.Equal(t, "rent", p.Name)
		assert.Equal(t, "1200.00", p.Amount)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{broken`))

		var p payload
		err := ParseJSON(r, &p)
		assert.ErrorContains(t, err, "invalid JSON")
	})
}

func TestParseJSONOrError(t *testing.T) {
	t.Run("writes 400 on bad body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", bytes.NewReader([]byte("nope")))
		w := httptest.NewRecorder()

		var dest map[string]interface{}
		ok := ParseJSONOrError(w, r, &dest)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("returns true on valid body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"x":1}`))
		w := httptest.NewRecorder()

		var dest map[string]interface{}
		ok := ParseJSONOrError(w, r, &dest)

		assert.True(t, ok)
	})
}

func TestParsePathInt64(t *testing.T) {
	newRequest := func(id string) *http.Request {
		r := httptest.NewRequest("GET", "/leases/"+id, nil)
		return mux.SetURLVars(r, map[string]string{"id": id})
	}

	t.Run("valid", func(t *testing.T) {
		val, err := ParsePathInt64(newRequest("42"), "id")
		require.NoError(t, err)
		assert.Equal(t, int64(42), val)
	})

	t.Run("not a number", func(t *testing.T) {
		_, err := ParsePathInt64(newRequest("abc"), "id")
		assert.ErrorContains(t, err, "invalid integer")
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/leases", nil)
		_, err := ParsePathInt64(r, "id")
		assert.ErrorContains(t, err, "missing path parameter")
	})
}

func TestParsePathInt64OrError(t *testing.T) {
	r := httptest.NewRequest("GET", "/invoices/abc", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "abc"})
	w := httptest.NewRecorder()

	_, ok := ParsePathInt64OrError(w, r, "id")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryInt(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/?limit=25", nil)
		val, err := ParseQueryInt(r, "limit", 10)
		require.NoError(t, err)
		assert.Equal(t, 25, val)
	})

	t.Run("absent uses default", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		val, err := ParseQueryInt(r, "limit", 10)
		require.NoError(t, err)
		assert.Equal(t, 10, val)
	})

	t.Run("invalid", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/?limit=many", nil)
		_, err := ParseQueryInt(r, "limit", 10)
		assert.Error(t, err)
	})
}

func TestParseQueryBool(t *testing.T) {
	r := httptest.NewRequest("GET", "/?mark_paid=true", nil)
	val, err := ParseQueryBool(r, "mark_paid", false)
	require.NoError(t, err)
	assert.True(t, val)

	r = httptest.NewRequest("GET", "/", nil)
	val, err = ParseQueryBool(r, "mark_paid", true)
	require.NoError(t, err)
	assert.True(t, val)
}

func TestParseQueryDate(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	fallback := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)

	t.Run("valid date", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/?as_of=2024-03-15", nil)
		val, err := ParseQueryDate(r, "as_of", loc, fallback)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, loc), val)
	})

	t.Run("absent uses default", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		val, err := ParseQueryDate(r, "as_of", loc, fallback)
		require.NoError(t, err)
		assert.Equal(t, fallback, val)
	})

	t.Run("invalid format", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/?as_of=03%2F15%2F2024", nil)
		_, err := ParseQueryDate(r, "as_of", loc, fallback)
		assert.ErrorContains(t, err, "YYYY-MM-DD")
	})
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(w, "value", "name"))

	w = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "", "name"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name is required")
}

func TestRequirePositive(t *testing.T) {
	w := httptest.NewRecorder()
	assert.True(t, RequirePositive(w, 5, "lease_id"))

	w = httptest.NewRecorder()
	assert.False(t, RequirePositive(w, 0, "lease_id"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
