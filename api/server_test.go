package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preflight(t *testing.T, origins []string, origin string) http.Header {
	t.Helper()
	router, err := NewRouter(NewHandler(nil, nil), RouterOptions{CORSOrigins: origins})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/rules", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Header()
}

func TestCORS_WildcardOriginNeverAllowsCredentials(t *testing.T) {
	// GIVEN: The default wildcard origin list
	// WHEN: A browser sends a preflight
	// THEN: The origin is allowed but credentials are not
	h := preflight(t, nil, "https://grid.example.com")
	assert.NotEmpty(t, h.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, h.Get("Access-Control-Allow-Credentials"))
}

func TestCORS_ExplicitOriginsAllowCredentials(t *testing.T) {
	h := preflight(t, []string{"https://grid.example.com"}, "https://grid.example.com")
	assert.Equal(t, "https://grid.example.com", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", h.Get("Access-Control-Allow-Credentials"))

	h = preflight(t, []string{"https://grid.example.com"}, "https://evil.example.com")
	assert.Empty(t, h.Get("Access-Control-Allow-Origin"))
}

func TestWildcardOrigin(t *testing.T) {
	assert.True(t, wildcardOrigin([]string{"*"}))
	assert.True(t, wildcardOrigin([]string{"https://a.example.com", " * "}))
	assert.False(t, wildcardOrigin([]string{"https://a.example.com"}))
	assert.False(t, wildcardOrigin(nil))
}

func TestToggle(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"1", true},
		{"true", true},
		{" TRUE ", true},
		{"0", false},
		{"false", false},
		{"2", false},
		{"yes", false},
		{"maybe", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, toggle(tt.in))
		})
	}
}
