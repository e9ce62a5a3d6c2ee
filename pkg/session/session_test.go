package session

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samogod/trainconf/pkg/config"
)

func TestExtractHostName(t *testing.T) {
	tests := map[string]string{
		"https://api.github.com/repos/samogod/trainconf": "api.github.com",
		"http://localhost:9200/_bulk":                    "localhost",
		"localhost:9200":                                 "unknown",
		"":                                               "unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, extractHostName(in), in)
	}
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil)
	assert.EqualError(t, err, "configuration not loaded")
}

func TestLoggingTransportKeepsErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index_not_found_exception", http.StatusNotFound)
	}))
	defer srv.Close()

	var logged []string
	DebugLog = func(format string, args ...interface{}) {
		logged = append(logged, format)
	}
	defer func() { DebugLog = nil }()

	s, err := New(config.Default())
	require.NoError(t, err)
	require.IsType(t, &LoggingTransport{}, s.Transport)

	resp, err := s.Client.Get(srv.URL + "/trainconf_schedules")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "index_not_found_exception")
	assert.Contains(t, logged, "error response body: %s")
}
