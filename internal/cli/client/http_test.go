package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL, apiKey string) *APIClient {
	cmd := &cobra.Command{}
	cmd.Flags().String("api-key", apiKey, "")
	cmd.Flags().String("api-url", baseURL, "")

	c, _ := NewAPIClient(cmd)
	return c
}

func TestAPIClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/documents", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"doc-1"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "test-key")
	resp, err := c.Get("/documents")
	require.NoError(t, err)

	var data map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "doc-1", data["id"])
}

func TestAPIClient_Post_SendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["content"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"f-1"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	resp, err := c.Post("/conversations/c1/facts", map[string]string{"content": "hello"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Data)
}

func TestAPIClient_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	_, err := c.Get("/documents")
	require.NoError(t, err)
}

func TestAPIClient_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"document not found"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "test-key")
	_, err := c.Get("/documents/missing")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "document not found", apiErr.Message)
	assert.Contains(t, apiErr.Error(), "404")
}

func TestAPIClient_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	_, err := c.Get("/health")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
}

func TestAPIClient_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "test-key")
	resp, err := c.Delete("/facts/f-1")
	require.NoError(t, err)
	assert.Nil(t, resp.Data)
	assert.Empty(t, resp.Error)
}

func TestNewAPIClient_EnvFallback(t *testing.T) {
	t.Setenv(envAPIKey, "env-key")
	t.Setenv(envAPIURL, "http://example.test:9000")

	c, err := NewAPIClient(&cobra.Command{})
	require.NoError(t, err)
	assert.Equal(t, "env-key", c.apiKey)
	assert.Equal(t, "http://example.test:9000", c.baseURL)
}

func TestNewAPIClient_FlagOverridesEnv(t *testing.T) {
	t.Setenv(envAPIKey, "env-key")
	t.Setenv(envAPIURL, "http://env.test")

	c := newTestClient("http://flag.test", "flag-key")
	assert.Equal(t, "flag-key", c.apiKey)
	assert.Equal(t, "http://flag.test", c.baseURL)
}

func TestNewAPIClient_DefaultURL(t *testing.T) {
	t.Setenv(envAPIKey, "")
	t.Setenv(envAPIURL, "")

	c, err := NewAPIClient(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAPIURL, c.baseURL)
}
