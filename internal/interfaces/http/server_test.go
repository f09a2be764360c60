package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiarashplusplus/fiml/internal/arbiter"
	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
	"github.com/kiarashplusplus/fiml/internal/provider/providertest"
	"github.com/kiarashplusplus/fiml/internal/stream"
)

func newTestServer(t *testing.T) (*httptest.Server, *providertest.Mock) {
	t.Helper()

	m := providertest.New("yahoo")
	m.PriceFn = func(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
		return m.Response(asset, market.DataTypePrice, map[string]any{"price": 150.25}, 0.95), nil
	}

	r := provider.NewRegistry()
	require.NoError(t, r.Register(m))
	require.NoError(t, r.Initialize(context.Background()))

	engine := arbiter.NewEngine(r, nil)
	manager := stream.NewManager(engine, nil)
	s := NewServer(":0", engine, r, manager, "US", 300)

	server := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(server.Close)
	return server, m
}

func getBody(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestServer_Healthz(t *testing.T) {
	server, _ := newTestServer(t)

	status, body := getBody(t, server.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body["providers"], "yahoo")
}

func TestServer_Providers(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/providers")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "yahoo", entries[0]["name"])
	assert.Equal(t, true, entries[0]["enabled"])
	assert.Equal(t, false, entries[0]["in_cooldown"])
}

func TestServer_FetchPrice(t *testing.T) {
	server, _ := newTestServer(t)

	status, body := getBody(t, server.URL+"/api/v1/price/AAPL")
	assert.Equal(t, http.StatusOK, status)

	plan := body["plan"].(map[string]any)
	assert.Equal(t, "yahoo", plan["primary"])

	response := body["response"].(map[string]any)
	data := response["data"].(map[string]any)
	assert.Equal(t, 150.25, data["price"])
}

func TestServer_FetchRejectsBadDataType(t *testing.T) {
	server, _ := newTestServer(t)

	status, body := getBody(t, server.URL+"/api/v1/sentiment/AAPL")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "sentiment")
}

func TestServer_FetchNoProvider(t *testing.T) {
	server, _ := newTestServer(t)

	// The lone provider only serves price data.
	status, body := getBody(t, server.URL+"/api/v1/news/AAPL")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body["error"], "no provider available")
}
