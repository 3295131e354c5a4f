package query

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gridwatt/market-indexer/pkg/marketstore"
)

func newTestServer(t *testing.T, store *marketstore.MemStore) *httptest.Server {
	t.Helper()
	router := NewRouter(newService(t, store), zap.NewNop())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestGetListingsEndpoint(t *testing.T) {
	store := marketstore.NewMemStore()
	seedListing(t, store, activeListing(1, 1))
	seedListing(t, store, activeListing(2, 2))
	srv := newTestServer(t, store)

	var page ListingsPage
	code := getJSON(t, srv.URL+"/listings?zone=1", &page)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, page.Listings, 1)
	assert.Equal(t, uint64(1), page.Listings[0].ListingID)
	assert.Equal(t, 1, page.Pagination.Total)
}

func TestGetListingsRejectsBadZone(t *testing.T) {
	srv := newTestServer(t, marketstore.NewMemStore())

	var body map[string]any
	code := getJSON(t, srv.URL+"/listings?zone=mars", &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "error")
}

func TestGetListingByIDEndpoint(t *testing.T) {
	store := marketstore.NewMemStore()
	seedListing(t, store, activeListing(7, 1))
	srv := newTestServer(t, store)

	var detail ListingDetail
	code := getJSON(t, srv.URL+"/listings/7", &detail)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, uint64(7), detail.ListingID)
	assert.NotNil(t, detail.Orders)

	var body map[string]any
	code = getJSON(t, srv.URL+"/listings/404", &body)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetZoneMapEndpoint(t *testing.T) {
	store := marketstore.NewMemStore()
	seedListing(t, store, activeListing(1, 1))
	srv := newTestServer(t, store)

	var views []ZoneView
	code := getJSON(t, srv.URL+"/listings/map/zones", &views)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, views, 1)
	assert.Equal(t, uint64(1), views[0].Zone)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, marketstore.NewMemStore())

	var h Health
	code := getJSON(t, srv.URL+"/health", &h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", h.Status)
}
