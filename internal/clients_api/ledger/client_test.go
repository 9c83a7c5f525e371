package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-sales-monitor/internal/infra/config"
	"nft-sales-monitor/internal/infra/retry"
)

const collection = "EQCollection"

func testConfig(provider, baseURL string) *config.LedgerConfig {
	return &config.LedgerConfig{
		Provider:       provider,
		BaseURL:        baseURL,
		APIKey:         "key",
		Collection:     collection,
		RequestTimeout: 5,
		MaxRetries:     2,
		RateLimit:      1000,
	}
}

func TestTonAPIClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/blockchain/accounts/"+collection+"/transactions", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "1000", r.URL.Query().Get("before_lt"))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transactions":[
			{"hash":"h2","lt":120,"utime":1700000120,
			 "in_msg":{"value":2000000000,"source":{"address":"B1"},"destination":{"address":"` + collection + `"}},
			 "out_msgs":[{"value":1,"destination":{"address":"N1"}}]},
			{"hash":"h1","lt":"110","utime":1700000110,"in_msg":{"value":"not-a-number"},"out_msgs":[]}
		]}`))
	}))
	defer srv.Close()

	c := NewTonAPIClient(testConfig("tonapi", srv.URL), nil)
	txs, err := c.Fetch(context.Background(), FetchOptions{Limit: 50, BeforePosition: 1000})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "h2", txs[0].Hash)
	assert.Equal(t, uint64(120), txs[0].Position)
	assert.Equal(t, int64(1700000120), txs[0].Timestamp)
	require.NotNil(t, txs[0].In)
	assert.Equal(t, "B1", txs[0].In.Source)
	assert.Equal(t, uint64(2_000_000_000), txs[0].In.Value)
	require.Len(t, txs[0].Out, 1)
	assert.Equal(t, "N1", txs[0].Out[0].Destination)

	assert.Equal(t, uint64(110), txs[1].Position)
	require.NotNil(t, txs[1].In)
	assert.Zero(t, txs[1].In.Value)
	assert.Empty(t, txs[1].In.Source)
}

func TestTonAPIClient_LookupItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/nfts/N1", r.URL.Path)
		w.Write([]byte(`{"address":"0:abc","metadata":{"name":"Peach #12"}}`))
	}))
	defer srv.Close()

	c := NewTonAPIClient(testConfig("tonapi", srv.URL), nil)
	item, err := c.LookupItem(context.Background(), "N1")
	require.NoError(t, err)
	assert.Equal(t, "Peach #12", item.Name)
	assert.Equal(t, "0:abc", item.Address)
}

func TestTonCenterClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/api/v3/transactions", r.URL.Path)
		assert.Equal(t, collection, q.Get("account"))
		assert.Equal(t, "desc", q.Get("sort"))
		assert.Equal(t, "100", q.Get("limit"))
		assert.Equal(t, "999", q.Get("end_lt"))
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		w.Write([]byte(`{"transactions":[
			{"hash":"h","lt":"900","now":1700000000,
			 "in_msg":{"source":"B1","destination":"` + collection + `","value":"5000000000"},
			 "out_msgs":[{"source":"` + collection + `","destination":"N1","value":"50000000"}]}
		],"address_book":{}}`))
	}))
	defer srv.Close()

	c := NewTonCenterClient(testConfig("toncenter", srv.URL), nil)
	txs, err := c.Fetch(context.Background(), FetchOptions{Limit: 500, BeforePosition: 1000})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, uint64(900), txs[0].Position)
	assert.Equal(t, uint64(5_000_000_000), txs[0].In.Value)
	assert.Equal(t, "N1", txs[0].Out[0].Destination)
}

func TestIndexerClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/transactions", r.URL.Path)
		assert.Equal(t, "1", q.Get("limit"))
		assert.Empty(t, q.Get("before_position"))
		w.Write([]byte(`{"transactions":[{"hash":"h","position":42,"timestamp":"1700000000","in_msg":null,"out_msgs":[]}]}`))
	}))
	defer srv.Close()

	c := NewIndexerClient(testConfig("indexer", srv.URL), nil)
	txs, err := c.Fetch(context.Background(), FetchOptions{Limit: 0})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, uint64(42), txs[0].Position)
	assert.Equal(t, int64(1700000000), txs[0].Timestamp)
	assert.Nil(t, txs[0].In)
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"transactions":[]}`))
	}))
	defer srv.Close()

	c := NewIndexerClient(testConfig("indexer", srv.URL), nil)
	txs, err := c.Fetch(context.Background(), FetchOptions{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"account not found"}`))
	}))
	defer srv.Close()

	c := NewIndexerClient(testConfig("indexer", srv.URL), nil)
	_, err := c.Fetch(context.Background(), FetchOptions{Limit: 5})
	require.Error(t, err)

	var he *retry.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusNotFound, he.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	c := NewTonCenterClient(testConfig("toncenter", srv.URL), nil)
	_, err := c.Fetch(context.Background(), FetchOptions{Limit: 5})
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	for _, p := range []string{"tonapi", "toncenter", "indexer"} {
		c, err := New(testConfig(p, "http://localhost"), nil)
		require.NoError(t, err)
		assert.Equal(t, p, c.Provider())
	}

	_, err := New(testConfig("tonscan", "http://localhost"), nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestPositions(t *testing.T) {
	txs := []Transaction{{Position: 50}, {Position: 10}, {Position: 30}}
	assert.Equal(t, uint64(50), MaxPosition(txs))
	assert.Equal(t, uint64(10), MinPosition(txs))
	assert.Zero(t, MaxPosition(nil))
	assert.Zero(t, MinPosition(nil))
}

func TestFlexUint(t *testing.T) {
	cases := map[string]uint64{
		`123`:                    123,
		`"456"`:                  456,
		`null`:                   0,
		`"abc"`:                  0,
		`-5`:                     0,
		`"99999999999999999999"`: 0,
	}
	for in, want := range cases {
		var f flexUint
		require.NoError(t, f.UnmarshalJSON([]byte(in)), in)
		assert.Equal(t, want, uint64(f), in)
	}
}
