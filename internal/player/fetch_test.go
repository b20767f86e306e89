package player

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorview/playback/internal/logging"
)

func TestWarmStore(t *testing.T) {
	ws := NewWarmStore()

	_, ok := ws.Get("u0")
	assert.False(t, ok)

	ws.Set("u0", []byte("segment-bytes"))
	data, ok := ws.Get("u0")
	require.True(t, ok)
	assert.Equal(t, []byte("segment-bytes"), data)
	assert.Equal(t, 1, ws.Len())

	ws.Drop("u0")
	_, ok = ws.Get("u0")
	assert.False(t, ok)

	ws.Set("u1", []byte("a"))
	ws.Set("u2", []byte("b"))
	ws.Clear()
	assert.Equal(t, 0, ws.Len())
}

func TestHTTPFetcherUsesWarmStore(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("chunk-data"))
	}))
	defer srv.Close()

	ws := NewWarmStore()
	f := NewHTTPFetcher(srv.Client(), ws, logging.Nop())

	data, err := f.Fetch(context.Background(), srv.URL+"/chunk001.m4s")
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk-data"), data)
	assert.Equal(t, int32(1), hits.Load())

	// Second fetch is served from the warm store
	data, err = f.Fetch(context.Background(), srv.URL+"/chunk001.m4s")
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk-data"), data)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), nil, logging.Nop())
	_, err := f.Fetch(context.Background(), srv.URL+"/chunk001.m4s")
	assert.Error(t, err)
}

func TestHTTPFetcherPrimeUsesHead(t *testing.T) {
	var method atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), nil, logging.Nop())
	err := f.Prime(context.Background(), srv.URL+"/chunk002.m4s")
	require.NoError(t, err)
	assert.Equal(t, http.MethodHead, method.Load())
}

func TestPrefetcherWarmsNextAndPrimesRest(t *testing.T) {
	fetcher := &memFetcher{data: map[string][]byte{
		"u0": []byte("a"), "u1": []byte("b"), "u2": []byte("c"), "u3": []byte("d"),
	}}

	pf := NewPrefetcher(fetcher, 3, logging.Nop())
	urls := []string{"u0", "u1", "u2", "u3"}

	pf.WarmAhead(context.Background(), urls, 0)

	require.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return len(fetcher.fetches) == 1 && len(fetcher.primes) == 2
	}, time.Second, time.Millisecond)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Equal(t, []string{"u1"}, fetcher.fetches, "next chunk fully warmed")
	assert.ElementsMatch(t, []string{"u2", "u3"}, fetcher.primes, "deeper chunks primed")
}

func TestPrefetcherDeduplicates(t *testing.T) {
	fetcher := &memFetcher{data: map[string][]byte{"u0": []byte("a"), "u1": []byte("b")}}

	pf := NewPrefetcher(fetcher, 1, logging.Nop())
	urls := []string{"u0", "u1"}

	pf.WarmAhead(context.Background(), urls, 0)
	require.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return len(fetcher.fetches) == 1
	}, time.Second, time.Millisecond)

	// Repeated triggers for an already-warmed chunk are dropped
	pf.WarmAhead(context.Background(), urls, 0)
	pf.WarmAhead(context.Background(), urls, 0)
	time.Sleep(20 * time.Millisecond)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Len(t, fetcher.fetches, 1)
}

func TestPrefetcherStopsAtCatalogEnd(t *testing.T) {
	fetcher := &memFetcher{data: map[string][]byte{"u0": []byte("a")}}

	pf := NewPrefetcher(fetcher, 3, logging.Nop())
	pf.WarmAhead(context.Background(), []string{"u0"}, 0)

	time.Sleep(20 * time.Millisecond)
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Empty(t, fetcher.fetches)
	assert.Empty(t, fetcher.primes)
}
