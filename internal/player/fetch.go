package player

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/proctorview/playback/internal/logging"
)

// Fetcher retrieves chunk content. Fetch pulls the full segment; Prime is
// the lightweight resource hint used for deeper prefetch positions.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Prime(ctx context.Context, url string) error
}

// WarmStore is a thread-safe in-memory store for prefetched chunk bytes,
// keyed by URL. One store is shared between a player's prefetcher and its
// elements so a warmed chunk starts without a second fetch.
type WarmStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewWarmStore creates an empty warm store
func NewWarmStore() *WarmStore {
	return &WarmStore{data: make(map[string][]byte)}
}

// Get retrieves warmed bytes for a URL
func (w *WarmStore) Get(url string) ([]byte, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	data, ok := w.data[url]
	return data, ok
}

// Set stores warmed bytes for a URL
func (w *WarmStore) Set(url string, data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data[url] = data
}

// Drop removes a URL from the store, typically once its chunk has played
func (w *WarmStore) Drop(url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.data, url)
}

// Clear empties the store, used when the catalog is replaced
func (w *WarmStore) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data = make(map[string][]byte)
}

// Len returns the number of warmed chunks
func (w *WarmStore) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.data)
}

// HTTPFetcher fetches chunk content over HTTP, consulting a warm store
// before going to the network.
type HTTPFetcher struct {
	client *http.Client
	store  *WarmStore
	log    *logging.Logger
}

// NewHTTPFetcher creates a fetcher. A nil client selects
// http.DefaultClient; a nil store disables warm-store lookups.
func NewHTTPFetcher(client *http.Client, store *WarmStore, log *logging.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, store: store, log: log}
}

// Fetch returns the full segment content
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.store != nil {
		if data, ok := f.store.Get(url); ok {
			return data, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("segment fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("segment fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("segment read failed: %w", err)
	}

	if f.store != nil {
		f.store.Set(url, data)
	}

	return data, nil
}

// Prime issues a HEAD request so intermediaries warm their caches without
// transferring the segment body.
func (f *HTTPFetcher) Prime(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create prime request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("prime failed: %w", err)
	}
	resp.Body.Close()

	return nil
}
