package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/proctorview/playback/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	// Create a mini Redis server for testing
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	if cache == nil {
		t.Fatal("Cache should not be nil")
	}

	// Test ping
	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestCache_CatalogOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	catalog := &models.Catalog{
		SessionID: "sess-1",
		Kind:      models.StreamScreen,
		InitURL:   "https://store.example/screen/sess-1/init.mp4",
		Media: []models.Segment{
			{Index: 0, Name: "chunk0.mp4", URL: "https://store.example/screen/sess-1/chunk0.mp4"},
			{Index: 1, Name: "chunk1.mp4", URL: "https://store.example/screen/sess-1/chunk1.mp4"},
		},
	}

	// Test SetCatalog
	err := cache.SetCatalog(ctx, catalog, 5*time.Minute)
	if err != nil {
		t.Fatalf("SetCatalog failed: %v", err)
	}

	// Test GetCatalog
	retrieved, err := cache.GetCatalog(ctx, models.StreamScreen, "sess-1")
	if err != nil {
		t.Fatalf("GetCatalog failed: %v", err)
	}

	if retrieved == nil {
		t.Fatal("Retrieved catalog should not be nil")
	}

	if retrieved.SessionID != catalog.SessionID {
		t.Errorf("Expected session ID %s, got %s", catalog.SessionID, retrieved.SessionID)
	}

	if len(retrieved.Media) != 2 {
		t.Errorf("Expected 2 media segments, got %d", len(retrieved.Media))
	}

	// Catalogs are keyed per stream kind
	other, err := cache.GetCatalog(ctx, models.StreamCamera, "sess-1")
	if err != nil {
		t.Fatalf("GetCatalog for camera should not error: %v", err)
	}
	if other != nil {
		t.Error("Camera catalog should be a cache miss")
	}

	// Test DeleteCatalog
	if err := cache.DeleteCatalog(ctx, models.StreamScreen, "sess-1"); err != nil {
		t.Fatalf("DeleteCatalog failed: %v", err)
	}

	deleted, err := cache.GetCatalog(ctx, models.StreamScreen, "sess-1")
	if err != nil {
		t.Fatalf("GetCatalog after delete should not error: %v", err)
	}
	if deleted != nil {
		t.Error("Catalog should be deleted")
	}
}

func TestCache_DurationOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	durations := []models.ChunkDuration{
		{Index: 0, StartTime: 0, EndTime: 4.2, Duration: 4.2},
		{Index: 1, StartTime: 4.2, EndTime: 8.1, Duration: 3.9},
	}

	// Test SetDurations
	err := cache.SetDurations(ctx, models.StreamCamera, "sess-2", durations, 10*time.Minute)
	if err != nil {
		t.Fatalf("SetDurations failed: %v", err)
	}

	// Test GetDurations
	retrieved, err := cache.GetDurations(ctx, models.StreamCamera, "sess-2")
	if err != nil {
		t.Fatalf("GetDurations failed: %v", err)
	}

	if len(retrieved) != 2 {
		t.Fatalf("Expected 2 durations, got %d", len(retrieved))
	}

	if retrieved[1].EndTime != 8.1 {
		t.Errorf("Expected end time 8.1, got %f", retrieved[1].EndTime)
	}

	// Test cache miss
	missing, err := cache.GetDurations(ctx, models.StreamCamera, "no-such-session")
	if err != nil {
		t.Fatalf("GetDurations miss should not error: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil durations on cache miss")
	}

	// Test DeleteDurations
	if err := cache.DeleteDurations(ctx, models.StreamCamera, "sess-2"); err != nil {
		t.Fatalf("DeleteDurations failed: %v", err)
	}
}

func TestCache_InterviewOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	interview := &models.Interview{
		ID:          "int-1",
		CandidateID: "cand-1",
		SessionID:   "sess-3",
		Title:       "Backend screen",
		Status:      models.InterviewStatusCompleted,
	}

	// Test SetInterview
	err := cache.SetInterview(ctx, interview, 5*time.Minute)
	if err != nil {
		t.Fatalf("SetInterview failed: %v", err)
	}

	// Test GetInterview
	retrieved, err := cache.GetInterview(ctx, "int-1")
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}

	if retrieved == nil {
		t.Fatal("Retrieved interview should not be nil")
	}

	if retrieved.CandidateID != interview.CandidateID {
		t.Errorf("Expected candidate %s, got %s", interview.CandidateID, retrieved.CandidateID)
	}

	// Test DeleteInterview
	if err := cache.DeleteInterview(ctx, "int-1"); err != nil {
		t.Fatalf("DeleteInterview failed: %v", err)
	}

	deleted, err := cache.GetInterview(ctx, "int-1")
	if err != nil {
		t.Fatalf("GetInterview after delete should not error: %v", err)
	}
	if deleted != nil {
		t.Error("Interview should be deleted")
	}
}

func TestCache_RateLimiting(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	// First three requests within the limit
	for i := 0; i < 3; i++ {
		allowed, err := cache.CheckRateLimit(ctx, "client-1", 3, time.Minute)
		if err != nil {
			t.Fatalf("CheckRateLimit failed: %v", err)
		}
		if !allowed {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// Fourth request exceeds the limit
	allowed, err := cache.CheckRateLimit(ctx, "client-1", 3, time.Minute)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if allowed {
		t.Error("Fourth request should be rejected")
	}

	// A different client has its own counter
	allowed, err = cache.CheckRateLimit(ctx, "client-2", 3, time.Minute)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if !allowed {
		t.Error("Other client should be allowed")
	}
}

func TestCache_DeleteSession(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	catalog := &models.Catalog{SessionID: "sess-4", Kind: models.StreamScreen}
	if err := cache.SetCatalog(ctx, catalog, time.Minute); err != nil {
		t.Fatalf("SetCatalog failed: %v", err)
	}
	durations := []models.ChunkDuration{{Index: 0, EndTime: 4, Duration: 4}}
	if err := cache.SetDurations(ctx, models.StreamScreen, "sess-4", durations, time.Minute); err != nil {
		t.Fatalf("SetDurations failed: %v", err)
	}

	if err := cache.DeleteSession(ctx, "sess-4"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	gotCatalog, err := cache.GetCatalog(ctx, models.StreamScreen, "sess-4")
	if err != nil {
		t.Fatalf("GetCatalog failed: %v", err)
	}
	if gotCatalog != nil {
		t.Error("Catalog should be gone after DeleteSession")
	}

	gotDurations, err := cache.GetDurations(ctx, models.StreamScreen, "sess-4")
	if err != nil {
		t.Fatalf("GetDurations failed: %v", err)
	}
	if gotDurations != nil {
		t.Error("Durations should be gone after DeleteSession")
	}
}

func TestCache_Exists(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	exists, err := cache.Exists(ctx, "missing-key")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("Key should not exist")
	}

	interview := &models.Interview{ID: "int-2"}
	if err := cache.SetInterview(ctx, interview, time.Minute); err != nil {
		t.Fatalf("SetInterview failed: %v", err)
	}

	exists, err = cache.Exists(ctx, "interview:int-2")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Key should exist")
	}
}
