package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/proctorview/playback/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Catalog Cache Operations

// SetCatalog caches a resolved segment catalog
func (c *Cache) SetCatalog(ctx context.Context, catalog *models.Catalog, ttl time.Duration) error {
	data, err := json.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	key := fmt.Sprintf("catalog:%s:%s", catalog.Kind, catalog.SessionID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetCatalog retrieves a resolved segment catalog from cache
func (c *Cache) GetCatalog(ctx context.Context, kind models.StreamKind, sessionID string) (*models.Catalog, error) {
	key := fmt.Sprintf("catalog:%s:%s", kind, sessionID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get catalog from cache: %w", err)
	}

	var catalog models.Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}

	return &catalog, nil
}

// DeleteCatalog removes a catalog from cache
func (c *Cache) DeleteCatalog(ctx context.Context, kind models.StreamKind, sessionID string) error {
	key := fmt.Sprintf("catalog:%s:%s", kind, sessionID)
	return c.client.Del(ctx, key).Err()
}

// Duration Table Cache Operations

// SetDurations caches measured per-chunk durations so a later review of
// the same session skips the probing pass entirely.
func (c *Cache) SetDurations(ctx context.Context, kind models.StreamKind, sessionID string, durations []models.ChunkDuration, ttl time.Duration) error {
	data, err := json.Marshal(durations)
	if err != nil {
		return fmt.Errorf("failed to marshal durations: %w", err)
	}

	key := fmt.Sprintf("durations:%s:%s", kind, sessionID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetDurations retrieves cached per-chunk durations
func (c *Cache) GetDurations(ctx context.Context, kind models.StreamKind, sessionID string) ([]models.ChunkDuration, error) {
	key := fmt.Sprintf("durations:%s:%s", kind, sessionID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get durations from cache: %w", err)
	}

	var durations []models.ChunkDuration
	if err := json.Unmarshal(data, &durations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal durations: %w", err)
	}

	return durations, nil
}

// DeleteDurations removes cached durations
func (c *Cache) DeleteDurations(ctx context.Context, kind models.StreamKind, sessionID string) error {
	key := fmt.Sprintf("durations:%s:%s", kind, sessionID)
	return c.client.Del(ctx, key).Err()
}

// Interview Cache Operations

// SetInterview caches interview metadata
func (c *Cache) SetInterview(ctx context.Context, interview *models.Interview, ttl time.Duration) error {
	data, err := json.Marshal(interview)
	if err != nil {
		return fmt.Errorf("failed to marshal interview: %w", err)
	}

	key := fmt.Sprintf("interview:%s", interview.ID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetInterview retrieves interview metadata from cache
func (c *Cache) GetInterview(ctx context.Context, interviewID string) (*models.Interview, error) {
	key := fmt.Sprintf("interview:%s", interviewID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get interview from cache: %w", err)
	}

	var interview models.Interview
	if err := json.Unmarshal(data, &interview); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interview: %w", err)
	}

	return &interview, nil
}

// DeleteInterview removes an interview from cache
func (c *Cache) DeleteInterview(ctx context.Context, interviewID string) error {
	key := fmt.Sprintf("interview:%s", interviewID)
	return c.client.Del(ctx, key).Err()
}

// Rate Limiting Operations

// CheckRateLimit checks if a rate limit has been exceeded
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	// Increment counter
	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	// Check if limit exceeded
	return count <= limit, nil
}

// Batch Operations

// DeleteSession deletes all cached entries for a session
func (c *Cache) DeleteSession(ctx context.Context, sessionID string) error {
	for _, pattern := range []string{
		fmt.Sprintf("catalog:*:%s", sessionID),
		fmt.Sprintf("durations:*:%s", sessionID),
	} {
		iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Exists checks if a key exists
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
