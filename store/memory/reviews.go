package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/typedai/typedai/review"
)

type (
	// ReviewConfigStore is an in-memory review.ConfigStore.
	ReviewConfigStore struct {
		mu      sync.RWMutex
		configs map[string]review.Config
	}

	// ReviewCacheStore is an in-memory review.CacheStore.
	ReviewCacheStore struct {
		mu     sync.RWMutex
		caches map[string]*review.Cache // keyed by CacheDocID
	}
)

// NewReviewConfigStore returns an empty ReviewConfigStore.
func NewReviewConfigStore() *ReviewConfigStore {
	return &ReviewConfigStore{configs: make(map[string]review.Config)}
}

// ListConfigs implements review.ConfigStore.
func (s *ReviewConfigStore) ListConfigs(_ context.Context) ([]review.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]review.Config, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetConfig implements review.ConfigStore.
func (s *ReviewConfigStore) GetConfig(_ context.Context, id string) (review.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	if !ok {
		return review.Config{}, fmt.Errorf("memory: review config %s: not found", id)
	}
	return cfg, nil
}

// SaveConfig implements review.ConfigStore.
func (s *ReviewConfigStore) SaveConfig(_ context.Context, cfg review.Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("memory: review config id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = cfg
	return nil
}

// DeleteConfig implements review.ConfigStore.
func (s *ReviewConfigStore) DeleteConfig(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, id)
	return nil
}

// NewReviewCacheStore returns an empty ReviewCacheStore.
func NewReviewCacheStore() *ReviewCacheStore {
	return &ReviewCacheStore{caches: make(map[string]*review.Cache)}
}

// GetCache implements review.CacheStore. Absent entries yield a fresh empty
// cache.
func (s *ReviewCacheStore) GetCache(_ context.Context, projectID string, mrIID int64) (*review.Cache, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.caches[review.CacheDocID(projectID, mrIID)]
	if !ok {
		return review.NewCache(), nil
	}
	return stored.Clone(), nil
}

// UpdateCache implements review.CacheStore.
func (s *ReviewCacheStore) UpdateCache(_ context.Context, projectID string, mrIID int64, cache *review.Cache) error {
	stored := cache.Clone()
	stored.LastUpdated = now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caches[review.CacheDocID(projectID, mrIID)] = stored
	return nil
}
