package firestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	cloudfirestore "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/typedai/typedai/review"
)

type (
	// ReviewConfigStore is the Firestore review.ConfigStore.
	ReviewConfigStore struct {
		client *Client
	}

	// ReviewCacheStore is the Firestore review.CacheStore. One document per
	// merge request, keyed by review.CacheDocID.
	ReviewCacheStore struct {
		client *Client
	}

	// cacheDoc is the stored shape of a fingerprint cache. The set is stored
	// as an array because Firestore has no native set type.
	cacheDoc struct {
		LastUpdated  int64    `firestore:"lastUpdated"`
		Fingerprints []string `firestore:"fingerprints"`
	}
)

// NewReviewConfigStore returns the Firestore-backed review config store.
func NewReviewConfigStore(client *Client) *ReviewConfigStore {
	return &ReviewConfigStore{client: client}
}

func (s *ReviewConfigStore) col() *cloudfirestore.CollectionRef {
	return s.client.fs.Collection(reviewConfigCollection)
}

// ListConfigs implements review.ConfigStore.
func (s *ReviewConfigStore) ListConfigs(ctx context.Context) ([]review.Config, error) {
	iter := s.col().Documents(ctx)
	defer iter.Stop()
	var out []review.Config
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: list review configs: %w", err)
		}
		var cfg review.Config
		if err := snap.DataTo(&cfg); err != nil {
			return nil, fmt.Errorf("firestore: decode review config %s: %w", snap.Ref.ID, err)
		}
		cfg.ID = snap.Ref.ID
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetConfig implements review.ConfigStore.
func (s *ReviewConfigStore) GetConfig(ctx context.Context, id string) (review.Config, error) {
	snap, err := s.col().Doc(id).Get(ctx)
	if isNotFound(err) {
		return review.Config{}, fmt.Errorf("firestore: review config %s: not found", id)
	}
	if err != nil {
		return review.Config{}, fmt.Errorf("firestore: get review config %s: %w", id, err)
	}
	var cfg review.Config
	if err := snap.DataTo(&cfg); err != nil {
		return review.Config{}, fmt.Errorf("firestore: decode review config %s: %w", id, err)
	}
	cfg.ID = snap.Ref.ID
	return cfg, nil
}

// SaveConfig implements review.ConfigStore.
func (s *ReviewConfigStore) SaveConfig(ctx context.Context, cfg review.Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("firestore: review config id is required")
	}
	if _, err := s.col().Doc(cfg.ID).Set(ctx, cfg); err != nil {
		return fmt.Errorf("firestore: save review config %s: %w", cfg.ID, err)
	}
	return nil
}

// DeleteConfig implements review.ConfigStore.
func (s *ReviewConfigStore) DeleteConfig(ctx context.Context, id string) error {
	if _, err := s.col().Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore: delete review config %s: %w", id, err)
	}
	return nil
}

// NewReviewCacheStore returns the Firestore-backed fingerprint cache store.
func NewReviewCacheStore(client *Client) *ReviewCacheStore {
	return &ReviewCacheStore{client: client}
}

func (s *ReviewCacheStore) col() *cloudfirestore.CollectionRef {
	return s.client.fs.Collection(reviewCacheCollection)
}

// GetCache implements review.CacheStore. A missing document or one with an
// unexpected shape yields a fresh empty cache; a review run must never be
// blocked by a corrupt cache entry.
func (s *ReviewCacheStore) GetCache(ctx context.Context, projectID string, mrIID int64) (*review.Cache, error) {
	docID := review.CacheDocID(projectID, mrIID)
	snap, err := s.col().Doc(docID).Get(ctx)
	if isNotFound(err) {
		return review.NewCache(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: get review cache %s: %w", docID, err)
	}
	var doc cacheDoc
	if err := snap.DataTo(&doc); err != nil {
		s.client.logger.Warn(ctx, "review cache has invalid shape, starting fresh",
			"docId", docID, "error", err.Error())
		return review.NewCache(), nil
	}
	return review.CacheFromList(doc.LastUpdated, doc.Fingerprints), nil
}

// UpdateCache implements review.CacheStore.
func (s *ReviewCacheStore) UpdateCache(ctx context.Context, projectID string, mrIID int64, cache *review.Cache) error {
	docID := review.CacheDocID(projectID, mrIID)
	doc := cacheDoc{
		LastUpdated:  time.Now().UnixMilli(),
		Fingerprints: cache.FingerprintList(),
	}
	if _, err := s.col().Doc(docID).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore: update review cache %s: %w", docID, err)
	}
	return nil
}
