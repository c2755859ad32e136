package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/typedai/typedai/review"
)

type (
	// ReviewConfigStore is the Mongo review.ConfigStore.
	ReviewConfigStore struct {
		client *Client
	}

	// ReviewCacheStore is the Mongo review.CacheStore. One document per merge
	// request, keyed by review.CacheDocID.
	ReviewCacheStore struct {
		client *Client
	}

	cacheDoc struct {
		ID           string   `bson:"_id"`
		LastUpdated  int64    `bson:"lastUpdated"`
		Fingerprints []string `bson:"fingerprints"`
	}
)

// NewReviewConfigStore returns the Mongo-backed review config store.
func NewReviewConfigStore(client *Client) *ReviewConfigStore {
	return &ReviewConfigStore{client: client}
}

func (s *ReviewConfigStore) coll() *mongodriver.Collection {
	return s.client.db.Collection(reviewConfigCollection)
}

// ListConfigs implements review.ConfigStore.
func (s *ReviewConfigStore) ListConfigs(ctx context.Context) ([]review.Config, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	cur, err := s.coll().Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: list review configs: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []review.Config
	for cur.Next(ctx) {
		var cfg review.Config
		if err := cur.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("mongo: decode review config: %w", err)
		}
		out = append(out, cfg)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: list review configs: %w", err)
	}
	return out, nil
}

// GetConfig implements review.ConfigStore.
func (s *ReviewConfigStore) GetConfig(ctx context.Context, id string) (review.Config, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	var cfg review.Config
	err := s.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&cfg)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return review.Config{}, fmt.Errorf("mongo: review config %s: not found", id)
	}
	if err != nil {
		return review.Config{}, fmt.Errorf("mongo: get review config %s: %w", id, err)
	}
	return cfg, nil
}

// SaveConfig implements review.ConfigStore.
func (s *ReviewConfigStore) SaveConfig(ctx context.Context, cfg review.Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("mongo: review config id is required")
	}
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	_, err := s.coll().ReplaceOne(ctx, bson.M{"_id": cfg.ID}, cfg, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: save review config %s: %w", cfg.ID, err)
	}
	return nil
}

// DeleteConfig implements review.ConfigStore.
func (s *ReviewConfigStore) DeleteConfig(ctx context.Context, id string) error {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll().DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("mongo: delete review config %s: %w", id, err)
	}
	return nil
}

// NewReviewCacheStore returns the Mongo-backed fingerprint cache store.
func NewReviewCacheStore(client *Client) *ReviewCacheStore {
	return &ReviewCacheStore{client: client}
}

func (s *ReviewCacheStore) coll() *mongodriver.Collection {
	return s.client.db.Collection(reviewCacheCollection)
}

// GetCache implements review.CacheStore. A missing document or one with an
// unexpected shape yields a fresh empty cache; a review run must never be
// blocked by a corrupt cache entry.
func (s *ReviewCacheStore) GetCache(ctx context.Context, projectID string, mrIID int64) (*review.Cache, error) {
	docID := review.CacheDocID(projectID, mrIID)
	opCtx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	var raw bson.Raw
	err := s.coll().FindOne(opCtx, bson.M{"_id": docID}).Decode(&raw)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return review.NewCache(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get review cache %s: %w", docID, err)
	}
	var doc cacheDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
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
		ID:           docID,
		LastUpdated:  time.Now().UnixMilli(),
		Fingerprints: cache.FingerprintList(),
	}
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	_, err := s.coll().ReplaceOne(ctx, bson.M{"_id": docID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: update review cache %s: %w", docID, err)
	}
	return nil
}
