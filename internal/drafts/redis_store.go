// Package drafts stores "save and continue later" metadata in Redis.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no draft exists for a document.
var ErrNotFound = errors.New("draft not found")

// labelValue is one field of the stored payload. Drafts are keyed by the
// human-readable label so that older clients can read them.
type labelValue struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type payload struct {
	DocumentName string                  `json:"document_name"`
	Common       []labelValue            `json:"common"`
	Pages        map[string][]labelValue `json:"pages"`
	SavedAt      time.Time               `json:"saved_at"`
}

// RedisStore implements draft storage using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed draft store.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "draft:",
		ttl:    90 * 24 * time.Hour,
	}
}

func (s *RedisStore) key(docName string) string {
	return s.prefix + docName
}

// Save stores the document's common fields and the fields of every page
// that has not been uploaded yet.
func (s *RedisStore) Save(ctx context.Context, doc models.SplitDocument) error {
	p := payload{
		DocumentName: doc.Name,
		Common:       toLabels(doc.CommonFields),
		Pages:        make(map[string][]labelValue, len(doc.Pages)),
		SavedAt:      time.Now().UTC(),
	}
	for key, page := range doc.Pages {
		if page.Status == models.PageStatusProcessed || len(page.UniqueFields) == 0 {
			continue
		}
		p.Pages[key] = toLabels(page.UniqueFields)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.client.Set(ctx, s.key(doc.Name), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Load returns the saved metadata for docName with labels translated back
// to field keys. Unknown labels are dropped.
func (s *RedisStore) Load(ctx context.Context, docName string) (models.SavedMetadata, error) {
	data, err := s.client.Get(ctx, s.key(docName)).Result()
	if err == redis.Nil {
		return models.SavedMetadata{}, ErrNotFound
	}
	if err != nil {
		return models.SavedMetadata{}, fmt.Errorf("load draft: %w", err)
	}
	var p payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return models.SavedMetadata{}, fmt.Errorf("unmarshal draft: %w", err)
	}
	saved := models.SavedMetadata{
		DocumentName: p.DocumentName,
		Common:       fromLabels(p.Common),
		Pages:        make(map[string]models.Fields, len(p.Pages)),
		SavedAt:      p.SavedAt,
	}
	for key, fields := range p.Pages {
		saved.Pages[key] = fromLabels(fields)
	}
	return saved, nil
}

// Delete removes a draft. Deleting a missing draft is not an error.
func (s *RedisStore) Delete(ctx context.Context, docName string) error {
	if err := s.client.Del(ctx, s.key(docName)).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// List returns the names of all saved drafts.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func toLabels(fields models.Fields) []labelValue {
	out := make([]labelValue, 0, len(fields))
	for k, v := range fields {
		out = append(out, labelValue{Label: models.LabelFor(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func fromLabels(values []labelValue) models.Fields {
	out := make(models.Fields, len(values))
	for _, lv := range values {
		if k, ok := models.FieldKeyForLabel(lv.Label); ok {
			out[k] = lv.Value
		}
	}
	return out
}
