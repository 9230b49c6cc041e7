/**
 * Redis Result Cache for the Document Intelligence Worker
 *
 * Keeps analyzed records by content hash so re-submitted documents skip OCR,
 * maintains grade and document-type counters, and publishes a completion
 * event per record for live dashboards.
 */

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

// DefaultPrefix namespaces every key
const DefaultPrefix = "docintel"

// ResultCache implements pipeline.Cache on Redis
type ResultCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *logging.Logger
}

// ResultCacheConfig holds cache configuration
type ResultCacheConfig struct {
	RedisURL string
	Prefix   string
	// TTL of cached records; counters never expire
	TTL    time.Duration
	Logger *logging.Logger
}

// Stats are the aggregate counters
type Stats struct {
	Records       int64            `json:"records"`
	Grades        map[string]int64 `json:"grades"`
	DocumentTypes map[string]int64 `json:"documentTypes"`
}

// NewResultCache connects to Redis and verifies the connection
func NewResultCache(ctx context.Context, cfg ResultCacheConfig) (*ResultCache, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("ResultCache")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &ResultCache{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
	}, nil
}

func recordKey(prefix, contentHash string) string {
	return fmt.Sprintf("%s:record:%s", prefix, contentHash)
}

func gradesKey(prefix string) string {
	return fmt.Sprintf("%s:stats:grades", prefix)
}

func typesKey(prefix string) string {
	return fmt.Sprintf("%s:stats:types", prefix)
}

func recordsKey(prefix string) string {
	return fmt.Sprintf("%s:stats:records", prefix)
}

func eventsChannel(prefix string) string {
	return fmt.Sprintf("%s:events", prefix)
}

// Get returns the cached record for a content hash. A miss is (nil, false, nil).
func (c *ResultCache) Get(ctx context.Context, contentHash string) (*pipeline.DocumentRecord, bool, error) {
	data, err := c.client.Get(ctx, recordKey(c.prefix, contentHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached record: %w", err)
	}

	record, err := decodeRecord(data)
	if err != nil {
		// A corrupt entry behaves like a miss and is overwritten by the next Put
		c.logger.WithError(err).Warn("Discarding undecodable cache entry", "contentHash", contentHash)
		return nil, false, nil
	}
	return record, true, nil
}

// Put caches the record and bumps the counters in one round trip
func (c *ResultCache) Put(ctx context.Context, record *pipeline.DocumentRecord) error {
	if record == nil || record.ContentHash == "" {
		return fmt.Errorf("record with a content hash is required")
	}

	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	event, err := json.Marshal(completionEvent(record))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(c.prefix, record.ContentHash), data, c.ttl)
		pipe.Incr(ctx, recordsKey(c.prefix))
		if record.Quality != nil {
			pipe.HIncrBy(ctx, gradesKey(c.prefix), string(record.Quality.QualityGrade), 1)
		}
		if record.Classification != nil {
			pipe.HIncrBy(ctx, typesKey(c.prefix), record.Classification.DocumentType.ID, 1)
		}
		pipe.Publish(ctx, eventsChannel(c.prefix), event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache record: %w", err)
	}
	return nil
}

// Stats reads the aggregate counters
func (c *ResultCache) Stats(ctx context.Context) (*Stats, error) {
	records, err := c.client.Get(ctx, recordsKey(c.prefix)).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read record counter: %w", err)
	}
	grades, err := c.client.HGetAll(ctx, gradesKey(c.prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read grade counters: %w", err)
	}
	types, err := c.client.HGetAll(ctx, typesKey(c.prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read type counters: %w", err)
	}

	return &Stats{
		Records:       records,
		Grades:        parseCounters(grades),
		DocumentTypes: parseCounters(types),
	}, nil
}

// Ping checks Redis connectivity
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *ResultCache) Close() error {
	return c.client.Close()
}

func encodeRecord(record *pipeline.DocumentRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*pipeline.DocumentRecord, error) {
	var record pipeline.DocumentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	if record.ID == "" || record.ContentHash == "" {
		return nil, fmt.Errorf("cached record is missing its identity")
	}
	return &record, nil
}

func completionEvent(record *pipeline.DocumentRecord) map[string]interface{} {
	event := map[string]interface{}{
		"event":     "document:analyzed",
		"recordId":  record.ID,
		"status":    record.Status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if record.Quality != nil {
		event["grade"] = record.Quality.QualityGrade
	}
	if record.Classification != nil {
		event["documentType"] = record.Classification.DocumentType.ID
	}
	return event
}

// parseCounters drops fields that are not integers
func parseCounters(raw map[string]string) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out
}
