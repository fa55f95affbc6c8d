package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

// cacheKeyPrefix namespaces property cache entries.
const cacheKeyPrefix = "cadmark:props:"

var _ ports.Extractor = (*CachingExtractor)(nil)

// CachingExtractor short-circuits extraction for documents whose exact
// bytes have been measured before. Keys are the SHA-256 of the source file
// so a renamed but unchanged submission still hits.
//
// Only successful extractions are cached; failures are always retried on
// the next run. Cache errors are logged and treated as misses.
type CachingExtractor struct {
	next   ports.Extractor
	cache  ports.CacheStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachingExtractor wraps next with cache. A zero ttl keeps entries
// forever.
func NewCachingExtractor(next ports.Extractor, cache ports.CacheStore, ttl time.Duration, logger *zap.Logger) *CachingExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingExtractor{next: next, cache: cache, ttl: ttl, logger: logger}
}

// Extract implements ports.Extractor.
func (c *CachingExtractor) Extract(ctx context.Context, sourcePath, outputDir string) (domain.Extraction, error) {
	log := c.logger.With(zap.String("source", sourcePath))

	key, err := contentKey(sourcePath)
	if err != nil {
		// An unreadable source is the exporter's problem to report.
		log.Debug("cannot hash source; bypassing cache", zap.Error(err))
		return c.next.Extract(ctx, sourcePath, outputDir)
	}

	if props, ok := c.lookup(ctx, log, key); ok {
		log.Debug("property cache hit", zap.String("key", key))
		return domain.Extraction{Properties: props, Cached: true}, nil
	}

	got, err := c.next.Extract(ctx, sourcePath, outputDir)
	if err != nil {
		return got, err
	}

	data, merr := json.Marshal(got.Properties)
	if merr != nil {
		log.Warn("cannot encode properties for cache", zap.Error(merr))
		return got, nil
	}
	if serr := c.cache.Set(ctx, key, data, c.ttl); serr != nil {
		log.Warn("property cache write failed", zap.Error(serr))
	}
	return got, nil
}

func (c *CachingExtractor) lookup(ctx context.Context, log *zap.Logger, key string) (domain.GeometricProperties, bool) {
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Warn("property cache read failed", zap.Error(err))
		return domain.GeometricProperties{}, false
	}
	if !ok {
		return domain.GeometricProperties{}, false
	}

	props, err := decodeEntry(key, data)
	if err != nil {
		log.Warn("discarding corrupt property cache entry", zap.String("key", key), zap.Error(err))
		if derr := c.cache.Delete(ctx, key); derr != nil {
			log.Warn("property cache delete failed", zap.Error(derr))
		}
		return domain.GeometricProperties{}, false
	}
	return props, true
}

// decodeEntry parses a cached measurement. Undecodable or non-finite
// values yield a *ports.CacheError wrapping ports.ErrCacheCorrupted.
func decodeEntry(key string, data []byte) (domain.GeometricProperties, error) {
	var props domain.GeometricProperties
	if err := json.Unmarshal(data, &props); err != nil {
		return domain.GeometricProperties{}, ports.NewCacheError(key, "decode", fmt.Errorf("%w: %w", ports.ErrCacheCorrupted, err))
	}
	if err := props.Validate(); err != nil {
		return domain.GeometricProperties{}, ports.NewCacheError(key, "decode", fmt.Errorf("%w: %w", ports.ErrCacheCorrupted, err))
	}
	return props, nil
}

// contentKey hashes the file at path.
func contentKey(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}
