// Package cache persists settled race results so an identical request can be
// answered without contacting any backend.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/torosent/chorus/internal/config"
)

// Response is one target's persisted outcome. Text is nil unless the target
// completed; Error is nil unless it failed.
type Response struct {
	Provider  string  `yaml:"provider" json:"provider"`
	Model     string  `yaml:"model" json:"model"`
	Text      *string `yaml:"text,omitempty" json:"text,omitempty"`
	Error     *string `yaml:"error,omitempty" json:"error,omitempty"`
	Code      string  `yaml:"code,omitempty" json:"code,omitempty"`
	ElapsedMs int64   `yaml:"elapsed_ms" json:"elapsed_ms"`
}

// Entry is one cached request.
type Entry struct {
	Key       string     `yaml:"key" json:"key"`
	RaceID    string     `yaml:"race_id" json:"race_id"`
	CreatedAt time.Time  `yaml:"created_at" json:"created_at"`
	ElapsedMs int64      `yaml:"elapsed_ms" json:"elapsed_ms"`
	Responses []Response `yaml:"responses" json:"responses"`
}

// Expired reports whether the entry is older than ttl. A non-positive ttl
// never expires.
func (e Entry) Expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(e.CreatedAt) > ttl
}

// ErrMiss is returned by Get when no live entry exists.
var ErrMiss = errors.New("cache: miss")

// Store is a response cache.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, entry Entry) error
	Close() error
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none", "off":
		return NopStore{}, nil
	case "file":
		return NewFileStore(cfg.Path, cfg.TTL)
	case "redis":
		return NewRedisStore(ctx, RedisConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// NewKey derives a cache key from the request. Content and input are
// normalized (trimmed, lower-cased, whitespace collapsed) so trivially
// different spellings share an entry. commandID scopes the entry to the
// command and target set that produced it; "" leaves it unscoped.
func NewKey(content, input, commandID string) string {
	h := sha256.New()
	h.Write([]byte(normalize(content)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(input)))
	if commandID != "" {
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(commandID)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NopStore never hits and discards writes.
type NopStore struct{}

func (NopStore) Get(context.Context, string) (Entry, error) { return Entry{}, ErrMiss }
func (NopStore) Put(context.Context, Entry) error           { return nil }
func (NopStore) Close() error                                { return nil }
