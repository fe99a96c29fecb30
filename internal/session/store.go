package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// Field names inside a session hash. They keep the browser's local-storage
// key names.
const (
	fieldTokens = "pointid_tokens"
	fieldUser   = "pointid_user"
)

// ErrNotFound is returned when no session exists for an id
var ErrNotFound = errors.New("session not found")

// Store persists session records.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, id string, rec Record, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// keyFor derives the storage key from a session id so ids never appear
// in Redis in clear.
func keyFor(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return "pointid:session:" + hex.EncodeToString(sum[:])
}

// RedisStore keeps one hash per session with a TTL
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to the Redis instance at url
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &RedisStore{rdb: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	fields, err := s.rdb.HGetAll(ctx, keyFor(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeRecord(fields)
}

func (s *RedisStore) Put(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	fields, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	key := keyFor(id)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, keyFor(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection pool
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func encodeRecord(rec Record) (map[string]any, error) {
	tokens, err := json.Marshal(rec.Tokens)
	if err != nil {
		return nil, fmt.Errorf("encode tokens: %w", err)
	}
	user, err := json.Marshal(rec.Account)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}
	return map[string]any{fieldTokens: string(tokens), fieldUser: string(user)}, nil
}

func decodeRecord(fields map[string]string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(fields[fieldTokens]), &rec.Tokens); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldTokens, err)
	}
	if err := json.Unmarshal([]byte(fields[fieldUser]), &rec.Account); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldUser, err)
	}
	return &rec, nil
}

// MemoryStore is an in-process Store for tests and local development.
// Records go through the same encoding as RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	fields  map[string]string
	expires time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keyFor(id)
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}
	return decodeRecord(e.fields)
}

func (s *MemoryStore) Put(_ context.Context, id string, rec Record, ttl time.Duration) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		fields[k] = v.(string)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{fields: fields}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[keyFor(id)] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, keyFor(id))
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
