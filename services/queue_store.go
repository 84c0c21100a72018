package services

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueStore is the atomic list+set capability backing the build queue.
// Every mutation is a single indivisible operation against the store; the
// queue never does read-then-write with an intervening suspension. The store
// is injected explicitly, never reached through a package singleton.
type QueueStore interface {
	// Priority lists
	PushRight(ctx context.Context, list, id string) error
	PopLeft(ctx context.Context, list string) (string, error) // "" when empty
	RemoveItem(ctx context.Context, list, id string) (int64, error)
	ListLen(ctx context.Context, list string) (int64, error)

	// Active set
	AddActive(ctx context.Context, id string) error
	RemoveActive(ctx context.Context, id string) (bool, error)
	ActiveCount(ctx context.Context) (int64, error)

	// Job metadata, with TTL so abandoned entries expire
	PutJob(ctx context.Context, id string, payload []byte, ttl time.Duration) error
	GetJob(ctx context.Context, id string) ([]byte, error) // nil when missing
	DeleteJob(ctx context.Context, id string) error
}

const (
	activeSetKey = "build:active"
	jobKeyPrefix = "build:job:"
)

// RedisQueueStore backs the queue with Redis lists and sets
type RedisQueueStore struct {
	client *redis.Client
}

// NewRedisQueueStore creates a Redis-backed queue store
func NewRedisQueueStore(client *redis.Client) *RedisQueueStore {
	return &RedisQueueStore{client: client}
}

func (s *RedisQueueStore) PushRight(ctx context.Context, list, id string) error {
	return s.client.RPush(ctx, list, id).Err()
}

func (s *RedisQueueStore) PopLeft(ctx context.Context, list string) (string, error) {
	id, err := s.client.LPop(ctx, list).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

func (s *RedisQueueStore) RemoveItem(ctx context.Context, list, id string) (int64, error) {
	return s.client.LRem(ctx, list, 0, id).Result()
}

func (s *RedisQueueStore) ListLen(ctx context.Context, list string) (int64, error) {
	return s.client.LLen(ctx, list).Result()
}

func (s *RedisQueueStore) AddActive(ctx context.Context, id string) error {
	return s.client.SAdd(ctx, activeSetKey, id).Err()
}

func (s *RedisQueueStore) RemoveActive(ctx context.Context, id string) (bool, error) {
	removed, err := s.client.SRem(ctx, activeSetKey, id).Result()
	return removed > 0, err
}

func (s *RedisQueueStore) ActiveCount(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, activeSetKey).Result()
}

func (s *RedisQueueStore) PutJob(ctx context.Context, id string, payload []byte, ttl time.Duration) error {
	return s.client.Set(ctx, jobKeyPrefix+id, payload, ttl).Err()
}

func (s *RedisQueueStore) GetJob(ctx context.Context, id string) ([]byte, error) {
	payload, err := s.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return payload, err
}

func (s *RedisQueueStore) DeleteJob(ctx context.Context, id string) error {
	return s.client.Del(ctx, jobKeyPrefix+id).Err()
}

// MemoryQueueStore is an in-process store for single-node setups and tests.
// All operations hold one mutex, so each is indivisible.
type MemoryQueueStore struct {
	mu     sync.Mutex
	lists  map[string][]string
	active map[string]bool
	jobs   map[string]memoryJob
}

type memoryJob struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemoryQueueStore creates an empty in-memory queue store
func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{
		lists:  make(map[string][]string),
		active: make(map[string]bool),
		jobs:   make(map[string]memoryJob),
	}
}

func (s *MemoryQueueStore) PushRight(_ context.Context, list, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[list] = append(s.lists[list], id)
	return nil
}

func (s *MemoryQueueStore) PopLeft(_ context.Context, list string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.lists[list]
	if len(items) == 0 {
		return "", nil
	}
	id := items[0]
	s.lists[list] = items[1:]
	return id, nil
}

func (s *MemoryQueueStore) RemoveItem(_ context.Context, list, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []string
	var removed int64
	for _, item := range s.lists[list] {
		if item == id {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	s.lists[list] = kept
	return removed, nil
}

func (s *MemoryQueueStore) ListLen(_ context.Context, list string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[list])), nil
}

func (s *MemoryQueueStore) AddActive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = true
	return nil
}

func (s *MemoryQueueStore) RemoveActive(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active[id] {
		return false, nil
	}
	delete(s.active, id)
	return true, nil
}

func (s *MemoryQueueStore) ActiveCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.active)), nil
}

func (s *MemoryQueueStore) PutJob(_ context.Context, id string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = memoryJob{payload: payload, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryQueueStore) GetJob(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || time.Now().After(job.expiresAt) {
		delete(s.jobs, id)
		return nil, nil
	}
	return job.payload, nil
}

func (s *MemoryQueueStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}
