package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrUnknownRefreshToken is returned for expired, revoked or never issued tokens.
var ErrUnknownRefreshToken = errors.New("unknown refresh token")

// Identity is the owner of a refresh token.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// TokenStore keeps refresh tokens until they expire or are revoked.
type TokenStore interface {
	Save(ctx context.Context, token string, id Identity, ttl time.Duration) error
	Lookup(ctx context.Context, token string) (Identity, error)
	Revoke(ctx context.Context, token string) error
}

const refreshKeyPrefix = "refresh:"

// RedisTokenStore keeps refresh tokens in Redis with a TTL.
type RedisTokenStore struct {
	client *redis.Client
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func (s *RedisTokenStore) Save(ctx context.Context, token string, id Identity, ttl time.Duration) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, refreshKeyPrefix+token, raw, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Lookup(ctx context.Context, token string) (Identity, error) {
	raw, err := s.client.Get(ctx, refreshKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, ErrUnknownRefreshToken
	}
	if err != nil {
		return Identity{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, fmt.Errorf("decode refresh token owner: %w", err)
	}
	return id, nil
}

func (s *RedisTokenStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, refreshKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// MemoryTokenStore is a process-local TokenStore for development and tests.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
	now    func() time.Time
}

type memoryToken struct {
	id      Identity
	expires time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]memoryToken), now: time.Now}
}

func (s *MemoryTokenStore) Save(_ context.Context, token string, id Identity, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = memoryToken{id: id, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryTokenStore) Lookup(_ context.Context, token string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok || !s.now().Before(t.expires) {
		delete(s.tokens, token)
		return Identity{}, ErrUnknownRefreshToken
	}
	return t.id, nil
}

func (s *MemoryTokenStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}
