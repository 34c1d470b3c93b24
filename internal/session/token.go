package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenBytes = 32

// NewToken returns an unguessable opaque credential.
func NewToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// StaleTokens remembers recently rotated-out credentials for one TTL so a
// scan of the previous QR code can be rejected as expired rather than
// invalid. The cache is best-effort: on any Redis error a stale token simply
// degrades to an invalid-token rejection.
type StaleTokens struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStaleTokens builds the cache. A nil client disables it.
func NewStaleTokens(client *redis.Client, ttl time.Duration) *StaleTokens {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &StaleTokens{client: client, ttl: ttl}
}

// Park records a displaced token.
func (s *StaleTokens) Park(ctx context.Context, token, sessionID string) {
	if s == nil || s.client == nil || token == "" {
		return
	}
	if err := s.client.Set(ctx, "rollcall:stale:"+token, sessionID, s.ttl).Err(); err != nil {
		log.Printf("stale token park failed: %v", err)
	}
}

// Recent reports whether the token was valid within the last TTL.
func (s *StaleTokens) Recent(ctx context.Context, token string) bool {
	if s == nil || s.client == nil || token == "" {
		return false
	}
	_, err := s.client.Get(ctx, "rollcall:stale:"+token).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("stale token lookup failed: %v", err)
		}
		return false
	}
	return true
}
