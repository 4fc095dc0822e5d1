package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const sendGuardTTL = 24 * time.Hour

// SendGuard deduplicates sends carrying a client message id. Claim returns
// claimed=true for the first caller of key; later callers get the stored
// message id, or "" while the first send is still in flight.
type SendGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (existingID string, claimed bool, err error)
	Complete(ctx context.Context, key, messageID string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

func sendGuardKey(roomID, senderID, clientMessageID string) string {
	return fmt.Sprintf("halo:message:idempotency:%s:%s:%s", roomID, senderID, clientMessageID)
}

type localEntry struct {
	messageID string
	expires   time.Time
}

// LocalSendGuard keeps claims in process memory.
type LocalSendGuard struct {
	mu      sync.Mutex
	entries map[string]localEntry
	now     func() time.Time
}

func NewLocalSendGuard() *LocalSendGuard {
	return &LocalSendGuard{entries: map[string]localEntry{}, now: time.Now}
}

func (g *LocalSendGuard) Claim(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if e, ok := g.entries[key]; ok && now.Before(e.expires) {
		return e.messageID, false, nil
	}
	g.entries[key] = localEntry{expires: now.Add(ttl)}
	return "", true, nil
}

func (g *LocalSendGuard) Complete(_ context.Context, key, messageID string, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[key] = localEntry{messageID: messageID, expires: g.now().Add(ttl)}
	return nil
}

func (g *LocalSendGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
	return nil
}
