package object

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// MemoryStore keeps uploads in process memory. It backs local development
// and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]Object
}

type Object struct {
	ContentType string
	Data        []byte
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: strings.TrimRight(baseURL, "/"), objects: map[string]Object{}}
}

func (s *MemoryStore) Upload(_ context.Context, objectPath string, body io.Reader, _ int64, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", objectPath, err)
	}
	s.mu.Lock()
	s.objects[objectPath] = Object{ContentType: contentType, Data: data}
	s.mu.Unlock()
	return s.baseURL + "/" + escapeKey(objectPath), nil
}

func (s *MemoryStore) Get(objectPath string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectPath]
	return obj, ok
}

// escapeKey escapes each path segment and keeps the slashes.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
