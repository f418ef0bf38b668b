// Package session keeps the client's authenticated user and token in memory
// and mirrors them to cookie storage.
package session

import (
	"sync"
	"time"
)

// Cookie is a persisted name/value pair.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
	Secure  bool      `json:"secure"`
}

// Expired reports whether the cookie is past its expiry at now. A zero
// expiry never expires.
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// Storage persists cookies between runs.
type Storage interface {
	// Get returns the value of an unexpired cookie.
	Get(name string) (string, bool, error)
	Set(c Cookie) error
	Remove(name string) error
}

// MemoryStorage is a Storage that lives only as long as the process.
type MemoryStorage struct {
	mu      sync.Mutex
	cookies map[string]Cookie
	now     func() time.Time
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{cookies: make(map[string]Cookie), now: time.Now}
}

func (m *MemoryStorage) Get(name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cookies[name]
	if !ok {
		return "", false, nil
	}
	if c.Expired(m.now()) {
		delete(m.cookies, name)
		return "", false, nil
	}
	return c.Value, true, nil
}

func (m *MemoryStorage) Set(c Cookie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cookies[c.Name] = c
	return nil
}

func (m *MemoryStorage) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cookies, name)
	return nil
}
