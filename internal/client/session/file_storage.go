package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStorage keeps cookies in a JSON file readable only by the owner.
// Expired cookies are dropped whenever the file is rewritten.
type FileStorage struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStorage creates a FileStorage backed by path. The file is created
// on the first write.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path, now: time.Now}
}

func (f *FileStorage) Get(name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cookies, err := f.load()
	if err != nil {
		return "", false, err
	}
	c, ok := cookies[name]
	if !ok || c.Expired(f.now()) {
		return "", false, nil
	}
	return c.Value, true, nil
}

func (f *FileStorage) Set(c Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cookies, err := f.load()
	if err != nil {
		return err
	}
	cookies[c.Name] = c
	return f.save(cookies)
}

func (f *FileStorage) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cookies, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := cookies[name]; !ok {
		return nil
	}
	delete(cookies, name)
	return f.save(cookies)
}

func (f *FileStorage) load() (map[string]Cookie, error) {
	cookies := make(map[string]Cookie)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cookies, nil
		}
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}
	if len(data) == 0 {
		return cookies, nil
	}
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to decode cookie file: %w", err)
	}
	return cookies, nil
}

func (f *FileStorage) save(cookies map[string]Cookie) error {
	now := f.now()
	for name, c := range cookies {
		if c.Expired(now) {
			delete(cookies, name)
		}
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".cookies-*")
	if err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
