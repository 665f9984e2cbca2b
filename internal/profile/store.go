package profile

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Profile maps attribute names to values: strings, lists of strings,
// or nested maps (e.g. location). Shared across all conversation
// threads; mutated only through Manager.Update.
type Profile map[string]any

// FileStore persists the profile as a single pretty-printed JSON
// document. Writes are last-write-wins.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the stored profile, or an empty profile on a missing or
// corrupt file. It never fails the caller.
func (s *FileStore) Load() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[profile] read %s: %v", s.path, err)
		}
		return Profile{}
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[profile] corrupt profile file %s: %v", s.path, err)
		return Profile{}
	}
	if p == nil {
		return Profile{}
	}
	return p
}

func (s *FileStore) Save(p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// Backup writes a dated copy of the current profile file next to it.
// A missing profile is not an error; there is simply nothing to back up.
func (s *FileStore) Backup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read profile for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s.%s.bak", s.path, time.Now().UTC().Format("20060102"))
	return os.WriteFile(backupPath, data, 0644)
}
