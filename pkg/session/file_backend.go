package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidPathComponent is returned when a path component contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path component.
// It rejects empty strings, path separators, and traversal sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileBackend implements StorageBackend using JSON files.
// Storage layout:
//
//	~/.docmind/sessions/
//	  ├── sessions.json            # Session index
//	  └── <session-id>.state.json  # Full session state
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileBackend creates a new file-based storage backend.
// If baseDir is empty, uses ~/.docmind/sessions.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".docmind", "sessions")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileBackend{
		baseDir: baseDir,
	}, nil
}

// SaveMeta creates or updates session metadata in the index.
func (f *FileBackend) SaveMeta(ctx context.Context, meta *SessionMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}

	if err := validatePathComponent(meta.ID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	index, err := f.loadIndexUnlocked()
	if err != nil {
		return err
	}

	index[meta.ID] = meta

	return f.writeIndexUnlocked(index)
}

// LoadMeta retrieves session metadata by ID.
func (f *FileBackend) LoadMeta(ctx context.Context, sessionID string) (*SessionMeta, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	if err := validatePathComponent(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	index, err := f.loadIndexUnlocked()
	if err != nil {
		return nil, err
	}

	meta, ok := index[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return meta, nil
}

// ListMetas returns sessions matching the filter options, most recently
// used first. An empty project matches all projects.
func (f *FileBackend) ListMetas(ctx context.Context, project string, opts ListOptions) ([]*SessionMeta, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	index, err := f.loadIndexUnlocked()
	if err != nil {
		return nil, err
	}

	var metas []*SessionMeta
	for _, meta := range index {
		if project != "" && meta.Project != project {
			continue
		}
		if opts.Status != "" && meta.Status != opts.Status {
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].LastUsedAt.After(metas[j].LastUsedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(metas) {
			return []*SessionMeta{}, nil
		}
		metas = metas[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(metas) {
		metas = metas[:opts.Limit]
	}

	return metas, nil
}

// SaveState writes the full session state document atomically via a
// temp file and rename.
func (f *FileBackend) SaveState(ctx context.Context, sessionID string, state *SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}

	if err := validatePathComponent(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	statePath := filepath.Join(f.baseDir, sessionID+".state.json")
	tmpPath := statePath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	if err := os.Rename(tmpPath, statePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace session state: %w", err)
	}

	return nil
}

// LoadState retrieves the full session state document.
func (f *FileBackend) LoadState(ctx context.Context, sessionID string) (*SessionState, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	if err := validatePathComponent(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	statePath := filepath.Join(f.baseDir, sessionID+".state.json")
	data, err := os.ReadFile(statePath) // #nosec G304 - path components validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session state: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse session state: %w", err)
	}
	return &state, nil
}

// DeleteSession removes a session's state and index entry.
func (f *FileBackend) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}

	if err := validatePathComponent(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	index, err := f.loadIndexUnlocked()
	if err != nil {
		return err
	}
	if _, ok := index[sessionID]; !ok {
		return ErrSessionNotFound
	}

	statePath := filepath.Join(f.baseDir, sessionID+".state.json")
	_ = os.Remove(statePath) // Ignore if doesn't exist

	delete(index, sessionID)

	return f.writeIndexUnlocked(index)
}

// Close releases any resources held by the backend.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// loadIndexUnlocked reads the session index. Caller must hold appropriate lock.
func (f *FileBackend) loadIndexUnlocked() (map[string]*SessionMeta, error) {
	index := make(map[string]*SessionMeta)

	indexPath := filepath.Join(f.baseDir, "sessions.json")
	data, err := os.ReadFile(indexPath) // #nosec G304 - base directory is operator-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, fmt.Errorf("read sessions index: %w", err)
	}

	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse sessions index: %w", err)
	}
	return index, nil
}

// writeIndexUnlocked replaces the session index atomically. Caller must hold the write lock.
func (f *FileBackend) writeIndexUnlocked(index map[string]*SessionMeta) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions index: %w", err)
	}

	indexPath := filepath.Join(f.baseDir, "sessions.json")
	tmpPath := indexPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write sessions index: %w", err)
	}
	if err := os.Rename(tmpPath, indexPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace sessions index: %w", err)
	}

	return nil
}
