// Package session holds the per-device identity and sync bookkeeping that the
// sync engine and media manager are constructed with.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const fileName = "session.json"

// SyncRecord describes the outcome of the most recent sync run
type SyncRecord struct {
	At      time.Time `json:"at"`
	Success bool      `json:"success"`
	Offline bool      `json:"offline,omitempty"`
	Message string    `json:"message,omitempty"`
}

// State is the persisted session document
type State struct {
	DeviceID   string      `json:"device_id"`
	UserID     string      `json:"user_id"`
	LastSync   *SyncRecord `json:"last_sync,omitempty"`
	LastPullAt *time.Time  `json:"last_pull_at,omitempty"`
}

// Session is safe for concurrent use
type Session struct {
	state    *State
	filePath string
	mu       sync.RWMutex
	dirty    bool
}

// New returns an in-memory session that is never persisted
func New(deviceID, userID string) *Session {
	return &Session{state: &State{DeviceID: deviceID, UserID: userID}}
}

// Load reads the session from stateDir, creating it with a fresh device id
// on first use. A stored session for a different user keeps the device id
// but drops that user's bookkeeping.
func Load(stateDir, userID string) (*Session, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &Session{filePath: filepath.Join(stateDir, fileName)}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	if s.state == nil || s.state.DeviceID == "" {
		s.state = &State{DeviceID: uuid.NewString(), UserID: userID}
		s.dirty = true
	}
	if s.state.UserID != userID {
		s.state = &State{DeviceID: s.state.DeviceID, UserID: userID}
		s.dirty = true
	}

	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	state := &State{}
	if err := json.Unmarshal(data, state); err != nil {
		return err
	}
	s.state = state
	return nil
}

// Save persists the session if it changed. In-memory sessions are a no-op.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty || s.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	s.dirty = false
	return nil
}

// DeviceID returns the persistent identifier of this device
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.DeviceID
}

// UserID returns the surveyor the session belongs to
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.UserID
}

// Key identifies the session for in-flight deduplication
func (s *Session) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.DeviceID + "/" + s.state.UserID
}

// RecordSync stores the outcome of a sync run
func (s *Session) RecordSync(rec SyncRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastSync = &rec
	s.dirty = true
}

// LastSync returns the most recent sync outcome, or nil if none
func (s *Session) LastSync() *SyncRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.LastSync == nil {
		return nil
	}
	rec := *s.state.LastSync
	return &rec
}

// RecordPull stores the time of the last successful appointment pull
func (s *Session) RecordPull(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastPullAt = &at
	s.dirty = true
}

// LastPullAt returns when appointments were last pulled, or nil if never
func (s *Session) LastPullAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LastPullAt
}
