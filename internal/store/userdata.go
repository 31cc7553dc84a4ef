package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Settings are the global engine settings kept in settings.json in the
// per-user data directory.
type Settings struct {
	SetupComplete   bool   `json:"setupComplete"`
	DefaultProvider string `json:"defaultProvider,omitempty"`
	DefaultModel    string `json:"defaultModel,omitempty"`
	MaxConcurrency  int    `json:"maxConcurrency,omitempty"`
	UseWorktrees    *bool  `json:"useWorktrees,omitempty"`
	SquashMerges    *bool  `json:"squashMerges,omitempty"`
}

// SessionMeta describes one conversational agent session in
// sessions-metadata.json.
type SessionMeta struct {
	Name        string    `json:"name"`
	ProjectPath string    `json:"projectPath,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	IsArchived  bool      `json:"isArchived,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// UserData persists settings, credentials, and conversational-session
// transcripts in the per-user data directory. All writes are whole-file
// replacements; concurrent writers follow last-writer-wins.
type UserData struct {
	dir string
	mu  sync.Mutex
}

// NewUserData creates a UserData store rooted at dir. An empty dir selects
// the default per-user location.
func NewUserData(dir string) *UserData {
	if dir == "" {
		dir = UserDataDir()
	}
	return &UserData{dir: dir}
}

// Dir returns the root directory of the store.
func (u *UserData) Dir() string {
	return u.dir
}

// Settings reads settings.json. A missing file yields zero-value settings.
func (u *UserData) Settings() (*Settings, error) {
	var s Settings
	if err := u.readJSON("settings.json", &s); err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, err
	}
	return &s, nil
}

// SaveSettings replaces settings.json.
func (u *UserData) SaveSettings(s *Settings) error {
	return u.writeJSON("settings.json", s)
}

// Credential returns the stored token for a provider key, or an empty string.
func (u *UserData) Credential(providerKey string) (string, error) {
	creds, err := u.credentials()
	if err != nil {
		return "", err
	}
	return creds[providerKey], nil
}

// SetCredential stores a token for a provider key. An empty token removes
// the entry.
func (u *UserData) SetCredential(providerKey, token string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	creds, err := u.credentials()
	if err != nil {
		return err
	}
	if token == "" {
		delete(creds, providerKey)
	} else {
		creds[providerKey] = token
	}
	return u.writeJSON("credentials.json", creds)
}

// credentials reads credentials.json; a missing file yields an empty map.
func (u *UserData) credentials() (map[string]string, error) {
	creds := make(map[string]string)
	if err := u.readJSON("credentials.json", &creds); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return creds, nil
}

// SessionTranscript reads an agent-session transcript by id.
func (u *UserData) SessionTranscript(id string, v any) error {
	return u.readJSON(filepath.Join("agent-sessions", id+".json"), v)
}

// SaveSessionTranscript replaces an agent-session transcript and stamps the
// session's metadata entry.
func (u *UserData) SaveSessionTranscript(id string, v any, meta SessionMeta) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.writeJSON(filepath.Join("agent-sessions", id+".json"), v); err != nil {
		return err
	}

	all, err := u.sessionsMetadata()
	if err != nil {
		return err
	}
	if existing, ok := all[id]; ok {
		meta.CreatedAt = existing.CreatedAt
	} else if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	meta.UpdatedAt = time.Now()
	all[id] = meta
	return u.writeJSON("sessions-metadata.json", all)
}

// ListSessions returns session metadata sorted by most recent update.
func (u *UserData) ListSessions() (map[string]SessionMeta, []string, error) {
	all, err := u.sessionsMetadata()
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return all[ids[i]].UpdatedAt.After(all[ids[j]].UpdatedAt)
	})
	return all, ids, nil
}

// sessionsMetadata reads sessions-metadata.json; missing yields empty map.
func (u *UserData) sessionsMetadata() (map[string]SessionMeta, error) {
	all := make(map[string]SessionMeta)
	if err := u.readJSON("sessions-metadata.json", &all); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return all, nil
}

// readJSON reads and unmarshals a file relative to the store root.
func (u *UserData) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(u.dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// writeJSON marshals v and atomically replaces a file relative to the root.
func (u *UserData) writeJSON(name string, v any) error {
	path := filepath.Join(u.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create user data directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return atomicWrite(path, append(data, '\n'))
}
