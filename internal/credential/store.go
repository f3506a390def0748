// Package credential persists the client's ingest credential: the
// (channelId, token) pair from pairing plus the local snapshot sequence
// counter, so the counter survives restarts and the relay never sees it
// jump backwards.
//
// At rest the file is AES-256-GCM sealed; the key lives in the OS keyring
// and is generated on first save. When no keyring is available the file is
// written plain with 0600 permissions and a warning.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/savecast/internal/crypto"
)

const (
	keyringService = "savecast"
	keyringUser    = "credential-key"
)

// Credential is the client-held pairing grant plus the sequence counter.
type Credential struct {
	ChannelID   string    `json:"channelId"`
	IngestToken string    `json:"ingestToken"`
	Seq         int64     `json:"seq"`
	SavedAt     time.Time `json:"savedAt"`
}

// Valid reports whether the credential authorizes ingest calls.
func (c *Credential) Valid() bool {
	return c != nil && c.ChannelID != "" && c.IngestToken != ""
}

// Store reads and writes the credential file. Safe for the concurrent
// load/clear the pacing loop and the transport error path perform.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store at path, creating parent directories on demand.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the stored credential, or nil when none is stored or the file
// cannot be decrypted (a fresh pairing fixes both).
func (s *Store) Load() *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}

	if key := s.loadKey(); key != nil {
		if opened, err := crypto.Open(data, key); err == nil {
			data = opened
		}
		// Decrypt failure falls through: the file may predate encryption.
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		slog.Warn("credential file unreadable, ignoring", "path", s.path, "error", err)
		return nil
	}
	if !cred.Valid() {
		return nil
	}
	return &cred
}

// Save persists the credential atomically (write-temp-then-rename), so a
// concurrent reader never observes a half-written file.
func (s *Store) Save(cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred.SavedAt = time.Now().UTC()
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	if key := s.ensureKey(); key != nil {
		sealed, err := crypto.Seal(data, key)
		if err != nil {
			return fmt.Errorf("seal credential: %w", err)
		}
		data = sealed
	} else {
		slog.Warn("no keyring available, storing credential unencrypted", "path", s.path)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit credential: %w", err)
	}
	return nil
}

// Clear deletes the stored credential. Called when the relay answers
// 401/403: the token is gone server-side, keeping it would only loop.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("clear credential failed", "path", s.path, "error", err)
	}
}

// BumpSeq persists seq so a restart resumes above it, and returns the value
// to use for the next snapshot.
func (s *Store) BumpSeq(cred *Credential) (int64, error) {
	cred.Seq++
	if err := s.Save(cred); err != nil {
		return 0, err
	}
	return cred.Seq, nil
}

func (s *Store) loadKey() []byte {
	encoded, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		return nil
	}
	key, err := crypto.DecodeKey(encoded)
	if err != nil {
		slog.Warn("keyring holds malformed credential key", "error", err)
		return nil
	}
	return key
}

func (s *Store) ensureKey() []byte {
	if key := s.loadKey(); key != nil {
		return key
	}
	encoded, err := crypto.GenerateKey()
	if err != nil {
		return nil
	}
	if err := keyring.Set(keyringService, keyringUser, encoded); err != nil {
		return nil
	}
	key, _ := crypto.DecodeKey(encoded)
	return key
}
