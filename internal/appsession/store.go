package appsession

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
)

// Store is the process-wide app session: the role the user currently acts as.
// It survives restarts through a small JSON file.
type Store struct {
	path string
	log  logrus.FieldLogger

	mu   sync.Mutex
	role domain.Role
}

type sessionFile struct {
	Role domain.Role `json:"role"`
}

func NewStore(path string, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{path: path, log: log.WithField("component", "appsession")}
}

// Load reads the persisted role. A missing or unreadable file leaves the
// session empty.
func (s *Store) Load() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return s.role
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).Warn("could not read app session")
		}
		return s.role
	}
	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil || !ValidRole(file.Role) {
		s.log.WithField("path", s.path).Warn("ignoring invalid app session file")
		return s.role
	}
	s.role = file.Role
	return s.role
}

// Role returns the current role and whether one is set.
func (s *Store) Role() (domain.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role, s.role != ""
}

func (s *Store) SetRole(role domain.Role) error {
	if !ValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistLocked(sessionFile{Role: role}); err != nil {
		return err
	}
	s.role = role
	s.log.WithField("role", role).Info("role set")
	return nil
}

// Clear forgets the role in memory and on disk.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.role = ""
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove app session: %w", err)
	}
	return nil
}

func (s *Store) persistLocked(file sessionFile) error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(file)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write app session: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace app session: %w", err)
	}
	return nil
}

func ValidRole(role domain.Role) bool {
	return role == domain.RoleEmployer || role == domain.RoleCandidate
}
