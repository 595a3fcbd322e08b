// Package session reads and writes the signed-in user record. Signing in
// happens elsewhere; this client only consumes the stored identity.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"qaboard/internal/board"
)

type User struct {
	UserID   board.ID `json:"user_id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
}

// DisplayName falls back to the email local part, then to Anonymous.
func (u *User) DisplayName() string {
	if u == nil {
		return board.Anonymous
	}
	if name := strings.TrimSpace(u.Username); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(u.Email, "@"); ok && local != "" {
		return local
	}
	return board.Anonymous
}

type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns nil without error when no user is stored.
func (s *FileStore) Load() (*User, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if u.UserID == "" {
		return nil, nil
	}
	return &u, nil
}

func (s *FileStore) Clear() error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
