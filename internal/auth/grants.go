package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/justestif/go-spotify-now-playing/internal/db"
)

// Grant is a long-lived refresh credential obtained through the
// authorization-code flow, with the account it belongs to.
type Grant struct {
	RefreshToken string    `json:"refresh_token"`
	AccountID    string    `json:"account_id,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// GrantStore persists the current refresh grant.
type GrantStore interface {
	// Load returns the current grant, or (nil, nil) when none is stored.
	Load(ctx context.Context) (*Grant, error)
	Save(ctx context.Context, grant *Grant) error
	Delete(ctx context.Context) error
}

// ============================================================================
// File-Backed Grant Store
// ============================================================================

// FileGrantStore keeps the grant in a JSON file readable only by the owner.
type FileGrantStore struct {
	path string
}

// NewFileGrantStore creates a FileGrantStore at path.
func NewFileGrantStore(path string) *FileGrantStore {
	return &FileGrantStore{path: path}
}

// Path returns the file path where the grant is stored.
func (s *FileGrantStore) Path() string {
	return s.path
}

// Load reads the grant from disk.
func (s *FileGrantStore) Load(_ context.Context) (*Grant, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading grant file: %w", err)
	}

	var grant Grant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("parsing grant file: %w", err)
	}

	return &grant, nil
}

// Save writes the grant to disk, creating the parent directory if needed.
func (s *FileGrantStore) Save(_ context.Context, grant *Grant) error {
	if grant == nil || grant.RefreshToken == "" {
		return errors.New("cannot save grant without refresh token")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating grant directory: %w", err)
	}

	data, err := json.MarshalIndent(grant, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding grant: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("writing grant file: %w", err)
	}

	return nil
}

// Delete removes the grant file. Returns nil if the file does not exist.
func (s *FileGrantStore) Delete(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing grant file: %w", err)
	}
	return nil
}

// ============================================================================
// Database-Backed Grant Store
// ============================================================================

// DBGrantStore keeps grants in PostgreSQL. Load returns the newest one.
type DBGrantStore struct {
	database *db.DB
}

// NewDBGrantStore creates a database-backed grant store.
func NewDBGrantStore(database *db.DB) *DBGrantStore {
	return &DBGrantStore{database: database}
}

// Load returns the most recently saved grant.
func (s *DBGrantStore) Load(ctx context.Context) (*Grant, error) {
	row, err := s.database.Grants().Latest(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &Grant{
		RefreshToken: row.RefreshToken,
		AccountID:    row.AccountID,
		DisplayName:  row.DisplayName,
		Scope:        row.Scope,
		CreatedAt:    row.CreatedAt,
	}, nil
}

// Save inserts grant as the newest row.
func (s *DBGrantStore) Save(ctx context.Context, grant *Grant) error {
	if grant == nil || grant.RefreshToken == "" {
		return errors.New("cannot save grant without refresh token")
	}

	return s.database.Grants().Create(ctx, &db.Grant{
		RefreshToken: grant.RefreshToken,
		AccountID:    grant.AccountID,
		DisplayName:  grant.DisplayName,
		Scope:        grant.Scope,
	})
}

// Delete removes all stored grants.
func (s *DBGrantStore) Delete(ctx context.Context) error {
	return s.database.Grants().DeleteAll(ctx)
}

// Ensure both stores implement GrantStore.
var (
	_ GrantStore = (*FileGrantStore)(nil)
	_ GrantStore = (*DBGrantStore)(nil)
)
