// Package session persists client session material (auth token, homeserver
// login info, device identity) in a local SQLite database, playing the role
// browser local storage plays for the web client.
package session

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Well-known keys. The matrix-* generations are written by different client
// versions; the recovery package inspects all of them.
const (
	KeyToken           = "token"
	KeyAccessToken     = "matrix_access_token"
	KeyLoginInfo       = "matrix_login_info"
	KeyLegacyLoginInfo = "matrix-login-info"
	KeyV39LoginInfo    = "matrix-v39-login-info"
	KeyDeviceID        = "matrix-device-id"
	KeyQuickAuth       = "matrix-quick-auth"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("session entry not found")

// Entry is one persisted key/value pair.
type Entry struct {
	Key       string `gorm:"primarykey;size:128"`
	Value     string `gorm:"size:8192"`
	UpdatedAt time.Time
}

// TableName returns the table name for Entry.
func (Entry) TableName() string { return "session_entries" }

// Store is a SQLite-backed key/value store. It satisfies the REST client's
// TokenStore over the fixed token key.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the session database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, error) {
	var e Entry
	if err := s.db.First(&e, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read session entry: %w", err)
	}
	return e.Value, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(key, value string) error {
	if err := s.db.Save(&Entry{Key: key, Value: value}).Error; err != nil {
		return fmt.Errorf("write session entry: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if err := s.db.Delete(&Entry{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("delete session entry: %w", err)
	}
	return nil
}

// Keys lists all stored keys.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	if err := s.db.Model(&Entry{}).Order("key").Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("list session keys: %w", err)
	}
	return keys, nil
}

// Snapshot returns all stored pairs. The recovery package inspects
// snapshots so inspection stays pure.
func (s *Store) Snapshot() (map[string]string, error) {
	var entries []Entry
	if err := s.db.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("snapshot session store: %w", err)
	}
	snap := make(map[string]string, len(entries))
	for _, e := range entries {
		snap[e.Key] = e.Value
	}
	return snap, nil
}

// Token implements the REST client's TokenStore.
func (s *Store) Token() (string, error) {
	v, err := s.Get(KeyToken)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// SetToken persists the bearer token.
func (s *Store) SetToken(token string) error { return s.Put(KeyToken, token) }

// ClearToken removes the bearer token.
func (s *Store) ClearToken() error { return s.Delete(KeyToken) }
