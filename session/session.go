// Package session persists the signed-in identity obtained from the external
// magic-link identity service, and reports sign-in/sign-out changes.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
)

var ErrNotSignedIn = errors.New("not signed in")

// Session is an authenticated identity plus the bearer token for the job API.
type Session struct {
	Identity   string    `toml:"identity"`
	Token      string    `toml:"token"`
	SignedInAt time.Time `toml:"signed_in_at"`
}

func (s Session) validate() error {
	if strings.TrimSpace(s.Identity) == "" {
		return errors.New("session identity is required")
	}
	if strings.TrimSpace(s.Token) == "" {
		return errors.New("session token is required")
	}
	return nil
}

// SameIdentity reports whether a and b belong to the same signed-in user.
// Two nil sessions are the same; nil and non-nil are not.
func SameIdentity(a, b *Session) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Identity == b.Identity
}

// Store keeps one session in a TOML file guarded by a lock file.
type Store struct {
	path string
	lock *flock.Flock
}

func NewStore(path string) *Store {
	path = filepath.Clean(path)
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the stored session or ErrNotSignedIn.
func (s *Store) Load() (*Session, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, err
	}
	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock session file: %w", err)
	}
	defer s.lock.Unlock()
	return s.read()
}

func (s *Store) read() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotSignedIn
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNotSignedIn
	}

	var sess Session
	if err := toml.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", s.path, err)
	}
	if err := sess.validate(); err != nil {
		return nil, fmt.Errorf("session file %s: %w", s.path, err)
	}
	return &sess, nil
}

// Save replaces the stored session.
func (s *Store) Save(sess Session) error {
	if err := sess.validate(); err != nil {
		return err
	}
	if sess.SignedInAt.IsZero() {
		sess.SignedInAt = time.Now().UTC()
	}
	data, err := toml.Marshal(sess)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer s.lock.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Clear signs out. Clearing an empty store is not an error.
func (s *Store) Clear() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Watch calls onChange whenever the stored identity changes (sign-in as a
// different user, or sign-out, which is reported as nil). It blocks until ctx
// ends. current is the session the caller already knows about.
func (s *Store) Watch(ctx context.Context, current *Session, logger logrus.FieldLogger, onChange func(*Session)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	known := current
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Session watcher error")
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			next, err := s.Load()
			if err != nil && !errors.Is(err, ErrNotSignedIn) {
				logger.WithError(err).Warn("Could not reload session")
				continue
			}
			if SameIdentity(known, next) {
				continue
			}
			known = next
			onChange(next)
		}
	}
}
