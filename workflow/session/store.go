package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/thomasrohde/strands-workflow/workflow/werrors"
)

const (
	stateFileName = "session.json"
	specFileName  = "spec_snapshot.yaml"
	lockFileName  = ".lock"

	// DefaultLockTimeout matches the original implementation's
	// session_lock default acquisition timeout.
	DefaultLockTimeout = 10 * time.Second
)

// Store persists Sessions as one directory per session under root, the way
// the original implementation lays out session_{uuid}/ directories, with
// each write serialized through a gofrs/flock advisory lock.
//
// A session's state is kept in one session.json rather than split across
// separate metadata/pattern-state/variables/token-usage files: the whole
// Session is small enough to rewrite in full on every checkpoint, and one
// file means one atomic rename instead of coordinating several, at the
// cost of external tooling no longer being able to read, say, just the
// token usage without parsing the rest of the document.
type Store struct {
	root        string
	lockTimeout time.Duration
}

// NewStore constructs a Store rooted at dir. lockTimeout <= 0 selects
// DefaultLockTimeout.
func NewStore(dir string, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{root: dir, lockTimeout: lockTimeout}
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.root, "session_"+sessionID)
}

// Create makes a new session directory and persists sess's initial state.
func (s *Store) Create(sess *Session) error {
	dir := s.sessionDir(sess.Metadata.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return werrors.IO(err, "creating session directory %s", dir)
	}
	return s.Save(sess)
}

// Save checkpoints sess to disk under an exclusive lock, writing both the
// session state and (if present) the spec snapshot atomically via a
// temp-file-then-rename sequence, matching the teacher pack's reliance on
// durable, crash-safe writes for resumable state.
func (s *Store) Save(sess *Session) error {
	dir := s.sessionDir(sess.Metadata.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return werrors.IO(err, "creating session directory %s", dir)
	}

	unlock, err := s.lock(sess.Metadata.SessionID)
	if err != nil {
		return err
	}
	defer unlock()

	sess.Metadata.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return werrors.IO(err, "marshaling session %s", sess.Metadata.SessionID)
	}
	if err := atomicWrite(filepath.Join(dir, stateFileName), data); err != nil {
		return err
	}

	if sess.SpecSnapshot != "" {
		if err := atomicWrite(filepath.Join(dir, specFileName), []byte(sess.SpecSnapshot)); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a session's persisted state. The spec snapshot, if present, is
// populated into Session.SpecSnapshot for hash comparison by the resume
// path.
func (s *Store) Load(sessionID string) (*Session, error) {
	dir := s.sessionDir(sessionID)

	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if err != nil {
		return nil, werrors.IO(err, "loading session %s", sessionID)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, werrors.IO(err, "parsing session %s", sessionID)
	}

	if snap, err := os.ReadFile(filepath.Join(dir, specFileName)); err == nil {
		sess.SpecSnapshot = string(snap)
	}

	return &sess, nil
}

// Delete removes a session's directory entirely.
func (s *Store) Delete(sessionID string) error {
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return werrors.IO(err, "deleting session %s", sessionID)
	}
	return nil
}

// List returns metadata for every session under root, newest first.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, werrors.IO(err, "listing sessions under %s", s.root)
	}

	var out []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, e.Name(), stateFileName))
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		out = append(out, sess.Metadata)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Cleanup removes sessions whose Metadata.UpdatedAt is older than
// maxAge, the supplemented feature grounded on the original
// implementation's session/cleanup.py age-based pruning. It returns the
// ids of the sessions it removed.
func (s *Store) Cleanup(maxAge time.Duration) ([]string, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for _, m := range metas {
		if m.UpdatedAt.Before(cutoff) {
			if err := s.Delete(m.SessionID); err != nil {
				return removed, fmt.Errorf("cleaning up session %s: %w", m.SessionID, err)
			}
			removed = append(removed, m.SessionID)
		}
	}
	return removed, nil
}
