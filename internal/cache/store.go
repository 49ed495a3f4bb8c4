// Package cache persists the raw scrape result as a single JSON document with
// an expiration timestamp.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dailymed-etl/internal/model"

	"github.com/sirupsen/logrus"
)

// DefaultRetention is how long a snapshot stays fresh after it is written.
const DefaultRetention = 7 * 24 * time.Hour

// document is the on-disk layout. Expiration is epoch milliseconds.
type document struct {
	Data       []model.RawIndication `json:"data"`
	Expiration *int64                `json:"expiration"`
}

// Store reads and writes the snapshot file. Reads never fail: anything that
// cannot be turned into a snapshot is reported as absent.
type Store struct {
	path string
	now  func() time.Time
	log  logrus.FieldLogger
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for soft read failures.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// NewStore returns a store backed by the file at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path: path,
		now:  time.Now,
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// Write replaces the snapshot with records, expiring retention from now.
// The document is written to a temporary file and renamed into place so
// readers never observe a half-written snapshot.
func (s *Store) Write(records []model.RawIndication, retention time.Duration) error {
	if records == nil {
		records = []model.RawIndication{}
	}
	expiration := s.now().Add(retention).UnixMilli()

	body, err := json.MarshalIndent(document{Data: records, Expiration: &expiration}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Read loads the snapshot. The boolean is false when the file is missing,
// unreadable, empty or not a well-formed snapshot document.
func (s *Store) Read() (*model.Snapshot, bool) {
	body, err := os.ReadFile(s.path)
	if err != nil {
		s.log.WithError(err).Debug("snapshot not readable")
		return nil, false
	}
	if len(body) == 0 {
		return nil, false
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		s.log.WithError(err).WithField("path", s.path).Debug("snapshot is malformed")
		return nil, false
	}
	if doc.Expiration == nil {
		s.log.WithField("path", s.path).Debug("snapshot has no expiration")
		return nil, false
	}

	return &model.Snapshot{
		Data:      doc.Data,
		ExpiresAt: time.UnixMilli(*doc.Expiration),
	}, true
}

// IsFresh reports whether a readable snapshot exists whose expiration is
// strictly after now.
func (s *Store) IsFresh() bool {
	if _, err := os.Stat(s.path); err != nil {
		return false
	}
	snap, ok := s.Read()
	if !ok {
		return false
	}
	return snap.ExpiresAt.After(s.now())
}
