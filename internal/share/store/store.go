// Package store keeps shared traces on local disk.
//
// Layout under Options.Dir:
//
//	index.db            buntdb index, one "share:<key>" item per shared trace
//	blobs/<hash>.lz4    trace content, lz4 framed, named by xxhash64
//
// Blobs are content addressed: sharing the same bytes twice stores them
// once. Index items expire after the TTL; Sweep removes expired items and
// blobs no item references anymore.
package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/pierrec/lz4/v4"
	"github.com/teris-io/shortid"
	"github.com/tidwall/buntdb"
	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/logging"
)

var (
	log  = logging.Component("store")
	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

const (
	keyPrefix  = "share:"
	hashIndex  = "hash"
	blobSuffix = ".lz4"
	tmpPrefix  = ".tmp-"

	// keyAlphabet matches shortid.DefaultABC.
	keyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_-"
)

// Options configures a Store.
type Options struct {
	// Dir holds the index and the blobs.
	Dir string

	// TTL is how long a share is kept, 0 keeps shares forever.
	TTL time.Duration

	// SweepInterval is the period of Run, 0 disables the background sweep.
	SweepInterval time.Duration

	// MaxSize limits a stored trace in bytes, 0 means unlimited.
	MaxSize int64
}

// DefaultOptions returns default store options for dir.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:           dir,
		TTL:           config.DefaultShareTTL,
		SweepInterval: config.DefaultSweepInterval,
		MaxSize:       config.DefaultMaxUploadSize,
	}
}

// Entry describes one shared trace.
type Entry struct {
	Key      string    `json:"key"`
	FileName string    `json:"file_name"`
	Hash     string    `json:"hash"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
	Expires  time.Time `json:"expires,omitempty"`
}

// Expired reports whether the entry has expired at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.Expires.IsZero() && !now.Before(e.Expires)
}

// Stats holds store statistics.
type Stats struct {
	Puts         int64
	Deduplicated int64
	Deletes      int64
	Expired      int64
	BlobsDeleted int64
	BytesFreed   int64
	Errors       int64
}

// SweepResult is the result of one Sweep.
type SweepResult struct {
	Expired      int
	BlobsDeleted int
	BytesFreed   int64
	Errors       []error
}

// Store is a TTL-bounded, deduplicating trace store.
type Store struct {
	// mu serializes blob creation against Sweep and Delete.
	mu sync.Mutex

	opts Options
	db   *buntdb.DB
	sid  *shortid.Shortid
	now  func() time.Time

	statsMu sync.Mutex
	stats   Stats
}

// Open opens or creates a store.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.NewMissingField("share.data_dir")
	}
	if err := os.MkdirAll(filepath.Join(opts.Dir, "blobs"), 0o755); err != nil {
		return nil, errors.Join(errors.ErrStorage, fmt.Errorf("create store dir: %w", err))
	}

	db, err := buntdb.Open(filepath.Join(opts.Dir, "index.db"))
	if err != nil {
		return nil, errors.Join(errors.ErrStorage, fmt.Errorf("open index: %w", err))
	}
	if err := db.CreateIndex(hashIndex, keyPrefix+"*", buntdb.IndexJSON("hash")); err != nil {
		db.Close()
		return nil, errors.Join(errors.ErrStorage, fmt.Errorf("create index: %w", err))
	}

	sid, err := shortid.New(1, keyAlphabet, uint64(time.Now().UnixNano()))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init key generator: %w", err)
	}

	return &Store{
		opts: opts,
		db:   db,
		sid:  sid,
		now:  time.Now,
	}, nil
}

// Close closes the index. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return indexError(err)
	}
	return nil
}

// indexError classifies a buntdb failure.
func indexError(err error) error {
	if errors.Is(err, buntdb.ErrDatabaseClosed) {
		return errors.Wrap(errors.ErrClosed, "share store")
	}
	return errors.Join(errors.ErrStorage, err)
}

// Options returns the store options.
func (s *Store) Options() Options {
	return s.opts
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Store) count(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.opts.Dir, "blobs", hash+blobSuffix)
}

// =============================================================================
// Put
// =============================================================================

// Put stores the trace read from r under a new key.
func (s *Store) Put(name string, r io.Reader) (*Entry, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.opts.Dir, "blobs"), tmpPrefix+"*")
	if err != nil {
		return nil, errors.Join(errors.ErrStorage, fmt.Errorf("create temp blob: %w", err))
	}
	defer os.Remove(tmp.Name())

	size, hash, err := s.writeBlob(tmp, r)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = errors.Join(errors.ErrStorage, cerr)
	}
	if err != nil {
		s.count(func(st *Stats) { st.Errors++ })
		return nil, err
	}
	if size == 0 {
		return nil, errors.NewMissingField("trace body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.blobPath(hash)
	deduped := false
	if _, err := os.Stat(path); err == nil {
		deduped = true
	} else if err := os.Rename(tmp.Name(), path); err != nil {
		s.count(func(st *Stats) { st.Errors++ })
		return nil, errors.Join(errors.ErrStorage, fmt.Errorf("store blob: %w", err))
	}

	now := s.now().UTC()
	entry := &Entry{
		FileName: name,
		Hash:     hash,
		Size:     size,
		Created:  now,
	}
	if s.opts.TTL > 0 {
		entry.Expires = now.Add(s.opts.TTL)
	}

	if err := s.insert(entry); err != nil {
		s.count(func(st *Stats) { st.Errors++ })
		if errors.Is(err, buntdb.ErrDatabaseClosed) {
			return nil, indexError(err)
		}
		return nil, err
	}

	s.count(func(st *Stats) {
		st.Puts++
		if deduped {
			st.Deduplicated++
		}
	})
	log.Info("trace stored", "key", entry.Key, "file", name, "size", size, "deduplicated", deduped)
	return entry, nil
}

// writeBlob compresses r into w and returns the raw size and content hash.
func (s *Store) writeBlob(w io.Writer, r io.Reader) (int64, string, error) {
	h := xxhash.New()
	zw := lz4.NewWriter(w)

	src := r
	if s.opts.MaxSize > 0 {
		src = io.LimitReader(r, s.opts.MaxSize+1)
	}

	n, err := io.Copy(io.MultiWriter(zw, h), src)
	if err != nil {
		return 0, "", errors.Join(errors.ErrRead, err)
	}
	if s.opts.MaxSize > 0 && n > s.opts.MaxSize {
		return 0, "", errors.Wrapf(errors.ErrTooLarge, "trace exceeds %d bytes", s.opts.MaxSize)
	}
	if err := zw.Close(); err != nil {
		return 0, "", errors.Join(errors.ErrStorage, err)
	}
	return n, fmt.Sprintf("%016x", h.Sum64()), nil
}

// insert assigns a free key and writes the index item.
func (s *Store) insert(e *Entry) error {
	setOpts := &buntdb.SetOptions{}
	if s.opts.TTL > 0 {
		setOpts = &buntdb.SetOptions{Expires: true, TTL: s.opts.TTL}
	}

	return s.db.Update(func(tx *buntdb.Tx) error {
		for attempt := 0; attempt < 5; attempt++ {
			key, err := s.sid.Generate()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			if _, err := tx.Get(keyPrefix + key); err == nil {
				continue
			}

			e.Key = key
			val, err := json.Marshal(e)
			if err != nil {
				return err
			}
			_, _, err = tx.Set(keyPrefix+key, string(val), setOpts)
			return err
		}
		return errors.Wrap(errors.ErrAlreadyExists, "no free share key")
	})
}

// =============================================================================
// Get / Open / Delete
// =============================================================================

// Get returns the entry of key.
func (s *Store) Get(key string) (*Entry, error) {
	var e Entry
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(keyPrefix + key)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), &e)
	})
	if err == buntdb.ErrNotFound || (err == nil && e.Expired(s.now())) {
		return nil, errors.NewNotFound("share", key)
	}
	if err != nil {
		return nil, indexError(err)
	}
	return &e, nil
}

// Open returns the entry of key and a reader over the trace content. The
// reader fails at EOF if the content does not match the stored hash.
func (s *Store) Open(key string) (*Entry, io.ReadCloser, error) {
	e, err := s.Get(key)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(s.blobPath(e.Hash))
	if os.IsNotExist(err) {
		return nil, nil, errors.NewNotFound("share", key)
	}
	if err != nil {
		return nil, nil, errors.Join(errors.ErrStorage, err)
	}

	return e, &blobReader{
		file: f,
		zr:   lz4.NewReader(f),
		h:    xxhash.New(),
		want: e.Hash,
	}, nil
}

// Delete removes a share. The blob is removed when no other share uses it.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.Get(key)
	if err != nil {
		return err
	}

	var shared bool
	err = s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete(keyPrefix + key); err != nil {
			return err
		}
		shared = s.referenced(tx, e.Hash)
		return nil
	})
	if err == buntdb.ErrNotFound {
		return errors.NewNotFound("share", key)
	}
	if err != nil {
		return indexError(err)
	}

	if !shared {
		s.removeBlob(e.Hash)
	}

	s.count(func(st *Stats) { st.Deletes++ })
	log.Info("share deleted", "key", key, "blob_kept", shared)
	return nil
}

func (s *Store) removeBlob(hash string) {
	path := s.blobPath(hash)
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil {
		log.Warn("failed to remove blob", "hash", hash, "error", err)
		return
	}
	s.count(func(st *Stats) {
		st.BlobsDeleted++
		st.BytesFreed += info.Size()
	})
}

// referenced reports whether any live item uses hash.
func (s *Store) referenced(tx *buntdb.Tx, hash string) bool {
	found := false
	pivot := fmt.Sprintf(`{"hash":%q}`, hash)
	tx.AscendEqual(hashIndex, pivot, func(key, value string) bool {
		found = true
		return false
	})
	return found
}

// List returns all live entries ordered by key.
func (s *Store) List() ([]*Entry, error) {
	now := s.now()
	var entries []*Entry
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(keyPrefix+"*", func(key, value string) bool {
			var e Entry
			if err := json.Unmarshal([]byte(value), &e); err != nil {
				log.Warn("skipping corrupt index item", "key", key, "error", err)
				return true
			}
			if !e.Expired(now) {
				entries = append(entries, &e)
			}
			return true
		})
	})
	if err != nil {
		return nil, indexError(err)
	}
	return entries, nil
}

// =============================================================================
// Sweep
// =============================================================================

// Sweep removes expired index items and unreferenced blobs.
func (s *Store) Sweep() SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result SweepResult
	now := s.now()
	live := make(map[string]bool)

	err := s.db.Update(func(tx *buntdb.Tx) error {
		var expired []string
		err := tx.AscendKeys(keyPrefix+"*", func(key, value string) bool {
			var e Entry
			if err := json.Unmarshal([]byte(value), &e); err != nil || e.Expired(now) {
				expired = append(expired, key)
				return true
			}
			live[e.Hash] = true
			return true
		})
		if err != nil {
			return err
		}
		for _, key := range expired {
			if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
				return err
			}
			result.Expired++
		}
		return nil
	})
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("sweep index: %w", err))
	}

	blobs, err := os.ReadDir(filepath.Join(s.opts.Dir, "blobs"))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("list blobs: %w", err))
	}
	for _, b := range blobs {
		name := b.Name()
		if b.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, blobSuffix) {
			continue
		}
		if live[strings.TrimSuffix(name, blobSuffix)] {
			continue
		}

		path := filepath.Join(s.opts.Dir, "blobs", name)
		var size int64
		if info, err := b.Info(); err == nil {
			size = info.Size()
		}
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", path, err))
			continue
		}
		result.BlobsDeleted++
		result.BytesFreed += size
	}

	s.count(func(st *Stats) {
		st.Expired += int64(result.Expired)
		st.BlobsDeleted += int64(result.BlobsDeleted)
		st.BytesFreed += result.BytesFreed
		st.Errors += int64(len(result.Errors))
	})
	return result
}

// Run sweeps every SweepInterval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	if s.opts.SweepInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := s.Sweep()
			if res.Expired > 0 || res.BlobsDeleted > 0 || len(res.Errors) > 0 {
				log.Info("sweep completed",
					"expired", res.Expired,
					"blobs_deleted", res.BlobsDeleted,
					"bytes_freed", res.BytesFreed,
					"errors", len(res.Errors))
			}
		}
	}
}

// =============================================================================
// Blob reader
// =============================================================================

type blobReader struct {
	file *os.File
	zr   *lz4.Reader
	h    *xxhash.Digest
	want string
}

func (r *blobReader) Read(p []byte) (int, error) {
	n, err := r.zr.Read(p)
	r.h.Write(p[:n])
	if err == io.EOF {
		if got := fmt.Sprintf("%016x", r.h.Sum64()); got != r.want {
			return n, errors.Join(errors.ErrStorage, fmt.Errorf("blob %s: checksum mismatch (got %s)", r.want, got))
		}
	}
	return n, err
}

func (r *blobReader) Close() error {
	return r.file.Close()
}
