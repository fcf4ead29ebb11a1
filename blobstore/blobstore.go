package blobstore

// Staging store for blobs that cannot be streamed inline.
//
// Canonical-order output references blobs out of parser order, so each
// blob is parked on disk under a fan-out tree keyed by its serial and
// replayed adjacent to the first commit that references it. The tree
// lives under TMPDIR and is removed, success or failure, at shutdown.

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/alitto/pond"
	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"
)

// fanout is the largest directory size that does not cause slow
// secondary allocations; something near 256 on ext4.
const fanout = 256

const sniffLen = 261

// Store - a staging directory of serial-keyed blob files.
type Store struct {
	dir      string
	compress bool
	logger   *logrus.Logger
	pool     *pond.WorkerPool
	stopped  bool

	mu      sync.Mutex
	saveErr error
}

// NewStore creates the staging directory under tmpdir (or $TMPDIR, or
// /tmp) and a worker pool for blob writes.
func NewStore(tmpdir string, compress bool, logger *logrus.Logger) (*Store, error) {
	if tmpdir == "" {
		tmpdir = os.Getenv("TMPDIR")
	}
	if tmpdir == "" {
		tmpdir = "/tmp"
	}
	dir, err := os.MkdirTemp(tmpdir, "cvs-fast-export-")
	if err != nil {
		return nil, fmt.Errorf("temp dir creation failed: %w", err)
	}
	s := &Store{dir: dir, compress: compress, logger: logger}
	s.pool = pond.New(runtime.NumCPU(), 0, pond.MinWorkers(2))
	return s, nil
}

// Dir returns the staging directory path.
func (s *Store) Dir() string {
	return s.dir
}

// blobPath maps a serial to its location in the fan-out tree: base-256
// digits as hex components, least significant first, the final digit
// prefixed with '=' to mark the leaf.
func (s *Store) blobPath(serial uint32, create bool) (string, error) {
	path := s.dir
	for m := serial; ; {
		digit := m % fanout
		m = (m - digit) / fanout
		if m == 0 {
			path = fmt.Sprintf("%s/=%x", path, digit)
			break
		}
		path = fmt.Sprintf("%s/%x", path, digit)
		if create {
			if err := os.Mkdir(path, 0770); err != nil && !os.IsExist(err) {
				return "", fmt.Errorf("blob subdir creation of %s failed: %w", path, err)
			}
		}
	}
	return path, nil
}

// compressible reports whether contents is worth gzipping; media and
// archive payloads already are compressed.
func compressible(contents []byte) bool {
	head := contents
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if filetype.IsImage(head) || filetype.IsVideo(head) ||
		filetype.IsArchive(head) || filetype.IsAudio(head) {
		return false
	}
	return true
}

// Stage schedules the write of one blob file. Contents must be the exact
// bytes the stream will carry after the blob record's mark line. Each
// serial is staged at most once.
func (s *Store) Stage(serial uint32, contents []byte) {
	s.pool.Submit(func() {
		if err := s.write(serial, contents); err != nil {
			s.mu.Lock()
			if s.saveErr == nil {
				s.saveErr = err
			}
			s.mu.Unlock()
			s.logger.Errorf("blob staging: %v", err)
		}
	})
}

func (s *Store) write(serial uint32, contents []byte) error {
	path, err := s.blobPath(serial, true)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("blobfile open of %s: %w", path, err)
	}
	defer f.Close()
	if s.compress && compressible(contents) {
		zw := gzip.NewWriter(f)
		if _, err = zw.Write(contents); err != nil {
			return fmt.Errorf("blobfile write of %s: %w", path, err)
		}
		return zw.Close()
	}
	if _, err = f.Write(contents); err != nil {
		return fmt.Errorf("blobfile write of %s: %w", path, err)
	}
	return nil
}

// Wait drains the write pool and reports the first staging failure.
// Must be called before the first Open.
func (s *Store) Wait() error {
	if !s.stopped {
		s.stopped = true
		s.pool.StopAndWait()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveErr
}

var gzipMagic = []byte{0x1f, 0x8b}

// StagedBlob - an open staged blob. Reading yields the exact bytes that
// were staged, transparently decompressed.
type StagedBlob struct {
	path string
	f    *os.File
	src  io.Reader
	zr   *gzip.Reader
}

func (b *StagedBlob) Read(p []byte) (int, error) {
	return b.src.Read(p)
}

// Close closes the blob and unlinks it from the staging tree.
func (b *StagedBlob) Close() error {
	if b.zr != nil {
		b.zr.Close()
	}
	if err := b.f.Close(); err != nil {
		return err
	}
	return os.Remove(b.path)
}

// Open returns the staged blob for a serial, or (nil, nil) when no blob
// is staged under it (already emitted, or never staged).
func (s *Store) Open(serial uint32) (*StagedBlob, error) {
	path, err := s.blobPath(serial, false)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	br := bufio.NewReader(f)
	blob := &StagedBlob{path: path, f: f, src: br}
	head, _ := br.Peek(2)
	if bytes.Equal(head, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("blobfile read of %s: %w", path, err)
		}
		blob.zr = zr
		blob.src = zr
	}
	return blob, nil
}

// Remove tears the whole staging tree down. Safe to call more than once.
func (s *Store) Remove() error {
	if !s.stopped {
		s.stopped = true
		s.pool.StopAndWait()
	}
	return os.RemoveAll(s.dir)
}
