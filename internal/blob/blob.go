// Package blob provides memory-efficient byte storage that spills to disk
// once it grows past a configured threshold. It backs internal/cache's
// stored response values.
package blob

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/nullstream/adaptivelb/internal/errs"
)

// DefaultMemoryLimit is the default memory threshold before spilling to disk.
const DefaultMemoryLimit = 4 * 1024 * 1024 // 4MB

// Blob stores data either in memory or spooled to a temporary file once it
// exceeds its memory limit.
type Blob struct {
	buf    bytes.Buffer
	file   *os.File
	path   string
	size   int64
	limit  int64
	mu     sync.Mutex
	closed bool
}

// New creates a new Blob with the provided memory limit. A non-positive
// limit falls back to DefaultMemoryLimit.
func New(limit int64) *Blob {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Blob{limit: limit}
}

// NewWithData creates a Blob already holding data, entirely in memory.
func NewWithData(data []byte) *Blob {
	b := &Blob{limit: DefaultMemoryLimit, size: int64(len(data))}
	b.buf.Write(data)
	return b
}

// Write appends p, spilling to disk once the memory threshold is crossed.
func (b *Blob) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errs.NewIOError("blob write", nil)
	}

	b.size += int64(len(p))

	if b.file == nil && int64(b.buf.Len()+len(p)) <= b.limit {
		return b.buf.Write(p)
	}

	if b.file == nil {
		tmp, err := os.CreateTemp("", "adaptivelb-blob-*.tmp")
		if err != nil {
			return 0, errs.NewIOError("creating temp file", err)
		}
		b.file = tmp
		b.path = tmp.Name()

		if b.buf.Len() > 0 {
			if _, err := tmp.Write(b.buf.Bytes()); err != nil {
				b.closeLocked()
				return 0, errs.NewIOError("spilling to temp file", err)
			}
		}
		b.buf.Reset()
	}

	n, err := b.file.Write(p)
	if err != nil {
		return n, errs.NewIOError("writing to temp file", err)
	}
	return n, nil
}

// Bytes returns the in-memory data. Empty once the blob has spilled.
func (b *Blob) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		return nil
	}
	return b.buf.Bytes()
}

// Size returns the total number of bytes written.
func (b *Blob) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// IsSpilled reports whether the blob has spilled to disk.
func (b *Blob) IsSpilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader returns a fresh reader over the stored data.
func (b *Blob) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errs.NewIOError("blob reader", nil)
	}

	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, errs.NewIOError("syncing temp file", err)
		}
		f, err := os.Open(b.path)
		if err != nil {
			return nil, errs.NewIOError("opening temp file", err)
		}
		return f, nil
	}

	return io.NopCloser(bytes.NewReader(b.buf.Bytes())), nil
}

// Close removes any backing temp file. Safe to call more than once.
func (b *Blob) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *Blob) closeLocked() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.file != nil {
		err := b.file.Close()
		if removeErr := os.Remove(b.path); removeErr != nil && err == nil {
			err = errs.NewIOError("removing temp file", removeErr)
		}
		b.file = nil
		b.path = ""
		if err != nil {
			return errs.NewIOError("closing temp file", err)
		}
	}
	return nil
}
