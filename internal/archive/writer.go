package archive

import (
	"fmt"

	"github.com/go-git/go-billy/v5"
)

// DefaultMaxChunkBytes matches the original 15 MiB cap: big enough to keep
// the chunk count sane, small enough that decompressing one chunk to seek
// a record near its end stays quick.
const DefaultMaxChunkBytes = 15 * 1024 * 1024

// ChunkWriter splits one class's records across numbered chunk files
// (<Class>.dump.1, <Class>.dump.2, ...), each capped at maxBytes of
// uncompressed text. Records are never split: a new chunk opens when the
// incoming record would push the current one past the cap, and a record
// bigger than the cap gets a chunk to itself. A class with no records
// emits no file at all.
type ChunkWriter struct {
	fs       billy.Filesystem
	dir      string
	class    string
	maxBytes int64

	file  billy.File
	index int   // current chunk number, 1-based; 0 before the first record
	pos   int64 // bytes written to the current chunk
}

func NewChunkWriter(fs billy.Filesystem, dir, className string, maxBytes int64) *ChunkWriter {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxChunkBytes
	}
	return &ChunkWriter{fs: fs, dir: dir, class: className, maxBytes: maxBytes}
}

// Append writes one complete record and returns the chunk index and byte
// offset where its first byte landed. The (index, offset) pair plus the
// record length is the sole random-access handle a consumer gets.
func (w *ChunkWriter) Append(record []byte) (index int, offset int64, err error) {
	if w.file == nil || (w.pos > 0 && w.pos+int64(len(record)) > w.maxBytes) {
		if err := w.rotate(); err != nil {
			return 0, 0, err
		}
	}
	offset = w.pos
	n, err := w.file.Write(record)
	w.pos += int64(n)
	if err != nil {
		return 0, 0, fmt.Errorf("write chunk %s: %w", w.chunkName(w.index), err)
	}
	return w.index, offset, nil
}

// Chunks returns how many chunk files have been opened so far.
func (w *ChunkWriter) Chunks() int { return w.index }

// Close flushes and releases the current chunk handle. Safe to call when
// no record was ever appended.
func (w *ChunkWriter) Close() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Close(); err != nil {
		return fmt.Errorf("close chunk %s: %w", w.chunkName(w.index), err)
	}
	return nil
}

func (w *ChunkWriter) rotate() error {
	if err := w.Close(); err != nil {
		return err
	}
	w.index++
	w.pos = 0
	name := w.chunkName(w.index)
	f, err := w.fs.Create(w.fs.Join(w.dir, name))
	if err != nil {
		return describeOpenErr(name, err)
	}
	w.file = f
	return nil
}

func (w *ChunkWriter) chunkName(index int) string {
	return ChunkFilename(w.class, index)
}

// ChunkFilename names chunk index N of a class's dump data. Indexes start
// at 1.
func ChunkFilename(className string, index int) string {
	return fmt.Sprintf("%s.dump.%d", className, index)
}
