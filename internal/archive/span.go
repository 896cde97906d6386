package archive

import (
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
)

// ReadSpan retrieves one record's exact bytes from a chunk file: offset and
// length as recorded at generation time, against the uncompressed chunk
// content. The chunk may have been compressed after generation; only that
// single chunk is ever decompressed, never the full class archive.
func ReadSpan(fs billy.Filesystem, dir, chunkFile string, offset, length int64) ([]byte, error) {
	var r *Reader
	var err error
	for _, suffix := range []string{"", ".xz", ".gz"} {
		path := fs.Join(dir, chunkFile+suffix)
		if _, statErr := fs.Stat(path); statErr != nil {
			continue
		}
		r, err = OpenFile(fs, path)
		if err != nil {
			return nil, err
		}
		break
	}
	if r == nil {
		return nil, fmt.Errorf("%w: chunk file %s under %s", ErrArchiveNotFound, chunkFile, dir)
	}
	defer func() { _ = r.Close() }()

	if _, err := io.CopyN(io.Discard, r.br, offset); err != nil {
		return nil, fmt.Errorf("seek to offset %d in %s: %w", offset, chunkFile, err)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, fmt.Errorf("read %d bytes at offset %d in %s: %w", length, offset, chunkFile, err)
	}
	return buf, nil
}
