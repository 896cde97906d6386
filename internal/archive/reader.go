// Package archive reads per-class property-dump archives and re-packages
// their records into size-capped chunk files with recoverable byte offsets.
package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"syscall"

	"github.com/go-git/go-billy/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// Record boundary and parent-declaration grammar of the dump format. The
// boundary candidate deliberately stops before the opening quote: a header
// that lost its quotes must still register as a boundary so the run aborts
// on it instead of absorbing the garbage into the previous record's bytes.
const (
	headerPrefix = "*** Property dump for object"
	parentPrefix = "  ObjectArchetype="
)

var headerRe = regexp.MustCompile(`^\*\*\* Property dump for object '(\S+) (\S+)' \*\*\*`)

// Archive filename suffixes, in lookup order. Plain wins over compressed
// when both exist.
var suffixes = []string{".dump", ".dump.xz", ".dump.gz"}

var ErrArchiveNotFound = errors.New("archive not found")

// ParseHeader matches a record-boundary line, returning the class and
// object name tokens.
func ParseHeader(line string) (className, objectName string, ok bool) {
	if !strings.HasPrefix(line, headerPrefix) {
		return "", "", false
	}
	m := headerRe.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// IsHeaderCandidate reports whether a line claims to be a record boundary,
// whether or not it parses. A candidate that fails ParseHeader is a
// malformed record and fatal for the run.
func IsHeaderCandidate(line string) bool {
	return strings.HasPrefix(line, headerPrefix)
}

// ParseParent matches the parent-class declaration line, returning the
// class name token (the text after '=' up to the first quote). The literal
// token "None" declares the root class.
func ParseParent(line string) (parent string, ok bool) {
	if !strings.HasPrefix(line, parentPrefix) {
		return "", false
	}
	val := line[len(parentPrefix):]
	if i := strings.IndexByte(val, '\''); i >= 0 {
		val = val[:i]
	}
	return strings.TrimSpace(val), true
}

// Reader streams one per-class archive line at a time, transparently
// decompressing .xz and .gz variants. Lines keep their trailing newline so
// byte accounting downstream stays exact.
type Reader struct {
	file billy.File
	gz   *gzip.Reader
	br   *bufio.Reader
	eof  bool
}

// Open resolves and opens the archive for className under dir, trying the
// plain and compressed suffixes in order.
func Open(fs billy.Filesystem, dir, className string) (*Reader, error) {
	for _, suffix := range suffixes {
		path := fs.Join(dir, className+suffix)
		if _, err := fs.Stat(path); err != nil {
			continue
		}
		return OpenFile(fs, path)
	}
	return nil, fmt.Errorf("%w: class %s has no %s file under %s",
		ErrArchiveNotFound, className, strings.Join(suffixes, "/"), dir)
}

// OpenFile opens one archive by path, picking the decompressor from the
// filename suffix.
func OpenFile(fs billy.Filesystem, path string) (*Reader, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, describeOpenErr(path, err)
	}
	r := &Reader{file: f}
	switch {
	case strings.HasSuffix(path, ".xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open xz stream %s: %w", path, err)
		}
		r.br = bufio.NewReaderSize(xr, 1<<20)
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
		}
		r.gz = gz
		r.br = bufio.NewReaderSize(gz, 1<<20)
	default:
		r.br = bufio.NewReaderSize(f, 1<<20)
	}
	return r, nil
}

// Next returns the next line including its trailing newline. The final
// line is returned even without one. io.EOF signals the end of the stream.
func (r *Reader) Next() (string, error) {
	if r.eof {
		return "", io.EOF
	}
	line, err := r.br.ReadString('\n')
	if err == io.EOF {
		r.eof = true
		if line == "" {
			return "", io.EOF
		}
		return line, nil
	}
	if err != nil {
		return "", err
	}
	return line, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if r.gz != nil {
		_ = r.gz.Close()
	}
	return r.file.Close()
}

// ClassNameFromFilename strips the archive suffix off a directory entry,
// returning ok=false for files that are not dump archives.
func ClassNameFromFilename(name string) (string, bool) {
	for _, suffix := range suffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return "", false
}

// describeOpenErr turns descriptor-ceiling failures into an actionable
// message; everything else is wrapped as-is.
func describeOpenErr(path string, err error) error {
	if errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) {
		return fmt.Errorf("open %s: %w (process open-file limit reached; raise it with `ulimit -n` or /etc/security/limits.conf and rerun)", path, err)
	}
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrArchiveNotFound, path)
	}
	return fmt.Errorf("open %s: %w", path, err)
}
