package service

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// UploadURLPrefix is prepended to stored file names in message file paths.
const UploadURLPrefix = "uploads/"

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileStore validates and persists uploaded attachments under one directory.
type FileStore struct {
	dir      string
	maxBytes int64
	allowed  map[string]struct{}
}

func NewFileStore(dir string, maxBytes int64, extensions []string) *FileStore {
	allowed := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	return &FileStore{dir: dir, maxBytes: maxBytes, allowed: allowed}
}

func (fs *FileStore) Dir() string { return fs.dir }

func (fs *FileStore) MaxBytes() int64 { return fs.maxBytes }

// Extension returns the lowercase suffix after the last dot, or "".
func Extension(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

// IsAllowedExtension reports whether filename has a dot and an allowed suffix.
func (fs *FileStore) IsAllowedExtension(filename string) bool {
	if !strings.Contains(filename, ".") {
		return false
	}
	_, ok := fs.allowed[Extension(filename)]
	return ok
}

// SanitizeFilename reduces name to a safe base name made of ASCII letters,
// digits, dot, dash and underscore. Accented letters keep their base letter.
// It returns "" when nothing usable is left.
func SanitizeFilename(name string) string {
	name = norm.NFKD.String(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}

// Check validates a prospective upload before anything is written.
func (fs *FileStore) Check(filename string, size int64) (string, error) {
	safe := SanitizeFilename(filename)
	if safe == "" || !fs.IsAllowedExtension(safe) {
		return "", fmt.Errorf("%w: file type not allowed", ErrInvalidUpload)
	}
	if size == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}
	if size > fs.maxBytes {
		return "", ErrPayloadTooLarge
	}
	return safe, nil
}

// Save writes r under a unique name and returns the relative file path. size
// is the declared length; a negative value means unknown, in which case the
// cap is enforced while copying.
func (fs *FileStore) Save(filename string, r io.Reader, size int64) (string, error) {
	safe, err := fs.Check(filename, size)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(fs.dir, 0o755); err != nil {
		return "", err
	}
	stored := uuid.NewString() + "_" + safe
	tmp, err := os.CreateTemp(fs.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, fs.maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if n > fs.maxBytes {
		return "", ErrPayloadTooLarge
	}
	if n == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(fs.dir, stored)); err != nil {
		return "", err
	}
	return UploadURLPrefix + stored, nil
}

// Remove deletes a file previously returned by Save.
func (fs *FileStore) Remove(relPath string) error {
	name := strings.TrimPrefix(relPath, UploadURLPrefix)
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("%w: bad stored path", ErrInvalidUpload)
	}
	return os.Remove(filepath.Join(fs.dir, name))
}
