package collect

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrNoSnapshot means nothing has been saved under the key yet.
var ErrNoSnapshot = errors.New("no snapshot")

var slugUnsafe = regexp.MustCompile(`[^a-z0-9_]+`)

// Slug normalizes a feed name for use in file names.
func Slug(name string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// SnapshotStore keeps the last raw payload per key on disk so a source can
// fall back to stale data when its live fetch fails.
type SnapshotStore struct {
	dir string
	now func() time.Time
}

// NewSnapshotStore creates a store rooted at dir. The directory is created on
// first save.
func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir, now: time.Now}
}

// Path is the file backing key.
func (s *SnapshotStore) Path(key string) string {
	return filepath.Join(s.dir, Slug(key)+"_snapshot.html")
}

// Save writes payload under key, prefixed with a provenance comment line.
// The file is replaced atomically.
func (s *SnapshotStore) Save(key, feed string, payload []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	header := fmt.Sprintf("<!-- downloaded %s feed=%s -->\n", s.now().UTC().Format(time.RFC3339), feed)
	if _, err := tmp.WriteString(header); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(key)); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Load returns the payload saved under key without its header line.
func (s *SnapshotStore) Load(key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	if bytes.HasPrefix(data, []byte("<!-- downloaded ")) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNoSnapshot
	}
	return data, nil
}
