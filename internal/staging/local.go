package staging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sheetsync/internal/model"
)

// Local stages files under a directory. It backs the embedded warehouses,
// which read staged files straight from disk.
type Local struct {
	dir    string
	prefix string
	now    func() time.Time
}

// NewLocal creates a Local stager rooted at dir.
func NewLocal(dir, prefix string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "staging: resolve dir %s", dir)
	}
	return &Local{dir: abs, prefix: prefix, now: time.Now}, nil
}

// Path returns the filesystem path of obj.
func (l *Local) Path(obj Object) string {
	return filepath.Join(l.dir, filepath.FromSlash(obj.Name))
}

// Stage implements Stager. The file is written under a temporary name and
// renamed into place once complete.
func (l *Local) Stage(_ context.Context, table string, ds model.Dataset) (Object, error) {
	obj := Object{Name: ObjectName(l.prefix, table, l.now(), uuid.New()), Rows: ds.Len()}
	path := l.Path(obj)
	obj.URI = path

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Object{}, eris.Wrapf(err, "staging: create dir for %s", obj.Name)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".staging-*")
	if err != nil {
		return Object{}, eris.Wrap(err, "staging: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := Encode(tmp, ds)
	if err != nil {
		_ = tmp.Close()
		return Object{}, err
	}
	if err := tmp.Close(); err != nil {
		return Object{}, eris.Wrap(err, "staging: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Object{}, eris.Wrapf(err, "staging: move %s into place", obj.Name)
	}

	obj.Bytes = n
	return obj, nil
}

// Open implements Stager.
func (l *Local) Open(_ context.Context, obj Object) (io.ReadCloser, error) {
	f, err := os.Open(l.Path(obj))
	if err != nil {
		return nil, eris.Wrapf(err, "staging: open %s", obj.Name)
	}
	return f, nil
}
