package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/example/court-scheduler/internal/internaltypes"
)

// FileStore keeps the session in a single file, replaced atomically on every
// save so a crash mid-write leaves the previous session intact.
type FileStore struct {
	Path  string
	Codec Codec

	// rename is swapped in tests to simulate a crash before the replace.
	rename func(oldpath, newpath string) error
}

func NewFileStore(path string, codec Codec) *FileStore {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &FileStore{Path: path, Codec: codec, rename: os.Rename}
}

func (f *FileStore) Load(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, fmt.Errorf("session file %s: %w", f.Path, internaltypes.ErrNotFound)
	}
	if err != nil {
		return Session{}, persistence("read session", err)
	}
	return f.Codec.Decode(b)
}

func (f *FileStore) Save(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := f.Codec.Encode(s)
	if err != nil {
		return persistence("encode session", err)
	}
	rename := f.rename
	if rename == nil {
		rename = os.Rename
	}
	if err := writeAtomic(f.Path, b, rename); err != nil {
		return persistence("write session", err)
	}
	return nil
}

func (f *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return persistence("remove session", err)
	}
	return nil
}

// writeAtomic writes data to a temp file next to path, syncs it, renames it
// over path and syncs the directory.
func writeAtomic(path string, data []byte, rename func(string, string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := rename(tmpName, path); err != nil {
		return err
	}
	committed = true

	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}

var _ Store = (*FileStore)(nil)
