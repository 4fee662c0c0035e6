package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hazyhaar/pageshot/internal/horosafe"
	"github.com/hazyhaar/pageshot/shot"
)

// File writes the latest composite of each page to <dir>/<page_id>.png,
// replacing it atomically, and failures to <dir>/<page_id>.failure.json.
type File struct {
	dir string
}

// NewFile creates a File sink rooted at dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file sink: mkdir: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) Deliver(_ context.Context, c shot.Composite) error {
	path, err := horosafe.ShotPath(f.dir, c.PageID, ".png")
	if err != nil {
		return fmt.Errorf("file sink: %w", err)
	}
	data, err := shot.EncodePNG(&c)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func (f *File) Report(_ context.Context, fl shot.Failure) error {
	path, err := horosafe.ShotPath(f.dir, fl.PageID, ".failure.json")
	if err != nil {
		return fmt.Errorf("file sink: %w", err)
	}
	data, err := json.MarshalIndent(fl, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func (f *File) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pageshot-*")
	if err != nil {
		return fmt.Errorf("file sink: temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("file sink: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file sink: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file sink: rename: %w", err)
	}
	return nil
}
