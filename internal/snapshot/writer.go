// Package snapshot reads and writes the extracted output tree.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Writer reads and writes files relative to an output root. All writes are
// atomic: content lands in a temp file that is renamed into place.
type Writer struct {
	root string
}

// New returns a writer rooted at dir.
func New(dir string) *Writer {
	return &Writer{root: dir}
}

// Root returns the output root.
func (w *Writer) Root() string { return w.root }

// Path returns the absolute location of rel.
func (w *Writer) Path(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// Exists reports whether rel exists.
func (w *Writer) Exists(rel string) bool {
	_, err := os.Stat(w.Path(rel))
	return err == nil
}

// WriteJSON writes v as indented JSON.
func (w *Writer) WriteJSON(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", rel, err)
	}
	data = append(data, '\n')
	_, err = w.write(rel, func(f io.Writer) (int64, error) {
		n, err := f.Write(data)
		return int64(n), err
	})
	return err
}

// ReadJSON decodes rel into v.
func (w *Writer) ReadJSON(rel string, v any) error {
	data, err := os.ReadFile(w.Path(rel))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", rel, err)
	}
	return nil
}

// WriteStream copies r to rel and returns the hex SHA-256 of the content and
// the number of bytes written. Nothing is left at rel when the copy fails.
func (w *Writer) WriteStream(rel string, r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := w.write(rel, func(f io.Writer) (int64, error) {
		return io.Copy(io.MultiWriter(f, h), r)
	})
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// List returns the names of the entries directly under relDir, sorted. A
// missing directory yields an empty list.
func (w *Writer) List(relDir string) ([]string, error) {
	entries, err := os.ReadDir(w.Path(relDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes rel. A missing file is not an error.
func (w *Writer) Remove(rel string) error {
	err := os.Remove(w.Path(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (w *Writer) write(rel string, fill func(io.Writer) (int64, error)) (int64, error) {
	path := w.Path(rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file for %s: %w", rel, err)
	}
	tmpName := tmp.Name()

	n, err := fill(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("writing %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("replacing %s: %w", rel, err)
	}
	return n, nil
}

// SafeFileName replaces characters that are not valid in file names on
// common filesystems with '_'. Names that would resolve to the directory
// itself or its parent ("", ".", "..") become "_".
func SafeFileName(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
	switch strings.TrimSpace(safe) {
	case "", ".", "..":
		return "_"
	}
	return safe
}

// DocumentPath is where a downloaded document of a task is stored.
func DocumentPath(taskID, fileName string) string {
	return "tasks/" + taskID + "/documents/files/" + SafeFileName(fileName)
}
