package snapshot

import (
	"errors"
	"io/fs"
	"sort"
)

// ManifestFile lists the downloaded documents, relative to the output root.
const ManifestFile = "documents/manifest.json"

// ManifestEntry describes one downloaded document file.
type ManifestEntry struct {
	TaskID    string `json:"taskId"`
	DocID     string `json:"docId"`
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	Bytes     int64  `json:"bytes"`
	ObjectKey string `json:"objectKey,omitempty"`
}

// ReadManifest returns the manifest entries. A missing manifest is empty.
func (w *Writer) ReadManifest() ([]ManifestEntry, error) {
	var entries []ManifestEntry
	if err := w.ReadJSON(ManifestFile, &entries); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

// WriteManifest writes the entries ordered by task then document id.
func (w *Writer) WriteManifest(m map[string]ManifestEntry) error {
	return w.WriteJSON(ManifestFile, SortedManifest(m))
}

// SortedManifest returns manifest entries ordered by task then document id.
func SortedManifest(m map[string]ManifestEntry) []ManifestEntry {
	entries := make([]ManifestEntry, 0, len(m))
	for _, entry := range m {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TaskID != entries[j].TaskID {
			return entries[i].TaskID < entries[j].TaskID
		}
		return entries[i].DocID < entries[j].DocID
	})
	return entries
}
