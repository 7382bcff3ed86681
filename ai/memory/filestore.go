package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// document is the on-disk shape of semantic_memory.json.
type document struct {
	Facts     []*Fact   `json:"facts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fileStore owns the single JSON document. Callers hold the service lock;
// the store itself only guarantees that each save is atomic on disk.
type fileStore struct {
	path string
}

func newFileStore(path string) *fileStore {
	return &fileStore{path: path}
}

// load reads the document, returning an empty fact list when the file does
// not exist yet.
func (fs *fileStore) load() ([]*Fact, time.Time, error) {
	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, time.Time{}, err
	}
	return doc.Facts, doc.UpdatedAt, nil
}

// save rewrites the document atomically: write to a temp file in the same
// directory, then rename over the target.
func (fs *fileStore) save(facts []*Fact, updatedAt time.Time) error {
	doc := document{Facts: facts, UpdatedAt: updatedAt}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, ".semantic_memory-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, fs.path)
}

// size returns the document's current byte size, 0 when absent.
func (fs *fileStore) size() int64 {
	info, err := os.Stat(fs.path)
	if err != nil {
		return 0
	}
	return info.Size()
}
