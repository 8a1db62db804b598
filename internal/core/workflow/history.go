package workflow

import (
	"errors"
	"fmt"
	"os"

	"github.com/colonyops/tether/pkg/atomicfile"
)

// ErrPersistence wraps failures writing the history document.
var ErrPersistence = errors.New("history persistence failed")

const historyVersion = 1

// historyDocument is the on-disk shape of the committed history. The whole
// document is rewritten atomically on every commit; a crash mid-write
// leaves the previous document intact.
type historyDocument struct {
	Version  int        `json:"version"`
	Tasks    []*Task    `json:"tasks"`
	Sessions []*Session `json:"sessions"`
}

// HistoryStore persists closed tasks and sessions as a single JSON
// document written via temp-file-then-rename.
type HistoryStore struct {
	path string
}

// NewHistoryStore creates a store at path. Nothing is read or written
// until Load/Save.
func NewHistoryStore(path string) *HistoryStore {
	return &HistoryStore{path: path}
}

// Load reads the committed document. A missing file yields an empty
// document; a corrupt one is an error so callers never silently discard
// history.
func (s *HistoryStore) Load() (historyDocument, error) {
	doc := historyDocument{Version: historyVersion}

	err := atomicfile.ReadJSON(s.path, &doc)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if doc.Version != historyVersion {
		return doc, fmt.Errorf("%w: unsupported history version %d", ErrPersistence, doc.Version)
	}
	return doc, nil
}

// Save commits the document atomically.
func (s *HistoryStore) Save(doc historyDocument) error {
	doc.Version = historyVersion
	if err := atomicfile.WriteJSON(s.path, doc); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
