// Package docstore keeps uploaded documents as plain files in one directory.
package docstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
)

const maxNameBytes = 255

var (
	ErrDocumentExists = errors.New("document already exists")
	ErrInvalidName    = errors.New("invalid document name")
)

// Store is a flat directory of documents named by their original filename.
type Store struct {
	dir     string
	allowed map[string]struct{}
}

// DocumentInfo describes a stored file without reading it.
type DocumentInfo struct {
	Name       string    `json:"filename"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`

	// Set from the metadata table when one is configured.
	SHA256     string     `json:"sha256,omitempty"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
}

// Document is a stored file with its text.
type Document struct {
	Name    string
	Content string
}

// SaveResult reports what was written by Save.
type SaveResult struct {
	Path   string
	Size   int64
	SHA256 string
}

// New creates the directory if needed. allowedExts must be lower-case with a leading dot.
func New(dir string, allowedExts []string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("docstore dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create docstore dir failed: %w", err)
	}
	allowed := make(map[string]struct{}, len(allowedExts))
	for _, ext := range allowedExts {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &Store{dir: dir, allowed: allowed}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Allowed reports whether name carries one of the accepted extensions.
func (s *Store) Allowed(name string) bool {
	_, ok := s.allowed[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ValidateName rejects names that could escape the store directory or hide files.
func ValidateName(name string) error {
	if name == "" || strings.TrimSpace(name) != name {
		return ErrInvalidName
	}
	if len(name) > maxNameBytes {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return ErrInvalidName
	}
	if strings.HasPrefix(name, ".") || filepath.Base(name) != name {
		return ErrInvalidName
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrInvalidName
		}
	}
	return nil
}

// Save writes r to a new file called name. The file is created exclusively, so
// of two concurrent saves with one name exactly one succeeds and the other
// gets ErrDocumentExists.
func (s *Store) Save(name string, r io.Reader) (*SaveResult, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrDocumentExists
		}
		return nil, fmt.Errorf("create document failed: %w", err)
	}

	hasher := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(f, hasher), r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		if copyErr != nil {
			return nil, fmt.Errorf("write document failed: %w", copyErr)
		}
		return nil, fmt.Errorf("close document failed: %w", closeErr)
	}

	return &SaveResult{
		Path:   path,
		Size:   n,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Exists reports whether a document called name is stored.
func (s *Store) Exists(name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.dir, name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat document failed: %w", err)
}

// List returns stored documents with an allowed extension, sorted by name.
func (s *Store) List() ([]DocumentInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read docstore dir failed: %w", err)
	}

	docs := make([]DocumentInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !s.Allowed(entry.Name()) || ValidateName(entry.Name()) != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		docs = append(docs, DocumentInfo{
			Name:       entry.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// LoadAll reads every listed document. Empty files are skipped.
func (s *Store) LoadAll() ([]Document, error) {
	infos, err := s.List()
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(infos))
	for _, info := range infos {
		raw, err := os.ReadFile(filepath.Join(s.dir, info.Name))
		if err != nil {
			return nil, fmt.Errorf("read document %s failed: %w", info.Name, err)
		}
		content := strings.TrimSpace(string(raw))
		if content == "" {
			continue
		}
		docs = append(docs, Document{Name: info.Name, Content: content})
	}
	return docs, nil
}

// Check verifies the directory is still there and is a directory.
func (s *Store) Check() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("stat docstore dir failed: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("docstore path %s is not a directory", s.dir)
	}
	return nil
}
