package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grantrag/internal/docstore"
	"grantrag/internal/metrics"
	"grantrag/internal/model"
)

const recordTimeout = 3 * time.Second

// DocumentRecorder receives an event for every stored upload.
type DocumentRecorder interface {
	Record(ctx context.Context, event model.DocumentEvent) error
}

// DocumentUpserter is the subset of the document repository used for direct recording.
type DocumentUpserter interface {
	Upsert(doc *model.Document) error
}

// RepositoryRecorder writes events straight to the metadata table.
type RepositoryRecorder struct {
	repo DocumentUpserter
}

func NewRepositoryRecorder(repo DocumentUpserter) *RepositoryRecorder {
	return &RepositoryRecorder{repo: repo}
}

func (r *RepositoryRecorder) Record(_ context.Context, event model.DocumentEvent) error {
	return r.repo.Upsert(event.ToDocument())
}

// DocumentCatalog lists recorded document metadata.
type DocumentCatalog interface {
	List() ([]model.Document, error)
}

type UploadInput struct {
	// Filename is the name exactly as sent by the client.
	Filename string
	// Content is nil when the request carried no file part.
	Content io.Reader
}

type UploadResult struct {
	Filename string
	Size     int64
	SHA256   string
}

type UploadService struct {
	store    *docstore.Store
	index    *IndexManager
	recorder DocumentRecorder
	catalog  DocumentCatalog
	maxBytes int64
	metrics  *metrics.Recorder
	logger   *zap.Logger
}

func NewUploadService(
	store *docstore.Store,
	index *IndexManager,
	recorder DocumentRecorder,
	maxBytes int64,
	recorderMetrics *metrics.Recorder,
	logger *zap.Logger,
) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadService{
		store:    store,
		index:    index,
		recorder: recorder,
		maxBytes: maxBytes,
		metrics:  recorderMetrics,
		logger:   logger,
	}
}

// WithCatalog makes List merge recorded metadata into the store listing.
func (s *UploadService) WithCatalog(catalog DocumentCatalog) *UploadService {
	s.catalog = catalog
	return s
}

// MaxBytes is the largest accepted document.
func (s *UploadService) MaxBytes() int64 {
	return s.maxBytes
}

// Upload validates and stores one document, then marks the index stale.
func (s *UploadService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	result, err := s.upload(ctx, input)
	switch {
	case err == nil:
		s.metrics.Upload(metrics.ResultOK)
	case errors.Is(err, ErrFileExists):
		s.metrics.Upload(metrics.ResultConflict)
	case isValidation(err):
		s.metrics.Upload(metrics.ResultInvalid)
	default:
		s.metrics.Upload(metrics.ResultError)
	}
	return result, err
}

func (s *UploadService) upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	if input.Content == nil {
		return nil, invalid(ErrNoFilePart, "No file part in the request")
	}
	name := input.Filename
	if name == "" {
		return nil, invalid(ErrNoFileSelected, "No file selected")
	}
	if err := docstore.ValidateName(name); err != nil {
		return nil, invalid(ErrInvalidFilename, "Invalid filename")
	}
	if !s.store.Allowed(name) {
		return nil, invalid(ErrFileTypeNotAllowed, "File type not allowed")
	}

	// One byte past the limit is enough to know the file is too large.
	content, err := io.ReadAll(io.LimitReader(input.Content, s.maxBytes+1))
	if err != nil {
		if IsBodyTooLarge(err) {
			return nil, s.TooLarge()
		}
		return nil, err
	}
	if int64(len(content)) > s.maxBytes {
		return nil, s.TooLarge()
	}

	exists, err := s.store.Exists(name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrFileExists
	}

	// Save is still exclusive, so a concurrent upload of the same name loses there.
	saved, err := s.store.Save(name, bytes.NewReader(content))
	if err != nil {
		if errors.Is(err, docstore.ErrDocumentExists) {
			return nil, ErrFileExists
		}
		if errors.Is(err, docstore.ErrInvalidName) {
			return nil, invalid(ErrInvalidFilename, "Invalid filename")
		}
		return nil, err
	}

	s.index.Invalidate()
	s.logger.Info("document uploaded",
		zap.String("filename", name),
		zap.Int64("size", saved.Size),
	)

	s.record(ctx, model.DocumentEvent{
		EventID:    uuid.NewString(),
		Filename:   name,
		Extension:  strings.ToLower(filepath.Ext(name)),
		Size:       saved.Size,
		SHA256:     saved.SHA256,
		UploadedAt: time.Now().UTC(),
	})

	return &UploadResult{Filename: name, Size: saved.Size, SHA256: saved.SHA256}, nil
}

func (s *UploadService) record(ctx context.Context, event model.DocumentEvent) {
	if s.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.recorder.Record(recordCtx, event); err != nil {
		s.logger.Warn("record document event failed",
			zap.String("filename", event.Filename),
			zap.Error(err),
		)
	}
}

// List returns the stored documents sorted by name.
// Files missing from the metadata table are listed without a hash.
func (s *UploadService) List() ([]docstore.DocumentInfo, error) {
	docs, err := s.store.List()
	if err != nil || s.catalog == nil || len(docs) == 0 {
		return docs, err
	}

	rows, err := s.catalog.List()
	if err != nil {
		s.logger.Warn("list document metadata failed", zap.Error(err))
		return docs, nil
	}
	byName := make(map[string]model.Document, len(rows))
	for _, row := range rows {
		byName[row.Filename] = row
	}
	for i := range docs {
		row, ok := byName[docs[i].Name]
		if !ok {
			continue
		}
		uploadedAt := row.UploadedAt
		docs[i].SHA256 = row.SHA256
		docs[i].UploadedAt = &uploadedAt
	}
	return docs, nil
}

// TooLarge is the client error for a document over the size limit.
func (s *UploadService) TooLarge() error {
	return invalid(ErrFileTooLarge, "File size exceeds %s limit", sizeLabel(s.maxBytes))
}

func isValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsBodyTooLarge reports whether err came from an http.MaxBytesReader limit.
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
