// Package blob keeps uploaded audio assets on disk under opaque UUID names,
// with their metadata in sqlite.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ewradio/internal/store"
)

const (
	defaultKind        = "asset"
	defaultContentType = "application/octet-stream"
)

// ErrTooLarge is returned by Put when the upload exceeds the store's limit.
var ErrTooLarge = errors.New("blob exceeds size limit")

// Store coordinates blob bytes on disk with metadata in sqlite.
type Store struct {
	rootDir  string
	meta     *store.Store
	maxBytes int64
}

// PutInput contains the data required to write one blob.
type PutInput struct {
	Kind         string
	OriginalName string
	ContentType  string
	Reader       io.Reader
}

// OpenResult is a blob metadata + opened file stream tuple.
type OpenResult struct {
	Metadata store.BlobMetadata
	File     *os.File
}

// NewStore creates a blob store rooted at rootDir. maxBytes <= 0 means no
// limit.
func NewStore(rootDir string, meta *store.Store, maxBytes int64) (*Store, error) {
	rootDir = strings.TrimSpace(rootDir)
	if rootDir == "" {
		return nil, fmt.Errorf("blob root directory is required")
	}
	if meta == nil {
		return nil, fmt.Errorf("sqlite metadata store is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	slog.Debug("blob store initialized", "dir", rootDir, "max_bytes", maxBytes)
	return &Store{rootDir: rootDir, meta: meta, maxBytes: maxBytes}, nil
}

// Put writes bytes to disk as an opaque UUID-named blob and stores metadata
// in sqlite. A missing content type is sniffed from the first bytes.
func (s *Store) Put(ctx context.Context, input PutInput) (store.BlobMetadata, error) {
	if input.Reader == nil {
		return store.BlobMetadata{}, fmt.Errorf("blob reader is required")
	}
	kind := strings.TrimSpace(input.Kind)
	if kind == "" {
		kind = defaultKind
	}
	originalName := strings.TrimSpace(input.OriginalName)
	if originalName == "" {
		return store.BlobMetadata{}, fmt.Errorf("blob original name is required")
	}

	id := uuid.NewString()

	tempFile, err := os.CreateTemp(s.rootDir, ".blob-write-*")
	if err != nil {
		return store.BlobMetadata{}, fmt.Errorf("create temp blob file: %w", err)
	}
	tempPath := tempFile.Name()

	src := input.Reader
	if s.maxBytes > 0 {
		src = io.LimitReader(src, s.maxBytes+1)
	}
	sniff := &sniffWriter{}
	size, copyErr := io.Copy(io.MultiWriter(tempFile, sniff), src)
	closeErr := tempFile.Close()
	if copyErr == nil && s.maxBytes > 0 && size > s.maxBytes {
		copyErr = ErrTooLarge
	}
	if copyErr != nil {
		_ = os.Remove(tempPath)
		return store.BlobMetadata{}, fmt.Errorf("write blob bytes: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return store.BlobMetadata{}, fmt.Errorf("close blob file: %w", closeErr)
	}

	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" || contentType == defaultContentType {
		contentType = http.DetectContentType(sniff.buf)
	}

	finalPath := filepath.Join(s.rootDir, id)
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return store.BlobMetadata{}, fmt.Errorf("move blob into place: %w", err)
	}

	meta := store.BlobMetadata{
		ID:           id,
		Kind:         kind,
		OriginalName: originalName,
		ContentType:  contentType,
		DiskName:     id,
		SizeBytes:    size,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.meta.CreateBlob(ctx, meta); err != nil {
		_ = os.Remove(finalPath)
		return store.BlobMetadata{}, fmt.Errorf("persist blob metadata: %w", err)
	}

	slog.Info("blob stored", "blob_id", id, "name", originalName, "size", size, "content_type", contentType)
	return meta, nil
}

// Open resolves blob metadata in sqlite and opens its corresponding on-disk blob.
func (s *Store) Open(ctx context.Context, id string) (OpenResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return OpenResult{}, store.ErrBlobNotFound
	}
	meta, err := s.meta.BlobByID(ctx, id)
	if err != nil {
		return OpenResult{}, err
	}

	path := filepath.Join(s.rootDir, meta.DiskName)
	f, err := os.Open(path)
	if err != nil {
		slog.Error("blob file open failed", "blob_id", id, "path", path, "err", err)
		return OpenResult{}, fmt.Errorf("open blob file: %w", err)
	}

	slog.Debug("blob opened", "blob_id", id, "size", meta.SizeBytes)
	return OpenResult{Metadata: meta, File: f}, nil
}

// OpenBlob opens the bytes of one blob. It lets the asset cache load
// "blob:<id>" paths.
func (s *Store) OpenBlob(ctx context.Context, id string) (io.ReadCloser, error) {
	res, err := s.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	return res.File, nil
}

// sniffWriter keeps the first 512 bytes written to it.
type sniffWriter struct {
	buf []byte
}

func (w *sniffWriter) Write(p []byte) (int, error) {
	if room := 512 - len(w.buf); room > 0 {
		w.buf = append(w.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}
