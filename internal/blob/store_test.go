package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"ewradio/internal/store"
)

func newTestBlobStore(t *testing.T, maxBytes int64) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	meta, err := store.Open(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("open metadata store: %v", err)
	}
	t.Cleanup(func() { _ = meta.Close() })

	root := filepath.Join(dir, "blobs")
	bs, err := NewStore(root, meta, maxBytes)
	if err != nil {
		t.Fatalf("new blob store: %v", err)
	}
	return bs, root
}

func TestPutAndOpen(t *testing.T) {
	t.Parallel()
	bs, root := newTestBlobStore(t, 0)

	payload := []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
	meta, err := bs.Put(context.Background(), PutInput{
		OriginalName: "numbers.wav",
		ContentType:  "audio/wav",
		Reader:       bytes.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := uuid.Parse(meta.ID); err != nil {
		t.Fatalf("blob id is not a uuid: %q", meta.ID)
	}
	if meta.Kind != "asset" || meta.SizeBytes != int64(len(payload)) || meta.DiskName != meta.ID {
		t.Fatalf("unexpected metadata: %#v", meta)
	}
	if _, err := os.Stat(filepath.Join(root, meta.ID)); err != nil {
		t.Fatalf("blob file missing: %v", err)
	}

	rc, err := bs.OpenBlob(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("open blob: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("blob bytes mismatch: %q", got)
	}
}

func TestPutSniffsContentType(t *testing.T) {
	t.Parallel()
	bs, _ := newTestBlobStore(t, 0)

	meta, err := bs.Put(context.Background(), PutInput{
		OriginalName: "clip.bin",
		Reader:       strings.NewReader("OggS\x00\x02" + strings.Repeat("\x00", 40)),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if meta.ContentType != "application/ogg" {
		t.Fatalf("expected sniffed application/ogg, got %q", meta.ContentType)
	}
}

func TestPutRejectsOversizeAndCleansUp(t *testing.T) {
	t.Parallel()
	bs, root := newTestBlobStore(t, 8)

	_, err := bs.Put(context.Background(), PutInput{
		OriginalName: "big.wav",
		Reader:       strings.NewReader(strings.Repeat("x", 64)),
	})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read blob dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files left behind, got %d", len(entries))
	}
}

func TestOpenUnknownBlob(t *testing.T) {
	t.Parallel()
	bs, _ := newTestBlobStore(t, 0)

	if _, err := bs.OpenBlob(context.Background(), "../../etc/passwd"); !errors.Is(err, store.ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound for malformed id, got %v", err)
	}
	if _, err := bs.OpenBlob(context.Background(), uuid.NewString()); !errors.Is(err, store.ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound for unknown id, got %v", err)
	}
	if _, err := bs.Put(context.Background(), PutInput{Reader: strings.NewReader("x")}); err == nil {
		t.Fatal("expected error for missing original name")
	}
}
