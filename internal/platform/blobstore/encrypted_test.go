package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

func newEncrypted(t *testing.T, maxSize int64) (*EncryptedBlobStore, *InMemoryBlobStore) {
	t.Helper()
	inner := NewInMemoryBlobStore(maxSize + EncryptionOverhead)
	s, err := NewEncryptedBlobStore(inner, testKey, maxSize)
	if err != nil {
		t.Fatal(err)
	}
	return s, inner
}

func TestEncryptedBlobStore_RoundTrip(t *testing.T) {
	s, inner := newEncrypted(t, 1024)
	ctx := context.Background()
	content := "NIfTI voxel data"

	meta, err := s.Upload(ctx, BlobMetadata{FileName: "scan.nii", Category: CategoryMRI, Tags: map[string]string{"k": "v"}}, strings.NewReader(content))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("expected plaintext size %d, got %d", len(content), meta.Size)
	}
	if want := fmt.Sprintf("%x", sha256.Sum256([]byte(content))); meta.Hash != want {
		t.Errorf("expected plaintext hash, got %s", meta.Hash)
	}
	if len(meta.Tags) != 1 || meta.Tags["k"] != "v" {
		t.Errorf("expected bookkeeping tags hidden, got %v", meta.Tags)
	}

	// At rest the content is sealed.
	rc, raw, err := inner.Download(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	sealed, _ := io.ReadAll(rc)
	if bytes.Contains(sealed, []byte(content)) {
		t.Error("expected ciphertext at rest")
	}
	if raw.Size != int64(len(content)+EncryptionOverhead) {
		t.Errorf("expected sealed size %d, got %d", len(content)+EncryptionOverhead, raw.Size)
	}

	rc, got, err := s.Download(ctx, meta.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	plain, _ := io.ReadAll(rc)
	if string(plain) != content {
		t.Errorf("expected %q, got %q", content, plain)
	}
	if got.Size != meta.Size {
		t.Errorf("expected size %d on download, got %d", meta.Size, got.Size)
	}

	md, err := s.GetMetadata(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if md.Hash != meta.Hash {
		t.Error("expected metadata to report plaintext hash")
	}

	if err := s.Delete(ctx, meta.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Download(ctx, meta.ID); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
}

func TestEncryptedBlobStore_SizeLimitAppliesToPlaintext(t *testing.T) {
	s, _ := newEncrypted(t, 10)
	ctx := context.Background()

	if _, err := s.Upload(ctx, BlobMetadata{FileName: "a.nii"}, strings.NewReader("0123456789")); err != nil {
		t.Errorf("expected exactly max size to fit, got %v", err)
	}
	if _, err := s.Upload(ctx, BlobMetadata{FileName: "a.nii"}, strings.NewReader("0123456789X")); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestEncryptedBlobStore_InnerValidationStillApplies(t *testing.T) {
	s, _ := newEncrypted(t, 1024)
	_, err := s.Upload(context.Background(), BlobMetadata{FileName: "a.exe", ContentType: "application/x-msdownload"}, strings.NewReader("x"))
	if !errors.Is(err, ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}
}

func TestEncryptedBlobStore_WrongKey(t *testing.T) {
	s, inner := newEncrypted(t, 1024)
	meta, err := s.Upload(context.Background(), BlobMetadata{FileName: "a.nii"}, strings.NewReader("secret"))
	if err != nil {
		t.Fatal(err)
	}

	other, err := NewEncryptedBlobStore(inner, bytes.Repeat([]byte{0x01}, 32), 1024)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := other.Download(context.Background(), meta.ID); err == nil {
		t.Error("expected decrypt failure with the wrong key")
	}
}

func TestNewEncryptedBlobStore_KeyLength(t *testing.T) {
	if _, err := NewEncryptedBlobStore(NewInMemoryBlobStore(0), []byte("short"), 0); err == nil {
		t.Error("expected error for short key")
	}
}

func TestParseKey(t *testing.T) {
	if k, err := ParseKey(hex.EncodeToString(testKey)); err != nil || !bytes.Equal(k, testKey) {
		t.Errorf("hex key: got %x, %v", k, err)
	}
	if k, err := ParseKey(base64.StdEncoding.EncodeToString(testKey)); err != nil || !bytes.Equal(k, testKey) {
		t.Errorf("base64 key: got %x, %v", k, err)
	}
	if _, err := ParseKey(base64.StdEncoding.EncodeToString([]byte("too short"))); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := ParseKey("not a key!"); err == nil {
		t.Error("expected error for garbage")
	}
}
