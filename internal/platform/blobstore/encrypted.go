package blobstore

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// EncryptionOverhead is the ciphertext growth per blob: a GCM nonce and tag.
const EncryptionOverhead = 12 + 16

const (
	tagPlainSize = "plain_size"
	tagPlainHash = "plain_sha256"
)

// EncryptedBlobStore seals content with AES-256-GCM before handing it to the
// wrapped store. Callers see plaintext sizes and hashes.
type EncryptedBlobStore struct {
	inner   BlobStore
	aead    cipher.AEAD
	maxSize int64
}

// NewEncryptedBlobStore wraps inner with a 32-byte key. maxSize limits the
// plaintext; inner must accept maxSize+EncryptionOverhead.
func NewEncryptedBlobStore(inner BlobStore, key []byte, maxSize int64) (*EncryptedBlobStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("blob encryption: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("blob encryption: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("blob encryption: create GCM: %w", err)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &EncryptedBlobStore{inner: inner, aead: aead, maxSize: maxSize}, nil
}

// ParseKey accepts a 32-byte key as 64 hex characters or standard base64.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == 64 {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("blob encryption key is neither hex nor base64")
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("blob encryption key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (s *EncryptedBlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	plain, err := io.ReadAll(io.LimitReader(content, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(plain)) > s.maxSize {
		return nil, ErrFileTooLarge
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("blob encryption: generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plain, nil)

	tags := make(map[string]string, len(meta.Tags)+2)
	for k, v := range meta.Tags {
		tags[k] = v
	}
	tags[tagPlainSize] = strconv.Itoa(len(plain))
	tags[tagPlainHash] = fmt.Sprintf("%x", sha256.Sum256(plain))
	meta.Tags = tags

	stored, err := s.inner.Upload(ctx, meta, bytes.NewReader(sealed))
	if err != nil {
		return nil, err
	}
	return plainMeta(stored), nil
}

func (s *EncryptedBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	rc, meta, err := s.inner.Download(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	sealed, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("reading blob: %w", err)
	}
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, nil, fmt.Errorf("blob encryption: ciphertext too short")
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("blob encryption: decrypt: %w", err)
	}
	return io.NopCloser(bytes.NewReader(plain)), plainMeta(meta), nil
}

func (s *EncryptedBlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	meta, err := s.inner.GetMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	return plainMeta(meta), nil
}

func (s *EncryptedBlobStore) Delete(ctx context.Context, id string) error {
	return s.inner.Delete(ctx, id)
}

// plainMeta reports the plaintext size and hash and hides the bookkeeping
// tags.
func plainMeta(m *BlobMetadata) *BlobMetadata {
	out := *m
	tags := make(map[string]string, len(m.Tags))
	for k, v := range m.Tags {
		tags[k] = v
	}
	if v, ok := tags[tagPlainSize]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.Size = n
		}
		delete(tags, tagPlainSize)
	}
	if v, ok := tags[tagPlainHash]; ok {
		out.Hash = v
		delete(tags, tagPlainHash)
	}
	out.Tags = tags
	return &out
}
