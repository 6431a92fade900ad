// Package storage provides the binary object store used for message
// attachments, addressed by (bucket, path).
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Store abstracts object storage operations.
type Store interface {
	// Put writes data under (bucket, path) and returns the byte count.
	Put(ctx context.Context, bucket, path string, reader io.Reader) (int64, error)
	// Open returns a reader for (bucket, path).
	Open(ctx context.Context, bucket, path string) (io.ReadCloser, error)
	// Delete removes the object at (bucket, path).
	Delete(ctx context.Context, bucket, path string) error
	// SignedURL returns a time-limited URL for fetching the object.
	SignedURL(bucket, path string, ttl time.Duration) (string, error)
}

// FileStore is a filesystem-backed Store. Objects live under
// root/bucket/path; signed URLs carry an HMAC over (bucket, path, expiry).
type FileStore struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir, baseURL string, secret []byte) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileStore{
		root:    dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		now:     time.Now,
	}, nil
}

func (s *FileStore) objectPath(bucket, path string) (string, error) {
	clean := filepath.Join(s.root, bucket, filepath.FromSlash(path))
	// Reject traversal outside the root.
	if !strings.HasPrefix(clean, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object path %q", path)
	}
	return clean, nil
}

// Put writes data under (bucket, path)
func (s *FileStore) Put(ctx context.Context, bucket, path string, reader io.Reader) (int64, error) {
	target, err := s.objectPath(bucket, path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("failed to create object directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("failed to create object: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, reader)
	if err != nil {
		os.Remove(target)
		return 0, fmt.Errorf("failed to write object: %w", err)
	}
	return n, nil
}

// Open returns a reader for (bucket, path)
func (s *FileStore) Open(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	target, err := s.objectPath(bucket, path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// Delete removes the object at (bucket, path)
func (s *FileStore) Delete(ctx context.Context, bucket, path string) error {
	target, err := s.objectPath(bucket, path)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// SignedURL returns a URL valid until now+ttl
func (s *FileStore) SignedURL(bucket, path string, ttl time.Duration) (string, error) {
	expires := s.now().Add(ttl).Unix()
	sig := s.sign(bucket, path, expires)

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", sig)
	return fmt.Sprintf("%s/%s/%s?%s", s.baseURL, url.PathEscape(bucket), path, q.Encode()), nil
}

// VerifySignature checks a signed URL's signature and expiry
func (s *FileStore) VerifySignature(bucket, path, sig string, expires int64) bool {
	if s.now().Unix() > expires {
		return false
	}
	expected := s.sign(bucket, path, expires)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (s *FileStore) sign(bucket, path string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s/%s:%d", bucket, path, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
