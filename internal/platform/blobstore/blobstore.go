// Package blobstore holds chat attachments. The real deployment fronts a
// managed object store; this package defines the interface the messaging
// layer consumes plus an in-memory implementation used for development and
// tests. Downloads go through short-lived signed URLs so message payloads
// never embed raw object paths.
package blobstore

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingPath        = errors.New("object path is required")
	ErrSignatureExpired   = errors.New("signed url has expired")
)

// MaxFileSize is the maximum allowed attachment size in bytes (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// AllowedContentTypes lists attachment MIME types the portal accepts.
var AllowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"application/pdf": true,
	"text/plain":      true,
	"audio/mpeg":      true,
	"video/mp4":       true,
}

// ObjectRef identifies a stored attachment.
type ObjectRef struct {
	Bucket      string    `json:"bucket"`
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the attachment storage interface consumed by the messaging layer.
type Store interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (*ObjectRef, error)
	SignedURL(ctx context.Context, ref *ObjectRef, ttl time.Duration) (string, error)
	Get(ctx context.Context, path string) ([]byte, *ObjectRef, error)
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedObject struct {
	ref  *ObjectRef
	data []byte
}

// InMemoryStore is a thread-safe in-memory Store.
type InMemoryStore struct {
	bucket  string
	signKey []byte
	mu      sync.RWMutex
	objects map[string]*storedObject
}

func NewInMemoryStore(bucket string) *InMemoryStore {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic("blobstore: reading signing key entropy: " + err.Error())
	}
	return &InMemoryStore{
		bucket:  bucket,
		signKey: key,
		objects: make(map[string]*storedObject),
	}
}

func (s *InMemoryStore) Upload(_ context.Context, path string, data []byte, contentType string) (*ObjectRef, error) {
	if path == "" {
		return nil, ErrMissingPath
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	if !AllowedContentTypes[contentType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}

	sum := sha256.Sum256(data)
	ref := &ObjectRef{
		Bucket:      s.bucket,
		Path:        path,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hex.EncodeToString(sum[:]),
		CreatedAt:   time.Now().UTC(),
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.objects[path] = &storedObject{ref: ref, data: stored}
	s.mu.Unlock()

	return ref, nil
}

// SignedURL returns a URL carrying an HMAC over path and expiry. The expiry
// is embedded so VerifySignedURL needs no lookup state.
func (s *InMemoryStore) SignedURL(_ context.Context, ref *ObjectRef, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[ref.Path]
	s.mu.RUnlock()
	if !ok {
		return "", ErrObjectNotFound
	}

	expires := time.Now().Add(ttl).Unix()
	sig := s.sign(ref.Path, expires)
	return fmt.Sprintf("/blobs/%s/%s?expires=%d&signature=%s", ref.Bucket, ref.Path, expires, sig), nil
}

// VerifySignedURL checks the signature and expiry extracted from a URL.
func (s *InMemoryStore) VerifySignedURL(path string, expires int64, signature string) error {
	if time.Now().Unix() > expires {
		return ErrSignatureExpired
	}
	expected := s.sign(path, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("invalid signature")
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, path string) ([]byte, *ObjectRef, error) {
	s.mu.RLock()
	obj, ok := s.objects[path]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrObjectNotFound
	}
	return obj.data, obj.ref, nil
}

func (s *InMemoryStore) sign(path string, expires int64) string {
	mac := hmac.New(sha256.New, s.signKey)
	mac.Write([]byte(path))
	mac.Write([]byte(":"))
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseSignedURL splits a signed URL produced by SignedURL back into its
// parts. Used by the download handler and by tests.
func ParseSignedURL(raw string) (path string, expires int64, signature string, err error) {
	qIdx := strings.Index(raw, "?")
	if qIdx < 0 {
		return "", 0, "", errors.New("missing query string")
	}
	base, query := raw[:qIdx], raw[qIdx+1:]

	parts := strings.SplitN(strings.TrimPrefix(base, "/blobs/"), "/", 2)
	if len(parts) != 2 {
		return "", 0, "", errors.New("malformed blob path")
	}
	path = parts[1]

	for _, kv := range strings.Split(query, "&") {
		k, v, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		switch k {
		case "expires":
			expires, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return "", 0, "", fmt.Errorf("bad expires: %w", err)
			}
		case "signature":
			signature = v
		}
	}
	if signature == "" {
		return "", 0, "", errors.New("missing signature")
	}
	return path, expires, signature, nil
}
