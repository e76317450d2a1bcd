package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultImageURLTTL = 24 * time.Hour
	maxV4Expiry        = 7 * 24 * time.Hour
)

var errNoSigner = errors.New("storage: signer is required")

// ImageURLSigner turns product image references into short-lived V4 signed download URLs.
// Absolute http(s) URLs are returned untouched.
type ImageURLSigner struct {
	signer Signer
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

// ImageURLOption customises an ImageURLSigner.
type ImageURLOption func(*ImageURLSigner)

// WithTTL sets the URL lifetime, capped at the V4 maximum of seven days.
func WithTTL(ttl time.Duration) ImageURLOption {
	return func(s *ImageURLSigner) {
		if ttl > 0 {
			s.ttl = min(ttl, maxV4Expiry)
		}
	}
}

// WithClock injects the signing clock.
func WithClock(clock func() time.Time) ImageURLOption {
	return func(s *ImageURLSigner) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewImageURLSigner signs bucket-relative paths against bucket and gs:// references against
// the bucket they name.
func NewImageURLSigner(signer Signer, bucket string, opts ...ImageURLOption) (*ImageURLSigner, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	s := &ImageURLSigner{
		signer: signer,
		bucket: strings.TrimSpace(bucket),
		ttl:    defaultImageURLTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SignImageURL resolves ref to a URL a mail client can fetch.
func (s *ImageURLSigner) SignImageURL(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		return ref, nil
	}

	bucket, object := s.bucket, strings.TrimPrefix(ref, "/")
	if rest, ok := strings.CutPrefix(ref, "gs://"); ok {
		var found bool
		bucket, object, found = strings.Cut(rest, "/")
		if !found {
			return "", fmt.Errorf("storage: malformed object reference %q", ref)
		}
	}
	if bucket == "" || object == "" {
		return "", fmt.Errorf("storage: cannot resolve bucket for %q", ref)
	}

	url, err := storage.SignedURL(bucket, object, &storage.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Method:         "GET",
		Expires:        s.now().Add(s.ttl),
		Scheme:         storage.SigningSchemeV4,
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign %s/%s: %w", bucket, object, err)
	}
	return url, nil
}
