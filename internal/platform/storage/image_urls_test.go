package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

type fakeSigner struct {
	email string
	err   error
	calls int
}

func (f *fakeSigner) Email() string { return f.email }

func (f *fakeSigner) SignBytes(_ context.Context, _ []byte) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("signed"), nil
}

func TestImageURLSigner_SignsBucketRelativePath(t *testing.T) {
	signer := &fakeSigner{email: "images@shop.iam.gserviceaccount.com"}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	images, err := NewImageURLSigner(signer, "shop-images", WithTTL(time.Hour), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewImageURLSigner: %v", err)
	}

	signed, err := images.SignImageURL(context.Background(), "/products/serum.png")
	if err != nil {
		t.Fatalf("SignImageURL: %v", err)
	}
	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse signed url: %v", err)
	}
	if parsed.Path != "/shop-images/products/serum.png" {
		t.Fatalf("unexpected path %s", parsed.Path)
	}
	query := parsed.Query()
	if query.Get("X-Goog-Algorithm") != "GOOG4-RSA-SHA256" {
		t.Fatalf("expected V4 signing, got %v", query)
	}
	if query.Get("X-Goog-Expires") != "3600" {
		t.Fatalf("expected one hour expiry, got %s", query.Get("X-Goog-Expires"))
	}
	if !strings.HasPrefix(query.Get("X-Goog-Credential"), "images@shop.iam.gserviceaccount.com/") {
		t.Fatalf("unexpected credential %s", query.Get("X-Goog-Credential"))
	}
	if signer.calls != 1 {
		t.Fatalf("expected one signing call, got %d", signer.calls)
	}
}

func TestImageURLSigner_GSReferenceUsesNamedBucket(t *testing.T) {
	images, _ := NewImageURLSigner(&fakeSigner{email: "images@shop.iam.gserviceaccount.com"}, "shop-images")
	signed, err := images.SignImageURL(context.Background(), "gs://legacy-bucket/p/1.jpg")
	if err != nil {
		t.Fatalf("SignImageURL: %v", err)
	}
	if !strings.Contains(signed, "/legacy-bucket/p/1.jpg?") {
		t.Fatalf("expected legacy bucket in url, got %s", signed)
	}
}

func TestImageURLSigner_PassThroughAndErrors(t *testing.T) {
	signer := &fakeSigner{email: "images@shop.iam.gserviceaccount.com"}
	images, _ := NewImageURLSigner(signer, "")

	absolute := "https://cdn.example.com/p/1.jpg"
	if got, err := images.SignImageURL(context.Background(), absolute); err != nil || got != absolute {
		t.Fatalf("expected absolute url passthrough, got %q err=%v", got, err)
	}
	if _, err := images.SignImageURL(context.Background(), "products/1.jpg"); err == nil {
		t.Fatalf("expected error when no bucket configured")
	}
	if _, err := images.SignImageURL(context.Background(), "gs://bucket-only"); err == nil {
		t.Fatalf("expected error for malformed gs reference")
	}

	signer.err = errors.New("kms down")
	if _, err := images.SignImageURL(context.Background(), "gs://bucket/p.jpg"); err == nil {
		t.Fatalf("expected signer error to propagate")
	}
	if signer.calls != 1 {
		t.Fatalf("expected signer to be invoked once, got %d", signer.calls)
	}
}

func TestNewImageURLSignerRequiresSigner(t *testing.T) {
	if _, err := NewImageURLSigner(nil, "bucket"); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner, got %v", err)
	}
}

func TestServiceAccountSignerFromJSON(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	raw, _ := json.Marshal(map[string]string{
		"client_email": "signer@shop.iam.gserviceaccount.com",
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	})

	signer, err := NewServiceAccountSignerFromJSON(raw)
	if err != nil {
		t.Fatalf("NewServiceAccountSignerFromJSON: %v", err)
	}
	if signer.Email() != "signer@shop.iam.gserviceaccount.com" {
		t.Fatalf("unexpected email %s", signer.Email())
	}
	sig, err := signer.SignBytes(context.Background(), []byte("payload"))
	if err != nil || len(sig) != 256 {
		t.Fatalf("unexpected signature len=%d err=%v", len(sig), err)
	}

	if _, err := NewServiceAccountSignerFromJSON([]byte(`{"client_email":"x@y","private_key":""}`)); err == nil {
		t.Fatalf("expected error for missing private key")
	}
}
