package blobstore

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestUpload_AndGet(t *testing.T) {
	store := NewInMemoryStore("attachments")
	data := []byte("fake png bytes")

	ref, err := store.Upload(context.Background(), "conv-1/photo.png", data, "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), ref.Size)
	}
	if ref.Hash == "" {
		t.Error("expected content hash to be set")
	}

	got, gotRef, err := store.Get(context.Background(), "conv-1/photo.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("expected stored bytes to round-trip")
	}
	if gotRef.ContentType != "image/png" {
		t.Errorf("expected content type preserved, got %s", gotRef.ContentType)
	}
}

func TestUpload_Validation(t *testing.T) {
	store := NewInMemoryStore("attachments")

	if _, err := store.Upload(context.Background(), "", []byte("x"), "image/png"); !errors.Is(err, ErrMissingPath) {
		t.Errorf("expected ErrMissingPath, got %v", err)
	}
	if _, err := store.Upload(context.Background(), "a.exe", []byte("x"), "application/x-msdownload"); !errors.Is(err, ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}
}

func TestSignedURL_RoundTrip(t *testing.T) {
	store := NewInMemoryStore("attachments")
	ref, err := store.Upload(context.Background(), "conv-1/report.pdf", []byte("pdf"), "application/pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	url, err := store.SignedURL(context.Background(), ref, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path, expires, sig, err := ParseSignedURL(url)
	if err != nil {
		t.Fatalf("parse signed url: %v", err)
	}
	if path != "conv-1/report.pdf" {
		t.Errorf("unexpected path %q", path)
	}
	if err := store.VerifySignedURL(path, expires, sig); err != nil {
		t.Errorf("expected valid signature: %v", err)
	}
}

func TestSignedURL_Expired(t *testing.T) {
	store := NewInMemoryStore("attachments")
	ref, _ := store.Upload(context.Background(), "conv-1/a.txt", []byte("x"), "text/plain")

	url, err := store.SignedURL(context.Background(), ref, -time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path, expires, sig, _ := ParseSignedURL(url)
	if err := store.VerifySignedURL(path, expires, sig); !errors.Is(err, ErrSignatureExpired) {
		t.Errorf("expected ErrSignatureExpired, got %v", err)
	}
}

func TestSignedURL_UnknownObject(t *testing.T) {
	store := NewInMemoryStore("attachments")
	ref := &ObjectRef{Bucket: "attachments", Path: "missing"}
	if _, err := store.SignedURL(context.Background(), ref, time.Minute); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestSignedURL_TamperedSignature(t *testing.T) {
	store := NewInMemoryStore("attachments")
	ref, _ := store.Upload(context.Background(), "conv-1/a.txt", []byte("x"), "text/plain")

	url, _ := store.SignedURL(context.Background(), ref, time.Minute)
	path, expires, _, _ := ParseSignedURL(url)
	if err := store.VerifySignedURL(path, expires, "deadbeef"); err == nil {
		t.Error("expected tampered signature to be rejected")
	}
}
