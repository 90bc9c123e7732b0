package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func seedDocument(t *testing.T, store BlobStore, owner, content string) *Metadata {
	t.Helper()
	meta, err := store.Upload(context.Background(), Metadata{
		OwnerID:     owner,
		FileName:    "rx.pdf",
		ContentType: "application/pdf",
	}, strings.NewReader(content))
	if err != nil {
		t.Fatalf("seedDocument: %v", err)
	}
	return meta
}

func TestInMemoryBlobStore_Upload(t *testing.T) {
	store := NewInMemoryBlobStore()
	meta := seedDocument(t, store, "owner-1", "%PDF-1.4 scan")

	if meta.ID == "" {
		t.Error("expected generated id")
	}
	if meta.Size != int64(len("%PDF-1.4 scan")) {
		t.Errorf("unexpected size %d", meta.Size)
	}
	want := fmt.Sprintf("%x", sha256.Sum256([]byte("%PDF-1.4 scan")))
	if meta.Hash != want {
		t.Errorf("expected hash %s, got %s", want, meta.Hash)
	}
	if meta.CreatedAt.IsZero() {
		t.Error("expected created_at")
	}
}

func TestInMemoryBlobStore_UploadValidation(t *testing.T) {
	store := NewInMemoryBlobStore()
	tests := []struct {
		name    string
		meta    Metadata
		content io.Reader
		want    error
	}{
		{"missing name", Metadata{ContentType: "application/pdf"}, strings.NewReader("x"), ErrMissingFileName},
		{"bad type", Metadata{FileName: "a.exe", ContentType: "application/x-msdownload"}, strings.NewReader("x"), ErrInvalidContentType},
		{"empty", Metadata{FileName: "a.pdf", ContentType: "application/pdf"}, strings.NewReader(""), ErrEmptyFile},
		{"too large", Metadata{FileName: "a.pdf", ContentType: "application/pdf"}, io.LimitReader(zeroReader{}, MaxFileSize+10), ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Upload(context.Background(), tt.meta, tt.content)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestInMemoryBlobStore_DownloadAndDelete(t *testing.T) {
	store := NewInMemoryBlobStore()
	meta := seedDocument(t, store, "owner-1", "content")

	rc, got, err := store.Download(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "content" || got.OwnerID != "owner-1" {
		t.Errorf("unexpected download %q %+v", body, got)
	}

	if err := store.Delete(context.Background(), meta.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetMetadata(context.Background(), meta.ID); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
	if err := store.Delete(context.Background(), meta.ID); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound on second delete, got %v", err)
	}
}

func TestInMemoryBlobStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryBlobStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			meta, err := store.Upload(context.Background(), Metadata{
				FileName: fmt.Sprintf("f%d.png", i), ContentType: "image/png",
			}, strings.NewReader("png"))
			if err != nil {
				t.Errorf("upload %d: %v", i, err)
				return
			}
			if _, err := store.GetMetadata(context.Background(), meta.ID); err != nil {
				t.Errorf("metadata %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestURLSigner_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := NewURLSigner([]byte("0123456789abcdef0123456789abcdef"), 5*time.Minute, func() time.Time { return now })

	token, exp, err := signer.Sign("doc-1", "doctor-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !exp.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("unexpected expiry %s", exp)
	}
	id, err := signer.Verify(token)
	if err != nil || id != "doc-1" {
		t.Fatalf("Verify: %s %v", id, err)
	}
}

func TestURLSigner_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	signer := NewURLSigner([]byte("secret"), time.Minute, clock)
	token, _, err := signer.Sign("doc-1", "doctor-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	later := NewURLSigner([]byte("secret"), time.Minute, func() time.Time { return now.Add(2 * time.Minute) })
	if _, err := later.Verify(token); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("expected ErrInvalidLink, got %v", err)
	}
}

func TestURLSigner_WrongSecret(t *testing.T) {
	a := NewURLSigner([]byte("secret-a"), time.Minute, nil)
	b := NewURLSigner([]byte("secret-b"), time.Minute, nil)
	token, _, _ := a.Sign("doc-1", "u")
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("expected ErrInvalidLink, got %v", err)
	}
}

func TestHandler_Download(t *testing.T) {
	store := NewInMemoryBlobStore()
	meta := seedDocument(t, store, "owner-1", "pdf-bytes")
	signer := NewURLSigner([]byte("secret"), time.Minute, nil)
	token, _, _ := signer.Sign(meta.ID, "doctor-1")
	h := NewHandler(store, signer)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("token")
	c.SetParamValues(token)

	if err := h.Download(c); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "pdf-bytes" {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/pdf" {
		t.Errorf("unexpected content type %s", rec.Header().Get("Content-Type"))
	}
}

func TestHandler_DownloadBadToken(t *testing.T) {
	h := NewHandler(NewInMemoryBlobStore(), NewURLSigner([]byte("secret"), time.Minute, nil))
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("token")
	c.SetParamValues("garbage")

	err := h.Download(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestHandler_DownloadMissingDocument(t *testing.T) {
	signer := NewURLSigner([]byte("secret"), time.Minute, nil)
	token, _, _ := signer.Sign("missing", "doctor-1")
	h := NewHandler(NewInMemoryBlobStore(), signer)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("token")
	c.SetParamValues(token)

	err := h.Download(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
