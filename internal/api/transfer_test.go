package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestDownloadUploadRoundTrip(t *testing.T) {
	blob := []byte("binary attachment payload")
	download := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(blob)
	}))
	defer download.Close()

	var uploaded []byte
	var gotMime string
	upload := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		gotMime = r.Header.Get("Content-Type")
		uploaded, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer upload.Close()

	path, cleanup, err := DownloadToTemp(context.Background(), nil, download.URL)
	if err != nil {
		t.Fatalf("DownloadToTemp: %v", err)
	}
	defer cleanup()

	if err := UploadFromFile(context.Background(), nil, upload.URL, path, "image/png"); err != nil {
		t.Fatalf("UploadFromFile: %v", err)
	}
	if string(uploaded) != string(blob) {
		t.Errorf("uploaded %q, want %q", uploaded, blob)
	}
	if gotMime != "image/png" {
		t.Errorf("content type = %q, want image/png", gotMime)
	}
}

func TestDownloadCleanupRemovesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	path, cleanup, err := DownloadToTemp(context.Background(), nil, srv.URL)
	if err != nil {
		t.Fatalf("DownloadToTemp: %v", err)
	}
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("temp file still present after cleanup: %v", err)
	}
}

func TestDownloadErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusForbidden)
	}))
	defer srv.Close()

	_, _, err := DownloadToTemp(context.Background(), nil, srv.URL)
	if err == nil {
		t.Fatal("expected error on 403")
	}
}
