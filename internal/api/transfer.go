package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Presigned URLs carry their own credentials, so blob transfer uses a bare
// client with no API key headers.

// DownloadToTemp streams the blob behind a presigned URL into a temporary
// file and returns its path with a cleanup function. Cleanup must be called
// on every exit path.
func DownloadToTemp(ctx context.Context, httpClient *http.Client, presignedURL string) (string, func(), error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, presignedURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("download attachment: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", nil, &Error{Kind: KindNetwork, Method: "GET", Path: "presigned", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, &Error{Kind: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode,
			Method: "GET", Path: "presigned", Detail: "attachment download failed"}
	}

	tmp, err := os.CreateTemp("", "lsmigrate-attachment-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("stream attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("flush attachment: %w", err)
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

// UploadFromFile PUTs the file at path to a presigned upload URL with the
// given MIME type.
func UploadFromFile(ctx context.Context, httpClient *http.Client, presignedURL, path, mimeType string) error {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat attachment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, f)
	if err != nil {
		return fmt.Errorf("upload attachment: %w", err)
	}
	req.ContentLength = info.Size()
	if mimeType != "" {
		req.Header.Set("Content-Type", mimeType)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Method: "PUT", Path: "presigned", Detail: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Kind: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode,
			Method: "PUT", Path: "presigned", Detail: "attachment upload failed"}
	}
	return nil
}
