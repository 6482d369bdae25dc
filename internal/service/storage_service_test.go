package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	appconfig "github.com/jmylchreest/pawtalk-api/internal/config"
)

// ========================================
// StorageService Tests
// ========================================

func TestNewStorageService_Disabled(t *testing.T) {
	svc, err := NewStorageService(&appconfig.Config{StorageEnabled: false}, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.IsEnabled() {
		t.Error("expected storage to be disabled")
	}
	if svc.Bucket() != "" {
		t.Error("expected bucket to be empty when disabled")
	}

	_, err = svc.Upload(context.Background(), "/nonexistent", "videos/x.mp4")
	if !errors.Is(err, ErrStorageDisabled) {
		t.Errorf("Upload() error = %v, want ErrStorageDisabled", err)
	}
}

func TestStorageService_PublicURL(t *testing.T) {
	tests := []struct {
		name     string
		svc      *StorageService
		key      string
		expected string
	}{
		{
			name:     "public base url",
			svc:      &StorageService{publicBaseURL: "https://cdn.pawtalk.example", bucket: "b", endpoint: "https://s3"},
			key:      "videos/01J.mp4",
			expected: "https://cdn.pawtalk.example/videos/01J.mp4",
		},
		{
			name:     "path style fallback",
			svc:      &StorageService{bucket: "pawtalk", endpoint: "https://fly.storage.tigris.dev"},
			key:      "videos/01J.mp4",
			expected: "https://fly.storage.tigris.dev/pawtalk/videos/01J.mp4",
		},
		{
			name:     "escapes key",
			svc:      &StorageService{publicBaseURL: "https://cdn"},
			key:      "videos/a b.mp4",
			expected: "https://cdn/videos/a%20b.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.svc.PublicURL(tt.key); got != tt.expected {
				t.Errorf("PublicURL() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestStorageService_Upload(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotMethod string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, err := NewStorageService(&appconfig.Config{
		StorageEnabled:       true,
		StorageEndpoint:      srv.URL,
		StorageAccessKey:     "key",
		StorageSecretKey:     "secret",
		StorageBucket:        "pawtalk",
		StorageRegion:        "auto",
		StoragePublicBaseURL: "https://cdn.example.com",
	}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	local := filepath.Join(t.TempDir(), "v.mp4")
	if err := os.WriteFile(local, []byte("video-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	url, err := svc.Upload(context.Background(), local, "videos/j1.mp4")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "https://cdn.example.com/videos/j1.mp4" {
		t.Errorf("url = %q", url)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotMethod != http.MethodPut || gotPath != "/pawtalk/videos/j1.mp4" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if string(gotBody) != "video-bytes" {
		t.Errorf("body = %q", gotBody)
	}
}
