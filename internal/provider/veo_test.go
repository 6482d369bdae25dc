package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestVeoClient(t *testing.T, handler http.HandlerFunc) (*VeoClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewVeoClient(VeoConfig{
		APIKey:    "test-key",
		BaseURL:   srv.URL,
		Model:     "veo-test",
		UserAgent: "pawtalk-api/test",
	}), srv
}

// ========================================
// Submit Tests
// ========================================

func TestVeoClient_Submit(t *testing.T) {
	var got veoRequest
	client, _ := newTestVeoClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/models/veo-test:predictLongRunning" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"name":"models/veo-test/operations/op-1"}`)
	})

	handle, err := client.Submit(context.Background(), SubmitRequest{
		Prompt:          "a dog says hello",
		ImageBase64:     "aGVsbG8=",
		MimeType:        "image/png",
		DurationSeconds: 4,
		AspectRatio:     "9:16",
		GenerateAudio:   true,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if handle != "models/veo-test/operations/op-1" {
		t.Errorf("handle = %q", handle)
	}

	if len(got.Instances) != 1 {
		t.Fatalf("instances = %d, want 1", len(got.Instances))
	}
	inst := got.Instances[0]
	if inst.Prompt != "a dog says hello" {
		t.Errorf("prompt = %q", inst.Prompt)
	}
	if inst.Image == nil || inst.Image.MimeType != "image/png" || inst.Image.BytesBase64Encoded != "aGVsbG8=" {
		t.Errorf("image = %+v", inst.Image)
	}
	p := got.Parameters
	if p.AspectRatio != "9:16" || p.DurationSeconds != 4 || !p.GenerateAudio || p.SampleCount != 1 {
		t.Errorf("parameters = %+v", p)
	}
}

func TestVeoClient_Submit_Rejected(t *testing.T) {
	client, _ := newTestVeoClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"Permission denied on projects/1234","status":"PERMISSION_DENIED"}}`)
	})

	_, err := client.Submit(context.Background(), SubmitRequest{Prompt: "hi"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if pe.Category != CategoryPermission {
		t.Errorf("Category = %q", pe.Category)
	}
	if strings.Contains(pe.Error(), "1234") {
		t.Errorf("user message leaks project: %q", pe.Error())
	}
}

func TestVeoClient_Submit_MissingName(t *testing.T) {
	client, _ := newTestVeoClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})

	_, err := client.Submit(context.Background(), SubmitRequest{Prompt: "hi"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
}

func TestVeoClient_Submit_ServerError(t *testing.T) {
	client, _ := newTestVeoClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Submit(context.Background(), SubmitRequest{Prompt: "hi"})
	if !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}

// ========================================
// Poll Tests
// ========================================

func TestVeoClient_Poll(t *testing.T) {
	videoBytes := []byte("fake-mp4")
	tests := []struct {
		name       string
		body       string
		wantDone   bool
		wantErr    bool
		wantVideos int
		check      func(t *testing.T, res *PollResult)
	}{
		{
			name:     "not done",
			body:     `{"name":"op-1","done":false}`,
			wantDone: false,
		},
		{
			name:       "done with sample uri",
			body:       `{"name":"op-1","done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://files.example/v1.mp4"}},{"video":{"uri":"https://files.example/v2.mp4"}}]}}}`,
			wantDone:   true,
			wantVideos: 2,
			check: func(t *testing.T, res *PollResult) {
				if res.Videos[0].URI != "https://files.example/v1.mp4" {
					t.Errorf("first uri = %q", res.Videos[0].URI)
				}
			},
		},
		{
			name:       "done with inline bytes",
			body:       `{"name":"op-1","done":true,"response":{"videos":[{"bytesBase64Encoded":"` + base64.StdEncoding.EncodeToString(videoBytes) + `","mimeType":"video/mp4"}]}}`,
			wantDone:   true,
			wantVideos: 1,
			check: func(t *testing.T, res *PollResult) {
				if string(res.Videos[0].Data) != "fake-mp4" {
					t.Errorf("data = %q", res.Videos[0].Data)
				}
			},
		},
		{
			name:     "done with error",
			body:     `{"name":"op-1","done":true,"error":{"code":3,"message":"bad image"}}`,
			wantDone: true,
			wantErr:  true,
		},
		{
			name:     "rai filtered",
			body:     `{"name":"op-1","done":true,"response":{"generateVideoResponse":{"raiMediaFilteredCount":1,"raiMediaFilteredReasons":["Video blocked by safety filters."]}}}`,
			wantDone: true,
			wantErr:  true,
			check: func(t *testing.T, res *PollResult) {
				pe := ClassifyOperationError(res.Error)
				if pe.Category != CategoryContentPolicy {
					t.Errorf("Category = %q", pe.Category)
				}
			},
		},
		{
			name:     "done without payload",
			body:     `{"name":"op-1","done":true,"response":{}}`,
			wantDone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestVeoClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/models/veo-test/operations/op-1" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				_, _ = io.WriteString(w, tt.body)
			})

			res, err := client.Poll(context.Background(), "models/veo-test/operations/op-1")
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if res.Done != tt.wantDone {
				t.Errorf("Done = %v, want %v", res.Done, tt.wantDone)
			}
			if (res.Error != nil) != tt.wantErr {
				t.Errorf("Error = %+v, wantErr %v", res.Error, tt.wantErr)
			}
			if len(res.Videos) != tt.wantVideos {
				t.Errorf("Videos = %d, want %d", len(res.Videos), tt.wantVideos)
			}
			if tt.check != nil {
				tt.check(t, res)
			}
		})
	}
}

func TestVeoClient_Poll_Unreachable(t *testing.T) {
	client, srv := newTestVeoClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.Poll(context.Background(), "op-1")
	if !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}

func TestVeoClient_Poll_GatewayError(t *testing.T) {
	client, _ := newTestVeoClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Poll(context.Background(), "op-1")
	if !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}

// ========================================
// Download Tests
// ========================================

func TestVeoClient_Download(t *testing.T) {
	client, srv := newTestVeoClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/missing.mp4" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "mp4-bytes")
	})

	t.Run("inline data", func(t *testing.T) {
		data, err := client.Download(context.Background(), Video{Data: []byte("inline")})
		if err != nil || string(data) != "inline" {
			t.Errorf("Download() = %q, %v", data, err)
		}
	})

	t.Run("uri", func(t *testing.T) {
		data, err := client.Download(context.Background(), Video{URI: srv.URL + "/v.mp4"})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if string(data) != "mp4-bytes" {
			t.Errorf("data = %q", data)
		}
	})

	t.Run("missing is permanent", func(t *testing.T) {
		_, err := client.Download(context.Background(), Video{URI: srv.URL + "/missing.mp4"})
		var pe *ProviderError
		if !errors.As(err, &pe) {
			t.Errorf("error = %v, want *ProviderError", err)
		}
	})

	t.Run("key withheld from other hosts", func(t *testing.T) {
		var gotKey string
		other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.Header.Get("x-goog-api-key")
			_, _ = io.WriteString(w, "mp4-bytes")
		}))
		defer other.Close()

		data, err := client.Download(context.Background(), Video{URI: other.URL + "/v.mp4"})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if string(data) != "mp4-bytes" {
			t.Errorf("data = %q", data)
		}
		if gotKey != "" {
			t.Errorf("api key sent to foreign host: %q", gotKey)
		}
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := client.Download(context.Background(), Video{URI: "gs://bucket/v.mp4"})
		var pe *ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("error = %v, want *ProviderError", err)
		}
		if strings.Contains(pe.Error(), "gs://") {
			t.Errorf("user message leaks uri: %q", pe.Error())
		}
	})
}
