package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the generative language API root.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultTimeout bounds submit and poll calls.
	DefaultTimeout = 30 * time.Second

	// DownloadTimeout bounds fetching a finished clip.
	DownloadTimeout = 2 * time.Minute

	// maxVideoBytes caps a downloaded clip.
	maxVideoBytes = 200 << 20
)

// VeoConfig configures the Veo client.
type VeoConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	UserAgent  string
	HTTPClient *http.Client
}

// VeoClient talks to the Veo long-running prediction API.
type VeoClient struct {
	apiKey     string
	baseURL    string
	model      string
	userAgent  string
	httpClient *http.Client
}

// NewVeoClient creates a new Veo client.
func NewVeoClient(cfg VeoConfig) *VeoClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DownloadTimeout}
	}
	return &VeoClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		userAgent:  cfg.UserAgent,
		httpClient: cfg.HTTPClient,
	}
}

type veoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type veoInstance struct {
	Prompt string    `json:"prompt"`
	Image  *veoImage `json:"image,omitempty"`
}

type veoParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	GenerateAudio   bool   `json:"generateAudio"`
	SampleCount     int    `json:"sampleCount"`
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

// veoOperation covers both response shapes seen from the API: the Gemini
// generateVideoResponse with sample URIs, and the Vertex-style videos list
// with inline bytes.
type veoOperation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *OperationError `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse *struct {
			GeneratedSamples []struct {
				Video struct {
					URI      string `json:"uri"`
					MimeType string `json:"mimeType"`
				} `json:"video"`
			} `json:"generatedSamples"`
			RAIMediaFilteredCount   int      `json:"raiMediaFilteredCount"`
			RAIMediaFilteredReasons []string `json:"raiMediaFilteredReasons"`
		} `json:"generateVideoResponse,omitempty"`
		Videos []struct {
			BytesBase64Encoded string `json:"bytesBase64Encoded"`
			GCSURI             string `json:"gcsUri"`
			MimeType           string `json:"mimeType"`
		} `json:"videos,omitempty"`
	} `json:"response,omitempty"`
}

// Submit implements VideoProvider.
func (c *VeoClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	instance := veoInstance{Prompt: req.Prompt}
	if req.ImageBase64 != "" {
		instance.Image = &veoImage{BytesBase64Encoded: req.ImageBase64, MimeType: req.MimeType}
	}
	payload, err := json.Marshal(veoRequest{
		Instances: []veoInstance{instance},
		Parameters: veoParameters{
			AspectRatio:     req.AspectRatio,
			DurationSeconds: req.DurationSeconds,
			GenerateAudio:   req.GenerateAudio,
			SampleCount:     1,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, c.model)
	body, err := c.do(ctx, http.MethodPost, url, payload, DefaultTimeout)
	if err != nil {
		return "", err
	}

	var op veoOperation
	if err := json.Unmarshal(body, &op); err != nil {
		return "", fmt.Errorf("failed to parse submit response: %w", err)
	}
	if op.Name == "" {
		return "", &ProviderError{
			StatusCode:  http.StatusOK,
			RawMessage:  string(body),
			UserMessage: "The video service did not accept the request. Please try again.",
			Category:    CategoryProvider,
		}
	}
	return op.Name, nil
}

// Poll implements VideoProvider.
func (c *VeoClient) Poll(ctx context.Context, handle string) (*PollResult, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(handle, "/"))
	body, err := c.do(ctx, http.MethodGet, url, nil, DefaultTimeout)
	if err != nil {
		return nil, err
	}

	var op veoOperation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, fmt.Errorf("%w: unparseable operation: %v", ErrTransport, err)
	}
	return op.result(), nil
}

func (op *veoOperation) result() *PollResult {
	res := &PollResult{Done: op.Done, Error: op.Error}
	if !op.Done || op.Error != nil || op.Response == nil {
		return res
	}

	if gvr := op.Response.GenerateVideoResponse; gvr != nil {
		for _, s := range gvr.GeneratedSamples {
			res.Videos = append(res.Videos, Video{URI: s.Video.URI, MimeType: s.Video.MimeType})
		}
		if len(res.Videos) == 0 && len(gvr.RAIMediaFilteredReasons) > 0 {
			res.Error = &OperationError{
				Status:  "RAI_MEDIA_FILTERED",
				Message: strings.Join(gvr.RAIMediaFilteredReasons, " "),
			}
		}
	}
	for _, v := range op.Response.Videos {
		video := Video{URI: v.GCSURI, MimeType: v.MimeType}
		if v.BytesBase64Encoded != "" {
			data, err := base64.StdEncoding.DecodeString(v.BytesBase64Encoded)
			if err == nil {
				video.Data = data
				video.URI = ""
			}
		}
		res.Videos = append(res.Videos, video)
	}
	return res
}

// Download implements VideoProvider.
func (c *VeoClient) Download(ctx context.Context, video Video) ([]byte, error) {
	if len(video.Data) > 0 {
		return video.Data, nil
	}
	if !strings.HasPrefix(video.URI, "http://") && !strings.HasPrefix(video.URI, "https://") {
		return nil, &ProviderError{
			RawMessage:  "unsupported video uri: " + video.URI,
			UserMessage: "Video generation failed",
			Category:    CategoryProvider,
		}
	}
	return c.do(ctx, http.MethodGet, video.URI, nil, DownloadTimeout)
}

// ownsURL reports whether u points at the configured API host. The API key is
// only ever sent there, never to hosts named in provider responses.
func (c *VeoClient) ownsURL(u *url.URL) bool {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host)
}

// do performs one call. Network failures and 5xx responses wrap ErrTransport;
// other non-2xx responses become a *ProviderError.
func (c *VeoClient) do(ctx context.Context, method, url string, payload []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.ownsURL(req.URL) {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVideoBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrTransport, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ClassifyHTTPError(resp.StatusCode, body)
	}
	return body, nil
}
