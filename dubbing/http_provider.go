package dubbing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

const defaultRequestTimeout = 60 * time.Second

// HTTPProvider talks to a dubbing service over its REST API:
//
//	POST /v1/dubbing                        multipart submit
//	GET  /v1/dubbing/{id}                   job status
//	GET  /v1/dubbing/{id}/audio/{lang}      dubbed audio (audio/mpeg)
//	GET  /v1/languages                      supported languages
//
// Authentication is a bearer API key.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// HTTPProviderOption configures an HTTPProvider.
type HTTPProviderOption func(*HTTPProvider)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPProviderOption {
	return func(p *HTTPProvider) { p.client = client }
}

// NewHTTPProvider constructs a provider client for the given API base
// URL and key.
func NewHTTPProvider(baseURL, apiKey string, opts ...HTTPProviderOption) *HTTPProvider {
	p := &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type jobResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	TargetLanguage string `json:"target_language"`
	CreatedAt      string `json:"created_at"`
	Error          string `json:"error"`
}

func (r jobResponse) toJob() Job {
	createdAt, _ := time.Parse(time.RFC3339, r.CreatedAt)
	return Job{
		ID:             r.JobID,
		Status:         JobStatus(r.Status),
		TargetLanguage: r.TargetLanguage,
		CreatedAt:      createdAt,
		Error:          r.Error,
	}
}

// Submit uploads the recording as a multipart form and returns the
// provider-issued job.
func (p *HTTPProvider) Submit(ctx context.Context, req SubmitRequest) (Job, error) {
	if err := req.Validate(); err != nil {
		return Job{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "recording.mp3")
	if err != nil {
		return Job{}, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return Job{}, fmt.Errorf("build multipart body: %w", err)
	}
	if err := mw.WriteField("target_language", req.TargetLanguage); err != nil {
		return Job{}, fmt.Errorf("build multipart body: %w", err)
	}
	if req.SourceLanguage != "" {
		if err := mw.WriteField("source_language", req.SourceLanguage); err != nil {
			return Job{}, fmt.Errorf("build multipart body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return Job{}, fmt.Errorf("build multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/dubbing", &body)
	if err != nil {
		return Job{}, fmt.Errorf("build submit request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Job{}, fmt.Errorf("submit dubbing job: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return Job{}, apiError("submit", resp)
	}

	var jr jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return Job{}, fmt.Errorf("decode submit response: %w", err)
	}
	if jr.JobID == "" {
		return Job{}, fmt.Errorf("submit response missing job_id")
	}
	return jr.toJob(), nil
}

// JobStatus fetches the current job state.
func (p *HTTPProvider) JobStatus(ctx context.Context, jobID string) (Job, error) {
	endpoint := p.baseURL + "/v1/dubbing/" + url.PathEscape(jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Job{}, fmt.Errorf("build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Job{}, fmt.Errorf("poll dubbing job: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return Job{}, apiError("status", resp)
	}

	var jr jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return Job{}, fmt.Errorf("decode status response: %w", err)
	}
	return jr.toJob(), nil
}

// FetchAudio downloads the dubbed artifact for a finished job.
func (p *HTTPProvider) FetchAudio(ctx context.Context, jobID, targetLanguage string) ([]byte, error) {
	endpoint := p.baseURL + "/v1/dubbing/" + url.PathEscape(jobID) + "/audio/" + url.PathEscape(targetLanguage)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build audio request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch dubbed audio: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return nil, apiError("audio", resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read dubbed audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("dubbed audio response is empty")
	}
	return audio, nil
}

// Languages lists the provider's dubbing targets.
func (p *HTTPProvider) Languages(ctx context.Context) ([]Language, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/languages", nil)
	if err != nil {
		return nil, fmt.Errorf("build languages request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list languages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return nil, apiError("languages", resp)
	}

	var payload struct {
		Languages []Language `json:"languages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode languages response: %w", err)
	}
	return payload.Languages, nil
}

func apiError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("dubbing %s http %d: %s", op, resp.StatusCode, bytes.TrimSpace(snippet))
}
