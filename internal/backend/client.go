// Package backend is the REST client for the lecture transcription service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/pyronotes/internal/version"
)

var (
	// ErrUnavailable wraps network-level failures reaching the backend.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrUpload wraps failures sending audio to the backend.
	ErrUpload = errors.New("audio upload failed")
)

// APIError is a non-2xx backend response.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, body)
}

// Insight is one AI-derived card attached to a transcript.
type Insight struct {
	Subtype string `json:"subtype"`
	Term    string `json:"term"`
	Text    string `json:"text"`
}

// TranscriptionResult is the response to a whole-file transcription.
type TranscriptionResult struct {
	ID          string    `json:"id"`
	Transcript  string    `json:"transcript"`
	AIInsights  []Insight `json:"ai_insights"`
	DurationSec *int      `json:"duration_sec,omitempty"`
}

// LectureStatus is the library lifecycle of a lecture.
type LectureStatus string

const (
	LectureReady      LectureStatus = "ready"
	LectureProcessing LectureStatus = "processing"
	LectureRecording  LectureStatus = "recording"
	LectureError      LectureStatus = "error"
)

// Lecture is the persisted library item a session becomes.
type Lecture struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	FolderID    *string       `json:"folder_id,omitempty"`
	DurationSec *int          `json:"duration_sec,omitempty"`
	AudioPath   *string       `json:"audio_path,omitempty"`
	CreatedAt   string        `json:"created_at,omitempty"`
	Status      LectureStatus `json:"status,omitempty"`
}

// LectureUpdate carries the fields the client writes on save.
type LectureUpdate struct {
	Title       string        `json:"title"`
	FolderID    *string       `json:"folder_id"`
	Status      LectureStatus `json:"status,omitempty"`
	DurationSec *int          `json:"duration_sec,omitempty"`
}

// GenerateRequest asks for study material derived from a lecture or folder.
type GenerateRequest struct {
	Type  string `json:"type"`
	Scope string `json:"scope"`
	ID    string `json:"id"`
}

// GenerateResponse is the generated material.
type GenerateResponse struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Options configures request timeouts.
type Options struct {
	Timeout       time.Duration
	UploadTimeout time.Duration
	HTTPClient    *http.Client
}

// Client talks to the backend REST API rooted at a base URL such as
// http://localhost:8000/api.
type Client struct {
	baseURL       string
	http          *http.Client
	timeout       time.Duration
	uploadTimeout time.Duration
}

// New returns a client for baseURL.
func New(baseURL string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 5 * time.Minute
	}
	return &Client{
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:          httpClient,
		timeout:       opts.Timeout,
		uploadTimeout: opts.UploadTimeout,
	}
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StartTranscription creates a live session and returns its id.
func (c *Client) StartTranscription(ctx context.Context) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, c.timeout, "start transcription", http.MethodPost, "/transcriptions/start", nil, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return "", errors.New("start transcription: response missing id")
	}
	return resp.ID, nil
}

// TranscribeFile uploads a whole recording and returns its transcript and insights.
func (c *Client) TranscribeFile(ctx context.Context, filename string, audio io.Reader) (TranscriptionResult, error) {
	body, contentType, err := multipartFile(filename, audio)
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	var result TranscriptionResult
	if err := c.do(ctx, c.uploadTimeout, "transcribe file", http.MethodPost, "/transcriptions", contentType, body, &result); err != nil {
		return TranscriptionResult{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	return result, nil
}

// UploadLectureAudio attaches the assembled recording to lecture id.
func (c *Client) UploadLectureAudio(ctx context.Context, id string, filename string, data []byte) error {
	body, contentType, err := multipartFile(filename, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	path := "/lectures/" + url.PathEscape(id) + "/audio"
	if err := c.do(ctx, c.uploadTimeout, "upload lecture audio", http.MethodPost, path, contentType, body, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}
	return nil
}

// UpdateLecture patches title, folder, status and duration of lecture id.
func (c *Client) UpdateLecture(ctx context.Context, id string, update LectureUpdate) (Lecture, error) {
	var lecture Lecture
	path := "/lectures/" + url.PathEscape(id)
	if err := c.doJSON(ctx, c.timeout, "update lecture", http.MethodPatch, path, update, &lecture); err != nil {
		return Lecture{}, err
	}
	return lecture, nil
}

// Generate requests notes, flashcards, or a quiz.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.doJSON(ctx, c.uploadTimeout, "generate", http.MethodPost, "/generate", req, &resp); err != nil {
		return GenerateResponse{}, err
	}
	return resp, nil
}

// Ping reports whether the API root answers at all.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return &APIError{Op: "ping", StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, timeout time.Duration, op, method, path string, in any, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, timeout, op, method, path, contentType, body, out)
}

func (c *Client) do(ctx context.Context, timeout time.Duration, op, method, path, contentType string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func multipartFile(filename string, r io.Reader) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
