package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
)

const maxErrorBody = 4 << 10

// HTTPError is a non-2xx backend response. Detail carries the backend's
// `detail` message when present.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// Config configures the backend client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// TransferTimeout bounds a single PUT to storage; zero means no limit beyond the context.
	TransferTimeout time.Duration
}

// Client talks to the Zjobly REST backend and the presigned storage target.
type Client struct {
	baseURL    string
	httpClient *http.Client
	transfer   *http.Client
	log        logrus.FieldLogger
	now        func() time.Time
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		transfer:   &http.Client{Timeout: cfg.TransferTimeout},
		log:        log.WithField("component", "api"),
		now:        time.Now,
	}
}

type uploadURLRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type uploadURLResponse struct {
	UploadURL string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
	ExpiresIn int    `json:"expires_in"`
}

type confirmUploadRequest struct {
	ObjectKey       string  `json:"object_key"`
	DurationSeconds float64 `json:"duration_seconds"`
	Source          string  `json:"source"`
}

type confirmUploadResponse struct {
	Status    string `json:"status"`
	ObjectKey string `json:"object_key"`
}

func (c *Client) RequestUpload(ctx context.Context, fileName string, contentType string) (domain.UploadTarget, error) {
	var resp uploadURLResponse
	err := c.doJSON(ctx, http.MethodPost, "/videos/upload-url", uploadURLRequest{FileName: fileName, ContentType: contentType}, &resp)
	if err != nil {
		return domain.UploadTarget{}, err
	}
	return c.target(resp), nil
}

func (c *Client) ConfirmUpload(ctx context.Context, objectKey string, durationSeconds float64, source domain.Provenance) (string, error) {
	var resp confirmUploadResponse
	req := confirmUploadRequest{ObjectKey: objectKey, DurationSeconds: durationSeconds, Source: string(source)}
	if err := c.doJSON(ctx, http.MethodPost, "/videos/confirm-upload", req, &resp); err != nil {
		return "", err
	}
	return resp.ObjectKey, nil
}

// Transfer PUTs data to a presigned URL, reporting progress as bytes are read.
func (c *Client) Transfer(ctx context.Context, target domain.UploadTarget, contentType string, data []byte, progress func(percent int)) error {
	body := newProgressReader(data, progress)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.UploadURL, body)
	if err != nil {
		return fmt.Errorf("build transfer request for %s: invalid url", redactQuery(target.UploadURL))
	}
	req.ContentLength = int64(len(data))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.transfer.Do(req)
	if err != nil {
		// The client echoes the request URL, signature included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = redactQuery(urlErr.URL)
		}
		return fmt.Errorf("transfer to storage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.httpError(resp, http.MethodPut, redactQuery(target.UploadURL))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	body.finish()
	return nil
}

type chunkUploadRequest struct {
	ChunkIndex  int    `json:"chunk_index"`
	ContentType string `json:"content_type"`
}

type chunkConfirmRequest struct {
	ChunkIndex int    `json:"chunk_index"`
	ObjectKey  string `json:"object_key"`
}

type finalizeRequest struct {
	TotalChunks int `json:"total_chunks"`
}

type transcriptResponse struct {
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
}

func (c *Client) RequestChunkUpload(ctx context.Context, sessionID string, index int, contentType string) (domain.UploadTarget, error) {
	var resp uploadURLResponse
	err := c.doJSON(ctx, http.MethodPost, sessionPath(sessionID, "chunks/upload-url"), chunkUploadRequest{ChunkIndex: index, ContentType: contentType}, &resp)
	if err != nil {
		return domain.UploadTarget{}, err
	}
	return c.target(resp), nil
}

func (c *Client) ConfirmChunk(ctx context.Context, sessionID string, index int, objectKey string) error {
	return c.doJSON(ctx, http.MethodPost, sessionPath(sessionID, "chunks/confirm"), chunkConfirmRequest{ChunkIndex: index, ObjectKey: objectKey}, nil)
}

func (c *Client) FinalizeSession(ctx context.Context, sessionID string, totalChunks int) error {
	return c.doJSON(ctx, http.MethodPost, sessionPath(sessionID, "finalize"), finalizeRequest{TotalChunks: totalChunks}, nil)
}

func (c *Client) PollTranscript(ctx context.Context, sessionID string) (domain.Transcript, error) {
	var resp transcriptResponse
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(sessionID, "transcript"), nil, &resp); err != nil {
		return domain.Transcript{}, err
	}

	status := domain.TranscriptStatus(strings.ToLower(strings.TrimSpace(resp.Status)))
	switch status {
	case domain.TranscriptStatusPending, domain.TranscriptStatusPartial, domain.TranscriptStatusFinal:
	default:
		return domain.Transcript{}, fmt.Errorf("unknown transcript status %q", resp.Status)
	}
	return domain.Transcript{SessionID: sessionID, Status: status, Text: resp.Transcript}, nil
}

func (c *Client) doJSON(ctx context.Context, method string, path string, in any, out any) error {
	if c.baseURL == "" {
		return errors.New("api base url is not configured")
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": c.now().Sub(started).String(),
	}).Debug("api call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.httpError(resp, method, path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) httpError(resp *http.Response, method string, path string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	httpErr := &HTTPError{Method: method, Path: path, Status: resp.StatusCode}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &payload) == nil && len(payload.Detail) > 0 {
		var text string
		if json.Unmarshal(payload.Detail, &text) == nil {
			httpErr.Detail = text
		} else {
			httpErr.Detail = string(payload.Detail)
		}
	} else if trimmed := strings.TrimSpace(string(raw)); trimmed != "" && !strings.HasPrefix(trimmed, "<") {
		httpErr.Detail = trimmed
	}
	return httpErr
}

func (c *Client) target(resp uploadURLResponse) domain.UploadTarget {
	target := domain.UploadTarget{UploadURL: resp.UploadURL, ObjectKey: resp.ObjectKey}
	if resp.ExpiresIn > 0 {
		target.ExpiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return target
}

func sessionPath(sessionID string, suffix string) string {
	return "/audio-sessions/" + url.PathEscape(sessionID) + "/" + suffix
}

// redactQuery drops presigned signatures from URLs before they reach logs or errors.
func redactQuery(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<upload-url>"
	}
	parsed.RawQuery = ""
	return parsed.String()
}
