package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"voxscribe/pkg/logger"
	"voxscribe/pkg/model"

	"go.uber.org/zap"
)

const (
	defaultURL     = "http://localhost:8387"
	defaultModel   = "medium"
	defaultTimeout = 10 * time.Minute
)

// Config holds configuration for the faster-whisper sidecar.
type Config struct {
	URL           string
	Model         string
	Language      string
	InitialPrompt string
	Timeout       time.Duration
	// Decoding is sent as extra form fields without interpretation.
	Decoding map[string]string
}

// Client transcribes audio through a faster-whisper HTTP sidecar.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Ping checks whether the sidecar is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper health check: status %d", resp.StatusCode)
	}
	return nil
}

// Transcribe sends audio to the sidecar and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	body, contentType, err := c.buildForm(audio)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/transcribe", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("whisper error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}

	logger.Debug("Whisper transcription received",
		zap.String("language", result.Language),
		zap.Int("segments", len(result.Segments)),
		zap.Duration("elapsed", time.Since(start)))

	return result.text(), nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) buildForm(audio []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", "voice"+model.AudioExtension)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	fields := map[string]string{"model": c.cfg.Model}
	if c.cfg.Language != "" {
		fields["language"] = c.cfg.Language
	}
	if c.cfg.InitialPrompt != "" {
		fields["initial_prompt"] = c.cfg.InitialPrompt
	}
	for k, v := range c.cfg.Decoding {
		if _, reserved := fields[k]; !reserved {
			fields[k] = v
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writer.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

type transcribeResponse struct {
	Text     string    `json:"text"`
	Segments []segment `json:"segments"`
	Language string    `json:"language"`
}

type segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// text prefers the top-level text and falls back to joining segments.
func (r *transcribeResponse) text() string {
	if strings.TrimSpace(r.Text) != "" {
		return strings.TrimSpace(r.Text)
	}

	parts := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
