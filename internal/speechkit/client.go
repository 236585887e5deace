package speechkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voxscribe/pkg/logger"
	"voxscribe/pkg/model"
	"voxscribe/pkg/resilience"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RecognizeURL  = "https://transcribe.api.cloud.yandex.net/speech/stt/v2/longRunningRecognize"
	OperationURL  = "https://operation.api.cloud.yandex.net/operations"
	OperationPoll = 5 * time.Second
	MaxWaitTime   = 30 * time.Minute
)

var ErrRecognitionTimeout = errors.New("recognition timeout exceeded")

// ObjectStore holds audio while SpeechKit fetches it by URI.
type ObjectStore interface {
	UploadFile(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	DeleteFile(ctx context.Context, key string) error
	GenerateKey(id, extension string) string
}

type Config struct {
	APIKey       string
	FolderID     string
	Language     string
	PollInterval time.Duration
	MaxWait      time.Duration

	// Overridable for tests.
	RecognizeURL string
	OperationURL string
}

type Client struct {
	cfg     Config
	client  *http.Client
	store   ObjectStore
	breaker *resilience.CircuitBreaker
}

// NewClient creates a Yandex SpeechKit long-running recognition client that
// stages audio in store.
func NewClient(cfg Config, store ObjectStore) *Client {
	if cfg.Language == "" {
		cfg.Language = "ru-RU"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = OperationPoll
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = MaxWaitTime
	}
	if cfg.RecognizeURL == "" {
		cfg.RecognizeURL = RecognizeURL
	}
	if cfg.OperationURL == "" {
		cfg.OperationURL = OperationURL
	}

	return &Client{
		cfg:   cfg,
		store: store,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: resilience.NewCircuitBreaker("speechkit", 5, time.Minute),
	}
}

// Transcribe uploads audio, runs recognition and removes the upload.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	key := c.store.GenerateKey(uuid.New().String(), model.AudioExtension)

	uri, err := c.store.UploadFile(ctx, key, bytes.NewReader(audio), "audio/ogg")
	if err != nil {
		return "", fmt.Errorf("failed to upload audio: %w", err)
	}
	defer func() {
		// The request context may already be done; cleanup gets its own.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.store.DeleteFile(cleanupCtx, key); err != nil {
			logger.Warn("Failed to delete uploaded audio", zap.String("key", key), zap.Error(err))
		}
	}()

	operationID, err := c.StartRecognition(ctx, uri)
	if err != nil {
		return "", err
	}

	result, err := c.WaitForResult(ctx, operationID)
	if err != nil {
		return "", err
	}
	return result.GetFullText(), nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// StartRecognition begins async recognition of the object at s3URI and
// returns the operation ID.
func (c *Client) StartRecognition(ctx context.Context, s3URI string) (string, error) {
	reqBody := RecognitionRequest{
		Config: RecognitionConfig{
			Specification: Specification{
				LanguageCode:      c.cfg.Language,
				Model:             "general:rc",
				AudioEncoding:     "OGG_OPUS",
				SampleRateHertz:   48000,
				AudioChannelCount: 1,
				ProfanityFilter:   false,
				LiteratureText:    true,
			},
		},
		Audio: AudioSource{
			URI: s3URI,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	logger.Debug("Starting speech recognition", zap.String("s3_uri", s3URI))

	var opResp OperationResponse
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RecognizeURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-folder-id", c.cfg.FolderID)

		return c.do(req, &opResp)
	})
	if err != nil {
		return "", fmt.Errorf("recognition request failed: %w", err)
	}

	logger.Info("Recognition started", zap.String("operation_id", opResp.ID))
	return opResp.ID, nil
}

// WaitForResult polls the operation until it is done, ctx ends or the
// configured maximum wait elapses.
func (c *Client) WaitForResult(ctx context.Context, operationID string) (*RecognitionResult, error) {
	url := fmt.Sprintf("%s/%s", strings.TrimRight(c.cfg.OperationURL, "/"), operationID)
	startTime := time.Now()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var opResp OperationResponse
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			return c.do(req, &opResp)
		})
		if err != nil {
			return nil, fmt.Errorf("operation check failed: %w", err)
		}

		if opResp.Done {
			return c.parseResult(operationID, &opResp)
		}

		logger.Debug("Recognition in progress",
			zap.String("operation_id", operationID),
			zap.Duration("elapsed", time.Since(startTime)))

		if time.Since(startTime) > c.cfg.MaxWait {
			return nil, ErrRecognitionTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) parseResult(operationID string, opResp *OperationResponse) (*RecognitionResult, error) {
	if opResp.Error != nil {
		return nil, fmt.Errorf("recognition failed: %s (code: %d)", opResp.Error.Message, opResp.Error.Code)
	}

	var result RecognitionResult
	if len(opResp.Response) > 0 {
		if err := json.Unmarshal(opResp.Response, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	logger.Info("Recognition completed",
		zap.String("operation_id", operationID),
		zap.Int("chunks", len(result.Chunks)))

	return &result, nil
}

// do sends an authorized request and decodes a 200 response into out.
func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", fmt.Sprintf("Api-Key %s", c.cfg.APIKey))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// GetFullText joins the top alternative of every chunk.
func (r *RecognitionResult) GetFullText() string {
	parts := make([]string, 0, len(r.Chunks))
	for _, chunk := range r.Chunks {
		if len(chunk.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(chunk.Alternatives[0].Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
