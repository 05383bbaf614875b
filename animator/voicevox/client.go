package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultBaseURL = "http://localhost:50021"

var ErrEmptyText = errors.New("voicevox: text is empty")

// APIError is returned for any non-200 answer from the engine.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("VOICEVOX %s error (%d): %s", e.Endpoint, e.StatusCode, e.Body)
}

type Style struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

type Speaker struct {
	Name        string  `json:"name"`
	SpeakerUUID string  `json:"speaker_uuid"`
	Styles      []Style `json:"styles"`
}

// Client talks to a local VOICEVOX engine.
type Client struct {
	BaseURL string
	Client  *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// AudioQuery asks the engine to plan the prosody of text for speaker.
func (c *Client) AudioQuery(ctx context.Context, text string, speaker int) (json.RawMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(speaker))

	body, err := c.post(ctx, "audio_query", params, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Synthesis renders an audio query into WAV bytes.
func (c *Client) Synthesis(ctx context.Context, query json.RawMessage, speaker int) ([]byte, error) {
	params := url.Values{}
	params.Set("speaker", strconv.Itoa(speaker))
	return c.post(ctx, "synthesis", params, query)
}

// Synthesize runs audio_query followed by synthesis.
func (c *Client) Synthesize(ctx context.Context, text string, speaker int) ([]byte, error) {
	c.logger.Debug("synthesizing", zap.Int("speaker", speaker), zap.Int("chars", len([]rune(text))))
	query, err := c.AudioQuery(ctx, text, speaker)
	if err != nil {
		return nil, err
	}
	return c.Synthesis(ctx, query, speaker)
}

// Speakers lists the voices installed in the engine.
func (c *Client) Speakers(ctx context.Context) ([]Speaker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/speakers", nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	body, err := c.do(req, "speakers")
	if err != nil {
		return nil, err
	}
	var speakers []Speaker
	if err := json.Unmarshal(body, &speakers); err != nil {
		return nil, fmt.Errorf("error decoding speakers: %w", err)
	}
	return speakers, nil
}

func (c *Client) post(ctx context.Context, endpoint string, params url.Values, payload []byte) ([]byte, error) {
	target := fmt.Sprintf("%s/%s?%s", c.BaseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, endpoint)
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling VOICEVOX %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading VOICEVOX %s response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("VOICEVOX request failed",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode))
		return nil, &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
