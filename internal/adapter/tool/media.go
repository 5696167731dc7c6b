package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"sparkie/internal/domain"
	"sparkie/internal/infra/tracer"
)

const defaultMediaTimeout = 120 * time.Second

// MediaClient talks to the media generation service. One POST per request:
// {endpoint}/{kind} with {"prompt": ...}, answered by {"url": ...}.
type MediaClient struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewMediaClient creates a client for the service at endpoint.
func NewMediaClient(endpoint, apiKey string, timeout time.Duration) *MediaClient {
	if timeout <= 0 {
		timeout = defaultMediaTimeout
	}
	return &MediaClient{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
	}
}

type mediaRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
}

type mediaResponse struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// Generate requests one piece of media and returns its URL.
func (c *MediaClient) Generate(ctx context.Context, kind domain.MediaKind, req mediaRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+string(kind), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", domain.NewSubSystemError("media", "Media.Generate", domain.ErrTimeout, string(kind))
		}
		return "", fmt.Errorf("media request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", domain.NewSubSystemError("media", "Media.Generate", domain.ErrRateLimit, string(kind))
	case resp.StatusCode >= 500:
		return "", domain.NewSubSystemError("media", "Media.Generate", domain.ErrServerError,
			fmt.Sprintf("HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("media generation failed (HTTP %d): %s", resp.StatusCode, truncateBody(data))
	}

	var mr mediaResponse
	if err := json.Unmarshal(data, &mr); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if mr.Error != "" {
		return "", fmt.Errorf("media generation failed: %s", mr.Error)
	}
	if mr.URL == "" {
		return "", fmt.Errorf("media service returned no URL")
	}
	return mr.URL, nil
}

// MediaTool generates one kind of media. Its output starts with the media
// prefix so the executor can attach a typed reference.
type MediaTool struct {
	kind   domain.MediaKind
	client *MediaClient
	logger *slog.Logger
}

// MediaTools returns generate_image, generate_video and generate_audio over client.
func MediaTools(client *MediaClient, logger *slog.Logger) []domain.Tool {
	return []domain.Tool{
		&MediaTool{kind: domain.MediaImage, client: client, logger: logger},
		&MediaTool{kind: domain.MediaVideo, client: client, logger: logger},
		&MediaTool{kind: domain.MediaAudio, client: client, logger: logger},
	}
}

func (t *MediaTool) Name() string { return "generate_" + string(t.kind) }

func (t *MediaTool) Description() string {
	switch t.kind {
	case domain.MediaVideo:
		return "Generate a short video clip from a text description."
	case domain.MediaAudio:
		return "Generate music or audio from a text description."
	default:
		return "Generate an image from a text description."
	}
}

func (t *MediaTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "minLength": 1, "maxLength": 4000, "description": "What to generate"},
				"size": {"type": "string", "description": "Optional size or duration hint, e.g. 1024x1024 or 15s"}
			},
			"required": ["prompt"]
		}`),
	}
}

func (t *MediaTool) prefix() string {
	switch t.kind {
	case domain.MediaVideo:
		return domain.VideoPrefix
	case domain.MediaAudio:
		return domain.AudioPrefix
	default:
		return domain.ImagePrefix
	}
}

func (t *MediaTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool."+t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p mediaRequest) (any, error) {
			if err := RequireFields("prompt", p.Prompt); err != nil {
				return nil, err
			}
			url, err := t.client.Generate(ctx, t.kind, p)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("media.kind", string(t.kind)))
			return TextResult(t.prefix() + " " + url), nil
		},
	)
}
