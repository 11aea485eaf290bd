package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/pkg/utils"
)

// Причины остановки генерации
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

const apiVersion = "2023-06-01"

// Tool описание инструмента, который оракул может вызвать
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request один запрос к оракулу: персона, инструменты и вся история
type Request struct {
	System   string
	Tools    []Tool
	Messages []domain.ConversationTurn
}

// Response ответ оракула
type Response struct {
	ID         string                `json:"id"`
	StopReason string                `json:"stop_reason"`
	Content    []domain.ContentBlock `json:"content"`
	Usage      Usage                 `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolUses блоки вызова инструментов в порядке ответа
func (r Response) ToolUses() []domain.ContentBlock {
	var out []domain.ContentBlock
	for _, b := range r.Content {
		if b.Type == domain.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// Text склеенные текстовые блоки
func (r Response) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type == domain.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

type ClientConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RatePerMin     int
}

// Client клиент Messages API с таймаутом, ретраями и ограничением частоты
type Client struct {
	http      *resty.Client
	model     string
	maxTokens int
	limiter   *rate.Limiter
	logger    *utils.Logger
}

type apiMessage struct {
	Role    string                `json:"role"`
	Content []domain.ContentBlock `json:"content"`
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Tools     []Tool       `json:"tools,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

func NewClient(cfg ClientConfig, logger *utils.Logger) *Client {
	if logger == nil {
		logger = utils.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMin)), 1)
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", apiVersion).
		SetHeader("content-type", "application/json").
		SetRetryCount(max(cfg.MaxRetries, 0)).
		SetRetryWaitTime(cfg.RetryBaseDelay).
		SetRetryMaxWaitTime(cfg.RetryBaseDelay * 8).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return retryableStatus(r.StatusCode())
		})

	return &Client{
		http:      client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		limiter:   limiter,
		logger:    logger,
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Complete отправляет историю и возвращает следующий ход оракула.
// Сетевые ошибки и 429/5xx после исчерпания ретраев дают ErrProviderUnavailable.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limiter: %w", err)
	}

	body := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    req.System,
		Tools:     req.Tools,
		Messages:  toAPIMessages(req.Messages),
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/v1/messages")
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	if resp.IsError() {
		msg := gjson.GetBytes(resp.Body(), "error.message").String()
		if msg == "" {
			msg = resp.String()
		}
		return Response{}, fmt.Errorf("%w: status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode(), msg)
	}

	var out Response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return Response{}, fmt.Errorf("%w: %v", domain.ErrMalformedOracleResponse, err)
	}
	if out.StopReason == "" && len(out.Content) == 0 {
		return Response{}, fmt.Errorf("%w: empty response", domain.ErrMalformedOracleResponse)
	}

	c.logger.Debug("🤖 Oracle %s: stop=%s blocks=%d tokens=%d/%d in %s",
		c.model, out.StopReason, len(out.Content), out.Usage.InputTokens, out.Usage.OutputTokens,
		time.Since(start).Round(time.Millisecond))

	return out, nil
}

func toAPIMessages(turns []domain.ConversationTurn) []apiMessage {
	out := make([]apiMessage, 0, len(turns))
	for _, t := range turns {
		if !t.Replayable() {
			continue
		}
		content := make([]domain.ContentBlock, len(t.Content))
		copy(content, t.Content)
		for i := range content {
			if content[i].Type == domain.BlockToolUse && len(content[i].Input) == 0 {
				content[i].Input = json.RawMessage(`{}`)
			}
		}
		out = append(out, apiMessage{Role: t.Role, Content: content})
	}
	return out
}
