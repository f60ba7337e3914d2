package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/couponvault/couponvault/pkg/retry"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxAttempts = 3
	completionsPath    = "/v1/chat/completions"
)

// Config aggregates the extraction service settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
}

// Client calls the chat-style extraction endpoint with a fixed timeout and
// retries rate-limited responses under the shared backoff policy. All other
// failures propagate immediately.
type Client struct {
	http         *resty.Client
	model        string
	policy       retry.Policy
	logger       *zap.Logger
	retryOptions []retry.ExecuteOption
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryTimer replaces the backoff timer (tests use one that fires
// instantly and records the delays).
func WithRetryTimer(timer backoff.Timer) ClientOption {
	return func(client *Client) {
		client.retryOptions = append(client.retryOptions, retry.WithTimer(timer))
	}
}

// NewClient wires a Client.
func NewClient(cfg Config, logger *zap.Logger, options ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey)
	client := &Client{
		http:   httpClient,
		model:  cfg.Model,
		policy: retry.Policy{MaxAttempts: maxAttempts},
		logger: logger,
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client
}

// ExtractFromText runs extraction over user-authored free text.
func (client *Client) ExtractFromText(ctx context.Context, text string) (Draft, error) {
	return client.complete(ctx, textMessages(text))
}

// ExtractFromImage runs extraction over a base64-encoded image with an
// optional caller note.
func (client *Client) ExtractFromImage(ctx context.Context, imageBase64 string, note string) (Draft, error) {
	return client.complete(ctx, imageMessages(imageBase64, note))
}

func (client *Client) complete(ctx context.Context, messages []chatMessage) (Draft, error) {
	var completion chatCompletionResponse
	operation := func() error {
		response, err := client.http.R().
			SetContext(ctx).
			SetBody(chatCompletionRequest{Model: client.model, Messages: messages}).
			Post(completionsPath)
		if err != nil {
			return retry.Permanent(fmt.Errorf("extraction request: %w", err))
		}
		switch {
		case response.StatusCode() == http.StatusTooManyRequests:
			return ErrRateLimited
		case response.StatusCode() == http.StatusUnauthorized:
			return retry.Permanent(ErrAuthentication)
		case response.StatusCode() < http.StatusOK || response.StatusCode() >= http.StatusMultipleChoices:
			return retry.Permanent(&HTTPStatusError{
				StatusCode: response.StatusCode(),
				Message:    serverMessage(response.Body()),
			})
		}
		if err := json.Unmarshal(response.Body(), &completion); err != nil {
			return retry.Permanent(fmt.Errorf("%w: completion envelope: %v", ErrDecode, err))
		}
		return nil
	}
	retryOptions := append([]retry.ExecuteOption{retry.WithNotify(client.notifyBackoff)}, client.retryOptions...)
	if err := client.policy.Execute(ctx, operation, retryOptions...); err != nil {
		return Draft{}, err
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return Draft{}, ErrEmptyCompletion
	}
	return decodeDraft(completion.Choices[0].Message.Content)
}

func (client *Client) notifyBackoff(err error, delay time.Duration) {
	if client.logger == nil {
		return
	}
	client.logger.Warn("extraction retrying after backoff",
		zap.Duration("delay", delay),
		zap.Error(err),
	)
}

// decodeDraft parses the completion content into a Draft. A first decode
// failure triggers one normalization pass stripping markdown code fences
// before failing hard.
func decodeDraft(content string) (Draft, error) {
	draft, err := unmarshalDraft(content)
	if err == nil {
		return draft, nil
	}
	draft, retryErr := unmarshalDraft(stripCodeFences(content))
	if retryErr == nil {
		return draft, nil
	}
	return Draft{}, fmt.Errorf("%w: %v", ErrDecode, retryErr)
}

func unmarshalDraft(content string) (Draft, error) {
	var payload draftPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &payload); err != nil {
		return Draft{}, err
	}
	return Draft{
		Code:         payload.Code,
		Description:  payload.Description,
		Value:        parseAmount(payload.Value),
		Cost:         parseAmount(payload.Cost),
		Company:      payload.Company,
		Expiration:   payload.Expiration,
		Source:       payload.Source,
		BuyMeURL:     payload.BuyMeURL,
		StraussURL:   payload.StraussURL,
		XtraURL:      payload.XtraURL,
		XGiftCardURL: payload.XGiftCardURL,
	}, nil
}

func stripCodeFences(content string) string {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

// draftPayload tolerates the model returning amounts as numbers or strings.
type draftPayload struct {
	Code         string `json:"code"`
	Description  string `json:"description"`
	Value        any    `json:"value"`
	Cost         any    `json:"cost"`
	Company      string `json:"company"`
	Expiration   string `json:"expiration"`
	Source       string `json:"source"`
	BuyMeURL     string `json:"buyme_url"`
	StraussURL   string `json:"strauss_url"`
	XtraURL      string `json:"xtra_url"`
	XGiftCardURL string `json:"xgiftcard_url"`
}

func parseAmount(value any) decimal.Decimal {
	switch typed := value.(type) {
	case float64:
		return decimal.NewFromFloat(typed)
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(typed), ",", "")
		if cleaned == "" {
			return decimal.Zero
		}
		parsed, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero
		}
		return parsed
	case json.Number:
		parsed, err := decimal.NewFromString(typed.String())
		if err != nil {
			return decimal.Zero
		}
		return parsed
	default:
		return decimal.Zero
	}
}

func serverMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return envelope.Message
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
