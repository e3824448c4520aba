package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/llm"
	"github.com/MimeLyc/podharvest/internal/metrics"
	"github.com/MimeLyc/podharvest/pkg/log"
)

// Role selects the instruction template sent with a request.
type Role string

const (
	RoleChunk Role = "chunk"
	RoleFinal Role = "final"
)

const (
	// reservedTokens is kept free for the instruction, the prefix and the reply.
	reservedTokens = 1000
	charsPerToken  = 4
	truncationGap  = 100

	TruncationMarker = "\n\n[Note: Content truncated to fit context length]"
)

var userPrefixes = map[Role]string{
	RoleChunk: "Please summarize this transcript chunk:\n\n",
	RoleFinal: "Please create a final comprehensive summary based on these chunk summaries:\n\n",
}

// Chatter is the part of the chat client the summarizer needs.
type Chatter interface {
	SimpleChat(ctx context.Context, prompt string, opts *llm.ChatCompletionOptions) (string, error)
}

// Client calls the summarization service with retries and context truncation.
type Client struct {
	settings config.Summarizer
	chat     Chatter
	wait     func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client talking to settings.ServerURL.
func NewClient(settings config.Summarizer) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrConfig, "invalid summarizer settings")
	}
	chat, err := llm.NewClient(settings.LLMConfig())
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrConfig, "cannot create chat client")
	}
	return NewClientWithChat(settings, chat), nil
}

// NewClientWithChat uses chat for requests instead of an HTTP client.
func NewClientWithChat(settings config.Summarizer, chat Chatter) *Client {
	return &Client{
		settings: settings,
		chat:     chat,
		wait:     sleepContext,
	}
}

func (c *Client) SummarizeChunk(ctx context.Context, text string) (string, error) {
	return c.summarize(ctx, RoleChunk, text)
}

func (c *Client) SummarizeFinal(ctx context.Context, combined string) (string, error) {
	return c.summarize(ctx, RoleFinal, combined)
}

func (c *Client) summarize(ctx context.Context, role Role, text string) (string, error) {
	systemPrompt := c.settings.SystemPrompts[string(role)]
	if strings.TrimSpace(systemPrompt) == "" {
		return "", apperr.Newf(apperr.ErrConfig, "no system prompt for role %s", role)
	}

	prompt := userPrefixes[role] + Truncate(text, c.settings.ContextLength)
	opts := llm.NewChatCompletionOptions().
		WithSystemPrompt(systemPrompt).
		WithTemperature(c.settings.Temperature).
		WithMaxTokens(c.settings.LLMConfig().MaxTokens)

	attempts := c.settings.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			metrics.RecordRetry(string(role))
			if err := c.wait(ctx, c.settings.RetryWait()); err != nil {
				lastErr = err
				break
			}
		}

		log.Debug("Calling summarization service for %s summary (attempt %d/%d)", role, attempt, attempts)
		start := time.Now()
		out, err := c.chat.SimpleChat(ctx, prompt, opts)
		metrics.RecordSummaryAttempt(string(role), time.Since(start).Seconds())

		if err == nil {
			if out = strings.TrimSpace(out); out != "" {
				metrics.RecordSummaryResult(string(role), "ok")
				return out, nil
			}
			err = llm.ErrNoCompletion
		}
		lastErr = err
		log.Warn("%s summary attempt %d/%d failed: %v", role, attempt, attempts, err)

		if ctx.Err() != nil {
			break
		}
	}

	metrics.RecordSummaryResult(string(role), "failed")
	return "", apperr.Wrap(lastErr, apperr.ErrTransport, fmt.Sprintf("%s summary failed after %d attempt(s)", role, attempts)).
		WithContext("role", string(role))
}

// Truncate cuts text to fit a context of contextLength tokens, estimating
// four characters per token and reserving room for the prompt and reply.
// A cut text ends with TruncationMarker.
func Truncate(text string, contextLength int) string {
	maxChars := (contextLength - reservedTokens) * charsPerToken
	if maxChars <= truncationGap || utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	runes := []rune(text)
	return string(runes[:maxChars-truncationGap]) + TruncationMarker
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
