// Package ai implements integration with Google's Gemini API.
// It scores message importance, translates message text, and composes
// digest summaries.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"wadigest/internal/config"
	"wadigest/internal/database"
)

// defaultImportance is used when the model response cannot be parsed.
const defaultImportance = 3

// ChatDigest groups the messages of one monitored chat for digest composition.
type ChatDigest struct {
	ChatName string
	Messages []database.WhatsAppMessage
}

// Client defines the interface for AI operations used throughout the service.
type Client interface {
	// AnalyzeImportance rates a message from 1 (noise) to 5 (urgent).
	AnalyzeImportance(ctx context.Context, content, chatName, sender string, hasMedia bool) (int, error)

	// Translate renders message text into Russian. Callers fall back to the
	// original text when it fails.
	Translate(ctx context.Context, content string) (string, error)

	// CreateDigest composes a digest summary from messages grouped by chat.
	CreateDigest(ctx context.Context, chats []ChatDigest) (string, error)
}

type sdkClient struct {
	genaiClient      *genai.Client
	log              *slog.Logger
	contentConfig    *genai.GenerateContentConfig
	defaultModelName string
	maxRetries       int
	retryDelay       time.Duration
}

// NewClient creates a new Gemini AI client with the provided configuration.
func NewClient(ctx context.Context, cfg config.AIConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AI API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	baseCfg := &genai.GenerateContentConfig{
		Temperature: &cfg.Temperature,

		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	logger := log.With("component", "ai_client")
	logger.Info("AI client initialized successfully", "model", cfg.ModelName)
	return &sdkClient{
		genaiClient:      gi,
		log:              logger,
		contentConfig:    baseCfg,
		defaultModelName: cfg.ModelName,
		maxRetries:       cfg.MaxRetries,
		retryDelay:       time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}, nil
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.defaultModelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "AI API call failed, checking for retry",
			"attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) { // Retriable HTTP codes
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying AI API call", "delay", c.retryDelay, "code", apiErr.Code)
				time.Sleep(c.retryDelay)
				continue
			}
			c.log.ErrorContext(ctx, "AI API call failed after max retries", "error", err, "code", apiErr.Code)
			return nil, fmt.Errorf("AI API call failed after %d retries (APIError code %d): %w", c.maxRetries, apiErr.Code, err)
		}

		c.log.ErrorContext(ctx, "AI API call failed with non-retriable error", "error", err)
		return nil, fmt.Errorf("AI API call failed: %w", err)
	}
	return nil, err
}

func (c *sdkClient) generateText(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := c.generateContentWithRetries(ctx, contents, c.contentConfig)
	if err != nil {
		return "", err
	}
	return c.extractTextFromResponse(ctx, resp)
}

func (c *sdkClient) AnalyzeImportance(ctx context.Context, content, chatName, sender string, hasMedia bool) (int, error) {
	media := "no"
	if hasMedia {
		media = "yes"
	}
	prompt := fmt.Sprintf(ImportancePrompt, chatName, sender, media, content)

	text, err := c.generateText(ctx, prompt)
	if err != nil {
		c.log.ErrorContext(ctx, "Importance analysis failed", "error", err)
		return 0, fmt.Errorf("importance analysis failed: %w", err)
	}

	score := parseImportance(text)
	c.log.DebugContext(ctx, "Importance analyzed", "score", score, "raw", text)
	return score, nil
}

func (c *sdkClient) Translate(ctx context.Context, content string) (string, error) {
	text, err := c.generateText(ctx, fmt.Sprintf(TranslatePrompt, content))
	if err != nil {
		c.log.ErrorContext(ctx, "Translation failed", "error", err)
		return "", fmt.Errorf("translation failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (c *sdkClient) CreateDigest(ctx context.Context, chats []ChatDigest) (string, error) {
	if len(chats) == 0 {
		return "", fmt.Errorf("no chats provided for digest")
	}

	var sb strings.Builder
	for _, chat := range chats {
		fmt.Fprintf(&sb, "=== %s ===\n", chat.ChatName)
		for _, m := range chat.Messages {
			fmt.Fprintf(&sb, "[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.Sender, m.Content)
		}
		sb.WriteString("\n")
	}

	text, err := c.generateText(ctx, fmt.Sprintf(DigestPrompt, sb.String()))
	if err != nil {
		c.log.ErrorContext(ctx, "Digest composition failed", "error", err)
		return "", fmt.Errorf("digest composition failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

var importanceDigitRe = regexp.MustCompile(`[1-5]`)

// parseImportance extracts the score from a model response. The prompt asks
// for a bare digit, but models occasionally wrap it in prose, so the first
// digit in range wins. Unparseable responses fall back to a neutral score.
func parseImportance(text string) int {
	trimmed := strings.TrimSpace(text)

	if n, err := strconv.Atoi(trimmed); err == nil {
		if n < 1 {
			return 1
		}
		if n > 5 {
			return 5
		}
		return n
	}

	if m := importanceDigitRe.FindString(trimmed); m != "" {
		n, _ := strconv.Atoi(m)
		return n
	}

	return defaultImportance
}

func (c *sdkClient) extractTextFromResponse(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "AI request blocked", "reason", reasonMsg)
		return "", fmt.Errorf("request blocked by safety filter: %s", reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "AI response missing candidates or content", "finish_reason", finishReason)
		return "", fmt.Errorf("model returned no content, finish reason: %s", finishReason)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("model returned empty text")
	}
	return text, nil
}
