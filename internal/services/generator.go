package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/slidesmith/slidesmith-backend/internal/apierr"
	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

// SlideOutline is one planned slide before any markup exists.
type SlideOutline struct {
	Order   int    `json:"order"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Notes   string `json:"notes"`
}

type GenerateRequest struct {
	Title          string
	Outline        string
	PresenterNotes string
	Template       string
}

// ContentGenerator is the opaque LLM capability. Both operations are
// retryable; failures surface as apierr.GenerationError and the job worker
// owns the backoff schedule.
type ContentGenerator interface {
	Plan(ctx context.Context, prompt string, stylePrefs map[string]any) ([]SlideOutline, error)
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

type GeneratorConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type openAIGenerator struct {
	client *resty.Client
	model  string
	log    *logger.Logger
}

// NewOpenAIGenerator talks to any OpenAI-compatible chat-completions
// endpoint.
func NewOpenAIGenerator(log *logger.Logger, cfg GeneratorConfig) ContentGenerator {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey)
	return &openAIGenerator{
		client: client,
		model:  cfg.Model,
		log:    log.With("service", "ContentGenerator"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

const planSystemPrompt = `You plan slide decks. Respond with a JSON object:
{"slides": [{"order": 1, "title": "...", "content": "...", "notes": "..."}]}
Orders start at 1 and are contiguous. Keep content to short outline points.`

func (g *openAIGenerator) Plan(ctx context.Context, prompt string, stylePrefs map[string]any) ([]SlideOutline, error) {
	userPrompt := prompt
	if len(stylePrefs) > 0 {
		if raw, err := json.Marshal(stylePrefs); err == nil {
			userPrompt = fmt.Sprintf("%s\n\nStyle preferences: %s", prompt, raw)
		}
	}
	content, err := g.complete(ctx, planSystemPrompt, userPrompt, true)
	if err != nil {
		return nil, apierr.NewGeneration("plan", err)
	}

	var parsed struct {
		Slides []SlideOutline `json:"slides"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, apierr.NewGeneration("plan", fmt.Errorf("malformed outline payload: %w", err))
	}
	if len(parsed.Slides) == 0 {
		return nil, apierr.NewGeneration("plan", fmt.Errorf("planner returned no slides"))
	}
	if len(parsed.Slides) > types.MaxSlidesPerDeck {
		parsed.Slides = parsed.Slides[:types.MaxSlidesPerDeck]
	}
	for i := range parsed.Slides {
		parsed.Slides[i].Order = i + 1
		parsed.Slides[i].Title = strings.TrimSpace(parsed.Slides[i].Title)
	}
	return parsed.Slides, nil
}

const generateSystemPrompt = `You write the HTML body for a single presentation slide.
Respond with HTML only: one <section> element, no scripts, no external resources.`

func (g *openAIGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	userPrompt := fmt.Sprintf(
		"Template: %s\nTitle: %s\nOutline:\n%s\nPresenter notes:\n%s",
		req.Template, req.Title, req.Outline, req.PresenterNotes,
	)
	content, err := g.complete(ctx, generateSystemPrompt, userPrompt, false)
	if err != nil {
		return "", apierr.NewGeneration("generate", err)
	}
	markup := SanitizeMarkup(content)
	if strings.TrimSpace(markup) == "" {
		return "", apierr.NewGeneration("generate", fmt.Errorf("generator returned blank markup"))
	}
	return markup, nil
}

func (g *openAIGenerator) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	body := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	if jsonMode {
		body.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	var out chatResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("completion request failed: %s", msg)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

var (
	scriptTagRe = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	iframeTagRe = regexp.MustCompile(`(?is)<iframe\b.*?(?:</iframe>|/>)`)
	eventAttrRe = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`)
	jsURLRe     = regexp.MustCompile(`(?i)(href|src)\s*=\s*(?:"javascript:[^"]*"|'javascript:[^']*')`)
	codeFenceRe = regexp.MustCompile("(?s)^```(?:html)?\\s*(.*?)\\s*```$")
)

// SanitizeMarkup strips active content from generated HTML before it is
// persisted. Generators also like to wrap output in markdown fences; unwrap
// those first.
func SanitizeMarkup(markup string) string {
	markup = strings.TrimSpace(markup)
	if m := codeFenceRe.FindStringSubmatch(markup); m != nil {
		markup = m[1]
	}
	markup = scriptTagRe.ReplaceAllString(markup, "")
	markup = iframeTagRe.ReplaceAllString(markup, "")
	markup = eventAttrRe.ReplaceAllString(markup, "")
	markup = jsURLRe.ReplaceAllString(markup, `$1="#"`)
	return strings.TrimSpace(markup)
}
