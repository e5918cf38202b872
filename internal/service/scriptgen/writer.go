package scriptgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/models"
)

var ErrBadOutput = errors.New("model returned unusable scripts")

const systemPrompt = "You write short-form video ad narration scripts. " +
	"Each script is read aloud over product footage in 15 to 30 seconds. " +
	"Reply with JSON only."

// Request describes the scripts to write
type Request struct {
	Count    int    `json:"count"`
	Product  string `json:"product"`
	Guidance string `json:"guidance"`
	Market   string `json:"market"`
}

// Writer drafts narration scripts with a chat-completions model
type Writer struct {
	client openai.Client
	cfg    *config.OpenAIConfig
	logger *zap.Logger
}

func NewWriter(cfg *config.OpenAIConfig, logger *zap.Logger, extra ...option.RequestOption) *Writer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)
	return &Writer{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "scriptgen")),
	}
}

type scriptsResponse struct {
	Scripts []struct {
		Title         string   `json:"title"`
		Content       string   `json:"content"`
		Reasoning     string   `json:"reasoning"`
		TargetMetrics []string `json:"target_metrics"`
	} `json:"scripts"`
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d distinct scripts", req.Count)
	if req.Product != "" {
		fmt.Fprintf(&b, " for %s", req.Product)
	}
	if req.Market != "" {
		fmt.Fprintf(&b, " for the %s market, in its language", req.Market)
	}
	b.WriteString(".\n")
	if req.Guidance != "" {
		fmt.Fprintf(&b, "Guidance: %s\n", req.Guidance)
	}
	b.WriteString("Every title must be unique. ")
	b.WriteString(`Output format: {"scripts":[{"title":"...","content":"...","reasoning":"...","target_metrics":["ctr"]}]}`)
	return b.String()
}

// Write returns exactly req.Count drafts with non-empty, unique titles
func (w *Writer) Write(ctx context.Context, req Request) ([]models.ScriptDraft, error) {
	if req.Count <= 0 {
		return nil, fmt.Errorf("script count must be positive, got %d", req.Count)
	}

	resp, err := w.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(req)),
		},
		Model:       w.cfg.Model,
		Temperature: openai.Float(w.cfg.Temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate scripts: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrBadOutput)
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed scriptsResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadOutput, err)
	}
	if len(parsed.Scripts) < req.Count {
		return nil, fmt.Errorf("%w: asked for %d scripts, got %d", ErrBadOutput, req.Count, len(parsed.Scripts))
	}

	drafts := make([]models.ScriptDraft, 0, req.Count)
	seen := make(map[string]bool, req.Count)
	for i, s := range parsed.Scripts[:req.Count] {
		title := strings.TrimSpace(s.Title)
		content := strings.TrimSpace(s.Content)
		if title == "" || content == "" {
			return nil, fmt.Errorf("%w: script %d has an empty title or content", ErrBadOutput, i)
		}
		key := strings.ToLower(strings.Join(strings.Fields(title), " "))
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate title %q", ErrBadOutput, title)
		}
		seen[key] = true
		drafts = append(drafts, models.ScriptDraft{
			Title:         title,
			Content:       content,
			Reasoning:     strings.TrimSpace(s.Reasoning),
			TargetMetrics: s.TargetMetrics,
		})
	}

	w.logger.Info("Scripts generated",
		zap.Int("count", len(drafts)),
		zap.String("market", req.Market),
		zap.Int64("tokens", resp.Usage.TotalTokens))
	return drafts, nil
}
