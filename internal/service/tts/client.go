package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/service/pipeline"
)

const outputFormat = "mp3_44100_128"

// Client synthesizes narration with an ElevenLabs-compatible HTTP API.
// Durations are left at zero; the pipeline probes the written file.
type Client struct {
	cfg    *config.TTSConfig
	client *http.Client
	logger *zap.Logger
}

func NewClient(cfg *config.TTSConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: config.Duration(cfg.Timeout)},
		logger: logger.With(zap.String("component", "tts")),
	}
}

var _ pipeline.Synthesizer = (*Client)(nil)

type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (c *Client) Synthesize(ctx context.Context, text, voiceID, outputPath string) (*pipeline.Audio, error) {
	if voiceID == "" {
		voiceID = c.cfg.DefaultVoice
	}
	if voiceID == "" {
		return nil, fmt.Errorf("voice id is required")
	}

	body, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       c.cfg.ModelID,
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(voiceID), outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tts returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio file: %w", err)
	}
	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(outputPath)
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}
	if written == 0 {
		os.Remove(outputPath)
		return nil, fmt.Errorf("tts returned empty audio")
	}

	c.logger.Debug("Audio synthesized",
		zap.String("voice_id", voiceID),
		zap.Int("chars", len(text)),
		zap.Int64("bytes", written))
	return &pipeline.Audio{Path: outputPath}, nil
}
