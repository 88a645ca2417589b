// Package ai wraps the optional Gemini-backed risk assessor. It only ever
// augments the deterministic verdict: failures and missing keys mean no
// assessment, never a failed scan.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/infosmartsaveusa-bit/pdsss/internal/config"
)

// Evidence is the page material handed to the model.
type Evidence struct {
	URL        string
	Title      string
	Indicators []string
	TextSample string
}

// Assessment is the model's verdict.
type Assessment struct {
	Risk      int    `json:"risk"`
	Rationale string `json:"rationale"`
}

// Assessor calls the Gemini API.
type Assessor struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     *zap.Logger
}

// New creates an Assessor, or (nil, nil) when no API key is configured.
func New(ctx context.Context, cfg config.AIConfig, log *zap.Logger) (*Assessor, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	return &Assessor{
		client:  client,
		model:   model,
		timeout: cfg.TimeoutDuration(),
		log:     log,
	}, nil
}

const promptTemplate = `You are a phishing analyst. Given the evidence below,
rate the likelihood (0-100) that the page is a phishing attempt and give a
one-sentence rationale. Respond with JSON only: {"risk": <int>, "rationale": <string>}.

URL: %s
Title: %s
Indicators:
%s
Visible text sample:
%s`

// Assess asks the model to rate the evidence. Returns (nil, err) on any
// transport or parse failure; callers treat that as "no assessment".
func (a *Assessor) Assess(ctx context.Context, ev Evidence) (*Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	indicators := "- none"
	if len(ev.Indicators) > 0 {
		indicators = "- " + strings.Join(ev.Indicators, "\n- ")
	}
	sample := ev.TextSample
	if len(sample) > 2000 {
		sample = sample[:2000]
	}

	prompt := fmt.Sprintf(promptTemplate, ev.URL, ev.Title, indicators, sample)

	result, err := a.client.Models.GenerateContent(ctx, a.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	text := result.Text()
	assessment, err := parseAssessment(text)
	if err != nil {
		a.log.Warn("ai assessment unparseable", zap.String("raw", text), zap.Error(err))
		return nil, err
	}

	a.log.Debug("ai assessment",
		zap.String("url", ev.URL),
		zap.Int("risk", assessment.Risk))
	return assessment, nil
}

// parseAssessment decodes the model's JSON reply, tolerating code fences.
func parseAssessment(raw string) (*Assessment, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var out Assessment
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	if out.Risk < 0 {
		out.Risk = 0
	}
	if out.Risk > 100 {
		out.Risk = 100
	}
	return &out, nil
}
