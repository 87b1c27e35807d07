// Package summary generates the narrative risk summary attached to a new
// patient record, using the Gemini generateContent REST endpoint.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/neuroscribe/internal/domain/patient"
)

const (
	DefaultModel   = "gemini-2.5-flash"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTimeout = 30 * time.Second

	// FallbackSummary is returned whenever a summary cannot be generated.
	FallbackSummary = "Could not generate AI summary at this time."
)

var (
	ErrNoAPIKey      = errors.New("gemini api key not configured")
	ErrEmptyResponse = errors.New("gemini returned no text")
)

type geminiRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

var promptTemplate = template.Must(template.New("prompt").Parse(`
Analyze the following clinical data for a patient and provide a brief, easy-to-understand summary highlighting potential risk factors for cognitive decline, based on established medical knowledge.
DO NOT provide a diagnosis or medical advice. The summary should be neutral and informative for a medical professional.
Focus on how the values (e.g., MMSE, CDR) relate to typical benchmarks.

Clinical Data:
- Age: {{.Age}}
- Sex: {{.Sex}}
- Mini-Mental State Examination (MMSE) Score: {{.MMSE}} (out of 30)
- Clinical Dementia Rating (CDR) Score: {{.CDR}}
- Estimated Total Intracranial Volume (eTIV): {{.ETIV}}
- Normalized Whole Brain Volume (nWBV): {{.NWBV}}
- Atlas Scaling Factor (ASF): {{.ASF}}

Begin the summary with "Patient presents with..."
`))

// Prompt renders the instruction sent to the model for data.
func Prompt(data patient.ClinicalData) string {
	var buf bytes.Buffer
	// Execute only fails on template or writer errors, neither possible here.
	_ = promptTemplate.Execute(&buf, data)
	return buf.String()
}

// Config configures a Client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client calls Gemini. It implements patient.SummaryGenerator.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
	onFallback func(reason error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l.With().Str("component", "summary").Logger() }
}

// OnFallback registers fn to be called each time the fallback text is used.
func OnFallback(fn func(reason error)) Option {
	return func(c *Client) { c.onFallback = fn }
}

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		logger:     zerolog.Nop(),
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateSummary returns the model's summary of data, or FallbackSummary
// if anything goes wrong. It never fails.
func (c *Client) GenerateSummary(ctx context.Context, data patient.ClinicalData) string {
	text, err := c.Generate(ctx, Prompt(data))
	if err != nil {
		c.logger.Error().Err(err).Str("model", c.model).Msg("clinical summary generation failed")
		if c.onFallback != nil {
			c.onFallback(err)
		}
		return FallbackSummary
	}
	return text
}

// Generate sends prompt to the model and returns the concatenated text of
// the first candidate.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
