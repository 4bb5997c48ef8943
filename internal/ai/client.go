// Package ai calls the generative analysis service that turns an assessment
// request into risks, a Markdown report and digital sub-scores.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidAPIKey means the service rejected the configured key.
	ErrInvalidAPIKey = errors.New("ai: api key not valid")
	// ErrRateLimited means the service is throttling or out of quota.
	ErrRateLimited = errors.New("ai: rate limit exceeded")
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"
	temperature    = 0.2
)

// Config holds connection details.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Request is one analysis request. ImageBase64 and MimeType travel together.
type Request struct {
	Prompt      string
	URL         string
	ImageBase64 string
	MimeType    string
}

// PlaceRecommendation is the display-only location the service may suggest.
type PlaceRecommendation struct {
	Location string `json:"location"`
	Caption  string `json:"caption"`
}

// Client talks to the Gemini generateContent REST endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// ---------------------------------------------------------------------------
// WIRE TYPES
// ---------------------------------------------------------------------------

type part struct {
	Text         string        `json:"text,omitempty"`
	InlineData   *inlineData   `json:"inlineData,omitempty"`
	FunctionCall *functionCall `json:"functionCall,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type schema struct {
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Properties  map[string]schema `json:"properties,omitempty"`
	Required    []string          `json:"required,omitempty"`
}

type functionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  schema `json:"parameters"`
}

type tool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction content          `json:"systemInstruction"`
	Tools             []tool           `json:"tools,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Reason string `json:"reason"`
		} `json:"details"`
	} `json:"error"`
}

// ---------------------------------------------------------------------------
// ANALYSIS
// ---------------------------------------------------------------------------

// Analyze sends req and parses the structured assessment out of the answer.
func (c *Client) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("ai: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ai: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, raw)
	}

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return nil, fmt.Errorf("ai: decode envelope: %w", err)
	}
	if len(gen.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates returned", ErrMalformedResponse)
	}

	var text strings.Builder
	var place *PlaceRecommendation
	for _, p := range gen.Candidates[0].Content.Parts {
		if p.FunctionCall != nil && p.FunctionCall.Name == recommendPlaceName {
			if loc, ok := p.FunctionCall.Args["location"].(string); ok {
				caption, _ := p.FunctionCall.Args["caption"].(string)
				place = &PlaceRecommendation{Location: loc, Caption: caption}
			}
			continue
		}
		text.WriteString(p.Text)
	}

	analysis, err := ParseAnalysis(text.String())
	if err != nil {
		return nil, err
	}
	analysis.Place = place
	return analysis, nil
}

func buildRequest(req Request) generateRequest {
	urlText := req.URL
	if urlText == "" {
		urlText = "Not provided"
	}
	text := part{Text: fmt.Sprintf("URL: %s\n\nPrompt: %s", urlText, req.Prompt)}

	parts := []part{text}
	if req.ImageBase64 != "" && req.MimeType != "" {
		parts = append([]part{{InlineData: &inlineData{MimeType: req.MimeType, Data: req.ImageBase64}}}, parts...)
	} else if req.Prompt == "" {
		parts[0].Text = defaultImagePrompt
	}

	return generateRequest{
		Contents:          []content{{Role: "user", Parts: parts}},
		SystemInstruction: content{Parts: []part{{Text: SystemInstruction}}},
		Tools:             []tool{{FunctionDeclarations: []functionDeclaration{recommendPlaceDeclaration}}},
		GenerationConfig: generationConfig{
			Temperature:      temperature,
			ResponseMimeType: "application/json",
		},
	}
}

func classifyError(status int, raw []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)
	msg := strings.ToLower(apiErr.Error.Message)

	for _, d := range apiErr.Error.Details {
		if d.Reason == "API_KEY_INVALID" {
			return fmt.Errorf("%w: %s", ErrInvalidAPIKey, apiErr.Error.Message)
		}
	}
	switch {
	case strings.Contains(msg, "api key not valid"):
		return fmt.Errorf("%w: %s", ErrInvalidAPIKey, apiErr.Error.Message)
	case status == http.StatusTooManyRequests,
		apiErr.Error.Status == "RESOURCE_EXHAUSTED",
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Error.Message)
	}
	return fmt.Errorf("ai error %d: %s", status, string(raw))
}
