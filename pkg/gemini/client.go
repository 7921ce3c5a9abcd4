// Package gemini wraps the Gemini generateContent API.
package gemini

import (
	"context"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

// Client defines the Gemini operations used for extraction and vision.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Image is inline image data sent with a prompt.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is a single-turn generation request.
type Request struct {
	Model           string
	System          string
	Prompt          string
	Images          []Image
	Temperature     *float32
	MaxOutputTokens int32
	// JSON asks for an application/json response.
	JSON bool
	// BlockNone disables the default safety filters.
	BlockNone bool
	// Search enables Google Search grounding.
	Search bool
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens int
	OutputTokens int
	TotalTokens  int
}

// Response is the result of Generate.
type Response struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Truncated reports whether generation stopped at the token limit.
func (r *Response) Truncated() bool {
	return r != nil && r.FinishReason == string(genai.FinishReasonMaxTokens)
}

// StatusCode returns the HTTP status carried by an API error, or 0.
func StatusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}

// Option configures the client.
type Option func(*genai.ClientConfig)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *genai.ClientConfig) {
		c.HTTPClient = hc
	}
}

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Gemini client for the Gemini API backend.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	return &sdkClient{client: c}, nil
}

var permissiveCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

func buildConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	// Search grounding cannot be combined with a JSON response type.
	if req.JSON && !req.Search {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.BlockNone {
		for _, cat := range permissiveCategories {
			cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
				Category:  cat,
				Threshold: genai.HarmBlockThresholdBlockNone,
			})
		}
	}
	if req.Search {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}

func buildContents(req Request) []*genai.Content {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func (c *sdkClient) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, buildContents(req), buildConfig(req))
	if err != nil {
		return nil, eris.Wrapf(err, "gemini: generate content (%s)", req.Model)
	}

	out := &Response{Text: resp.Text()}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens: int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}
