package llm

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fandom-graph/internal/config"
	"github.com/sells-group/fandom-graph/pkg/anthropic"
	"github.com/sells-group/fandom-graph/pkg/gemini"
)

type geminiAdapter struct {
	client gemini.Client
	model  string
}

// NewGemini adapts a Gemini client.
func NewGemini(client gemini.Client, defaultModel string) Client {
	return &geminiAdapter{client: client, model: defaultModel}
}

func (a *geminiAdapter) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	temp := req.Config.Temperature
	greq := gemini.Request{
		Model:           model,
		System:          req.System,
		Prompt:          req.Prompt,
		Temperature:     &temp,
		MaxOutputTokens: int32(req.Config.MaxOutputTokens),
		JSON:            req.Config.ResponseMIMEType == "application/json",
		BlockNone:       req.Config.PermissiveSafety,
		Search:          req.Config.EnableSearch,
	}
	for _, img := range req.Images {
		greq.Images = append(greq.Images, gemini.Image{Data: img.Data, MIMEType: img.MIMEType})
	}

	resp, err := a.client.Generate(ctx, greq)
	if err != nil {
		return nil, classify(err, gemini.StatusCode(err), "llm: gemini generate")
	}
	return &Response{
		Text:      resp.Text,
		Model:     model,
		Usage:     Usage{Input: resp.Usage.PromptTokens, Output: resp.Usage.OutputTokens},
		Truncated: resp.Truncated(),
	}, nil
}

type anthropicAdapter struct {
	client anthropic.Client
	model  string
}

// NewAnthropic adapts an Anthropic client. Images and search are not
// supported; the system prompt is sent as a cached block.
func NewAnthropic(client anthropic.Client, defaultModel string) Client {
	return &anthropicAdapter{client: client, model: defaultModel}
}

func (a *anthropicAdapter) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	if len(req.Images) > 0 {
		return nil, ErrImagesUnsupported
	}
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := int64(req.Config.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temp := float64(req.Config.Temperature)
	areq := anthropic.MessageRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	}
	if req.System != "" {
		areq.System = anthropic.CachedSystem(req.System)
	}

	resp, err := a.client.CreateMessage(ctx, areq)
	if err != nil {
		return nil, classify(err, anthropic.StatusCode(err), "llm: anthropic create message")
	}
	return &Response{
		Text:  resp.Text(),
		Model: model,
		Usage: Usage{
			Input:  int(resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens),
			Output: int(resp.Usage.OutputTokens),
		},
		Truncated: resp.Truncated(),
	}, nil
}

// Clients holds the text client and, when available, a vision client.
type Clients struct {
	Text   Client
	Vision Client
	// TextModel and VisionModel are the default model names, used for cost
	// accounting.
	TextModel   string
	VisionModel string
}

// NewFromConfig builds the configured provider. Vision always uses Gemini
// when a Gemini key is present.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Clients, error) {
	out := &Clients{}

	var gc gemini.Client
	if cfg.Gemini.Key != "" {
		c, err := gemini.NewClient(ctx, cfg.Gemini.Key)
		if err != nil {
			return nil, eris.Wrap(err, "llm: gemini client")
		}
		gc = c
		out.VisionModel = cfg.Gemini.VisionModel
		if out.VisionModel == "" {
			out.VisionModel = cfg.Gemini.Model
		}
		out.Vision = NewGemini(gc, out.VisionModel)
	}

	switch cfg.LLM.Provider {
	case "", "gemini":
		if gc == nil {
			return nil, eris.New("llm: gemini.key is required for provider gemini")
		}
		out.Text = NewGemini(gc, cfg.Gemini.Model)
		out.TextModel = cfg.Gemini.Model
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("llm: anthropic.key is required for provider anthropic")
		}
		out.Text = NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
		out.TextModel = cfg.Anthropic.Model
	default:
		return nil, eris.New(fmt.Sprintf("llm: unsupported provider %q", cfg.LLM.Provider))
	}
	return out, nil
}
