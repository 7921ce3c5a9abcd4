// Package llm defines the provider-neutral generation interface used by the
// extraction engine, with adapters for Gemini and Anthropic.
package llm

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fandom-graph/internal/resilience"
)

// Client generates content from a prompt.
type Client interface {
	GenerateContent(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// GenerateContent calls f.
func (f ClientFunc) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Image is inline image data.
type Image struct {
	Data     []byte
	MIMEType string
}

// Config controls generation.
type Config struct {
	Temperature      float32
	MaxOutputTokens  int
	ResponseMIMEType string
	// PermissiveSafety turns off provider content filters where supported.
	PermissiveSafety bool
	EnableSearch     bool
}

// Request is a single-turn generation request. An empty Model selects the
// adapter's default.
type Request struct {
	Model  string
	Prompt string
	System string
	Images []Image
	Config Config
}

// Usage reports token consumption.
type Usage struct {
	Input  int
	Output int
}

// Response is the generated text plus accounting.
type Response struct {
	Text      string
	Model     string
	Usage     Usage
	Truncated bool
}

// JSONConfig is the deterministic configuration used for structured
// extraction.
func JSONConfig(maxOutputTokens int) Config {
	return Config{
		Temperature:      0,
		MaxOutputTokens:  maxOutputTokens,
		ResponseMIMEType: "application/json",
		PermissiveSafety: true,
	}
}

// ErrImagesUnsupported is returned by providers without vision input.
var ErrImagesUnsupported = eris.New("llm: provider does not accept images")

// classify marks retryable provider failures as transient.
func classify(err error, status int, op string) error {
	wrapped := eris.Wrap(err, op)
	if resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(wrapped, status)
	}
	if status == 0 && resilience.IsTransient(err) {
		return resilience.NewTransientError(wrapped, 0)
	}
	if status == http.StatusBadRequest {
		return resilience.NewValidationError("prompt", wrapped.Error())
	}
	return wrapped
}
