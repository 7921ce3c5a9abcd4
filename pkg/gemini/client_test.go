package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func newTestClient(t *testing.T, url string) Client {
	t.Helper()
	c, err := NewClient(context.Background(), "test-key", WithBaseURL(url), WithHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	return c
}

func TestGenerate(t *testing.T) {
	var body map[string]any
	var path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"parts": [{"text": "{\"clusters\":[]}"}], "role": "model"},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 120, "candidatesTokenCount": 8, "totalTokenCount": 128}
		}`))
	}))
	defer ts.Close()

	temp := float32(0.2)
	resp, err := newTestClient(t, ts.URL).Generate(context.Background(), Request{
		Model:           "gemini-2.5-flash",
		System:          "you map fandoms",
		Prompt:          "map @nike",
		Temperature:     &temp,
		MaxOutputTokens: 512,
		JSON:            true,
		BlockNone:       true,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(path, "models/gemini-2.5-flash:generateContent"), path)
	assert.Equal(t, `{"clusters":[]}`, resp.Text)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.False(t, resp.Truncated())
	assert.Equal(t, 120, resp.Usage.PromptTokens)
	assert.Equal(t, 8, resp.Usage.OutputTokens)

	gen, ok := body["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig missing: %v", body)
	assert.Equal(t, "application/json", gen["responseMimeType"])
	safety, ok := body["safetySettings"].([]any)
	require.True(t, ok)
	assert.Len(t, safety, 4)
	assert.NotNil(t, body["systemInstruction"])
}

func TestGenerate_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).Generate(context.Background(), Request{
		Model:  "gemini-2.5-flash",
		Prompt: "hi",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini: generate content")
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		req       Request
		wantMIME  string
		wantTools int
		wantSafe  int
	}{
		{"plain", Request{}, "", 0, 0},
		{"json", Request{JSON: true}, "application/json", 0, 0},
		{"search drops json", Request{JSON: true, Search: true}, "", 1, 0},
		{"block none", Request{BlockNone: true}, "", 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := buildConfig(tt.req)
			assert.Equal(t, tt.wantMIME, cfg.ResponseMIMEType)
			assert.Len(t, cfg.Tools, tt.wantTools)
			assert.Len(t, cfg.SafetySettings, tt.wantSafe)
		})
	}
}

func TestBuildContentsPutsImagesFirst(t *testing.T) {
	t.Parallel()

	contents := buildContents(Request{
		Prompt: "describe",
		Images: []Image{{Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"}},
	})
	require.Len(t, contents, 1)
	parts := contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/jpeg", parts[0].InlineData.MIMEType)
	assert.Equal(t, "describe", parts[1].Text)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 429, StatusCode(genai.APIError{Code: 429}))
	assert.Zero(t, StatusCode(assert.AnError))
}
