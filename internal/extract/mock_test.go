package extract

import (
	"context"
	"strings"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/fandom-graph/internal/llm"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/promptctx"
	"github.com/sells-group/fandom-graph/internal/resilience"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) GenerateContent(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

// forMode matches requests whose prompt was rendered for mode.
func forMode(mode Mode) any {
	return mock.MatchedBy(func(r llm.Request) bool {
		return strings.HasPrefix(r.Prompt, "Analysis mode: "+string(mode)+"\n")
	})
}

func reply(text string) *llm.Response {
	return &llm.Response{Text: text, Model: "test-model", Usage: llm.Usage{Input: 100, Output: 20}}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
		OnRetry:        func(int, error) {},
	}
}

func newTestEngine(client llm.Client) *Engine {
	return New(client,
		WithModel("test-model"),
		WithRetry(fastRetry()),
		WithAuditor(NewAuditor(nil, "", fastRetry())),
	)
}

func grounded(handle string) model.Provenance {
	return model.Provenance{
		Citation:    "profile bio of @" + handle,
		SearchQuery: handle + " marathon",
		SourceURL:   "https://www.instagram.com/" + handle + "/",
		Evidence:    "bio mentions weekly marathon training sessions",
		Confidence:  80,
	}
}

const groundedJSON = `"citation": "profile bio line", "searchQuery": "marathon training", "sourceUrl": "https://www.instagram.com/alice/", "evidence": "bio mentions weekly marathon training sessions"`

func testContext() *promptctx.Context {
	entries := []promptctx.Entry{
		{Profile: model.ProfileRecord{Username: "alice", Biography: "Marathon coach"}, Frequency: 2, Sources: []string{"step_2"}},
		{Profile: model.ProfileRecord{Username: "bob", Biography: "Trail runner"}, Frequency: 1, Sources: []string{"step_2"}},
		{Profile: model.ProfileRecord{Username: "carol", Biography: "Physio"}, Frequency: 1, Sources: []string{"step_3"}},
	}
	return promptctx.Build(entries, promptctx.NewRegistry(), promptctx.DefaultOptions())
}
