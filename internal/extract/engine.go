// Package extract turns a rendered profile context into grounded analytics
// using a language model.
package extract

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/fandom-graph/internal/cost"
	"github.com/sells-group/fandom-graph/internal/llm"
	"github.com/sells-group/fandom-graph/internal/llmjson"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/promptctx"
	"github.com/sells-group/fandom-graph/internal/resilience"
)

const defaultMaxOutputTokens = 16384

// Request is one extraction. Context wins over Entries when both are set;
// otherwise Entries are rendered with a fresh registry.
type Request struct {
	Query     string
	Intent    model.Intent
	Platform  string
	Mode      Mode
	Context   *promptctx.Context
	Entries   []promptctx.Entry
	ImageURLs []string
	// Draft is the analytics audited in verification mode.
	Draft *model.Analytics
}

// Engine runs mode-specific extraction prompts against an LLM.
type Engine struct {
	client      llm.Client
	model       string
	maxOutput   int
	retry       resilience.RetryConfig
	ctxOpts     promptctx.Options
	search      bool
	calc        *cost.Calculator
	auditor     *Auditor
	vision      *VisualAnalyzer
	inputTotal  atomic.Int64
	outputTotal atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithModel sets the text model name.
func WithModel(name string) Option {
	return func(e *Engine) { e.model = name }
}

// WithMaxOutputTokens bounds each response.
func WithMaxOutputTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxOutput = n
		}
	}
}

// WithRetry overrides the retry policy for LLM calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Engine) { e.retry = cfg }
}

// WithContextOptions sets how Entries are rendered.
func WithContextOptions(opts promptctx.Options) Option {
	return func(e *Engine) { e.ctxOpts = opts }
}

// WithSearch enables the provider's search tool on extraction calls.
func WithSearch(enabled bool) Option {
	return func(e *Engine) { e.search = enabled }
}

// WithCalculator logs the cost of each call.
func WithCalculator(c *cost.Calculator) Option {
	return func(e *Engine) { e.calc = c }
}

// WithAuditor replaces the default auditor.
func WithAuditor(a *Auditor) Option {
	return func(e *Engine) { e.auditor = a }
}

// WithVision enables the visual branch.
func WithVision(v *VisualAnalyzer) Option {
	return func(e *Engine) { e.vision = v }
}

// New creates an Engine. The auditor defaults to one backed by the same client.
func New(client llm.Client, opts ...Option) *Engine {
	e := &Engine{
		client:    client,
		maxOutput: defaultMaxOutputTokens,
		retry:     resilience.LLMRetryConfig(),
		ctxOpts:   promptctx.DefaultOptions(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.retry.OnRetry == nil {
		e.retry.OnRetry = resilience.RetryLogger("llm", "generate")
	}
	if e.auditor == nil {
		e.auditor = NewAuditor(client, e.model, e.retry)
	}
	return e
}

// Usage returns the tokens consumed so far.
func (e *Engine) Usage() llm.Usage {
	return llm.Usage{Input: int(e.inputTotal.Load()), Output: int(e.outputTotal.Load())}
}

// AnalyzeFandomDeepDive runs the requested mode and returns grounded
// analytics. A failing mode yields empty analytics rather than an error;
// only invalid requests return an error.
func (e *Engine) AnalyzeFandomDeepDive(ctx context.Context, req Request) (*model.Analytics, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, resilience.NewValidationError("query", "is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeFull
	}
	if _, ok := ParseMode(string(mode)); !ok {
		return nil, resilience.NewValidationError("mode", "unknown mode "+string(mode))
	}
	req.Mode = mode

	if mode == ModeVerification {
		out := Merge(req.Draft)
		audit := e.auditor.Verify(ctx, req.Query, out)
		out.Audit = &audit
		return out, nil
	}

	pc := req.Context
	if pc == nil {
		pc = promptctx.Build(req.Entries, promptctx.NewRegistry(), e.ctxOpts)
	}

	log := zap.L().With(zap.String("mode", string(mode)), zap.Int("context_tokens", pc.EstimatedTokens))
	start := time.Now()

	var (
		analytics *model.Analytics
		visual    *model.VisualAnalysis
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if mode == ModeDeep {
			analytics = e.runDeep(gctx, req, pc)
		} else {
			analytics = e.runMode(gctx, mode, req, pc)
		}
		return nil
	})
	if e.vision != nil && len(req.ImageURLs) > 0 {
		g.Go(func() error {
			visual = e.vision.Analyze(gctx, req.ImageURLs)
			return nil
		})
	}
	_ = g.Wait()

	analytics.Visual = visual
	if !analytics.IsEmpty() {
		audit := e.auditor.Verify(ctx, req.Query, analytics)
		analytics.Audit = &audit
	}

	log.Info("extract: analysis complete",
		zap.Int("creators", len(analytics.Creators)),
		zap.Int("clusters", len(analytics.Clusters)),
		zap.Int("brands", len(analytics.Brands)),
		zap.Bool("has_tree", analytics.Root != nil),
		zap.Duration("elapsed", time.Since(start)),
	)
	return analytics, nil
}

// runDeep fans out the deep modes and merges their results in a fixed order.
func (e *Engine) runDeep(ctx context.Context, req Request, pc *promptctx.Context) *model.Analytics {
	parts := make([]*model.Analytics, len(deepModes))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range deepModes {
		g.Go(func() error {
			parts[i] = e.runMode(gctx, m, req, pc)
			return nil
		})
	}
	_ = g.Wait()
	return Merge(parts...)
}

// runMode performs one mode call. Failures are logged and produce empty
// analytics so sibling modes are unaffected.
func (e *Engine) runMode(ctx context.Context, mode Mode, req Request, pc *promptctx.Context) *model.Analytics {
	log := zap.L().With(zap.String("mode", string(mode)))

	cfg := llm.JSONConfig(e.maxOutput)
	if e.search {
		cfg.EnableSearch = true
	}
	call := llm.Request{
		Model:  e.model,
		System: systemPrompt,
		Prompt: buildPrompt(mode, req, pc.Text),
		Config: cfg,
	}

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*llm.Response, error) {
		return e.client.GenerateContent(ctx, call)
	})
	if err != nil {
		log.Warn("extract: mode failed, continuing with empty result",
			zap.String("error_class", resilience.Classify(err)), zap.Error(err))
		return &model.Analytics{}
	}
	e.account(mode, resp)
	if resp.Truncated {
		log.Warn("extract: response truncated, attempting repair")
	}

	a, err := decodeAnalytics(resp.Text, pc.Registry)
	if err != nil {
		log.Warn("extract: unparseable response", zap.Error(err))
		return &model.Analytics{}
	}

	dropped := Ground(a, pc)
	invalid := FilterProvenance(a)
	a = Dedupe(a)
	if dropped > 0 || invalid > 0 {
		log.Debug("extract: filtered entities",
			zap.Int("ungrounded", dropped), zap.Int("bad_provenance", invalid))
	}
	return a
}

func (e *Engine) account(mode Mode, resp *llm.Response) {
	e.inputTotal.Add(int64(resp.Usage.Input))
	e.outputTotal.Add(int64(resp.Usage.Output))
	fields := []zap.Field{
		zap.String("mode", string(mode)),
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.Usage.Input),
		zap.Int("output_tokens", resp.Usage.Output),
	}
	if e.calc != nil {
		fields = append(fields, zap.Float64("cost_usd", e.calc.LLM(resp.Model, resp.Usage.Input, resp.Usage.Output)))
	}
	zap.L().Debug("extract: llm call", fields...)
}

// envelope accepts "tree" as an alias for "root" and a wrapping
// "analytics" object.
type envelope struct {
	model.Analytics
	Tree   *model.TreeNode  `json:"tree,omitempty"`
	Nested *model.Analytics `json:"analytics,omitempty"`
}

// decodeAnalytics parses model output, restores shortcode tokens and decodes
// the result. Unrecoverable output returns an *llmjson.ParseError.
func decodeAnalytics(text string, reg *promptctx.Registry) (*model.Analytics, error) {
	var generic any
	if err := llmjson.Unmarshal(text, &generic); err != nil {
		return nil, err
	}
	if reg != nil {
		generic = reg.UnpackObject(generic)
	}
	if _, ok := generic.(map[string]any); !ok {
		return nil, &llmjson.ParseError{Snippet: "expected a JSON object", Err: eris.New("extract: unexpected top-level value")}
	}
	data, err := json.Marshal(generic)
	if err != nil {
		return nil, eris.Wrap(err, "extract: re-encode response")
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &llmjson.ParseError{Snippet: truncateSnippet(string(data)), Err: err}
	}
	a := env.Analytics
	if env.Nested != nil && a.IsEmpty() {
		a = *env.Nested
	}
	if a.Root == nil {
		a.Root = env.Tree
	}
	return &a, nil
}

func truncateSnippet(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

// NewVisionLimiter paces vision calls to one per interval.
func NewVisionLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
