package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/fandom-graph/internal/llm"
	"github.com/sells-group/fandom-graph/internal/llmjson"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/resilience"
)

// Fail-open verdict used whenever the audit itself breaks.
const (
	failOpenConfidence = 70
	minValidConfidence = 50
	issuePenalty       = 10
	auditMaxTokens     = 2048
)

// Diversity thresholds.
const (
	wantClusters = 3
	wantCreators = 5
	wantBrands   = 3
)

var genericNamePattern = regexp.MustCompile(`^(cluster|group|segment|topic|community|audience|category)\s*[#_-]?\s*\d*$`)

var genericNames = map[string]bool{
	"general audience": true, "general": true, "fans": true, "followers": true,
	"lifestyle": true, "other": true, "others": true, "miscellaneous": true,
	"misc": true, "various": true, "mixed": true, "random": true, "users": true,
	"influencers": true, "creators": true, "brands": true,
}

// Auditor scores analytics quality. It combines heuristics with a
// verification call to the model.
type Auditor struct {
	client llm.Client
	model  string
	retry  resilience.RetryConfig
}

// NewAuditor returns an Auditor. A nil client limits it to heuristics.
func NewAuditor(client llm.Client, modelName string, retry resilience.RetryConfig) *Auditor {
	return &Auditor{client: client, model: modelName, retry: retry}
}

type verdict struct {
	IsValid    *bool    `json:"isValid"`
	Confidence *float64 `json:"confidence"`
	Issues     []string `json:"issues"`
}

// Verify audits a. It never fails: any internal error yields
// {IsValid: true, Confidence: 70}.
func (a *Auditor) Verify(ctx context.Context, query string, an *model.Analytics) (res model.AuditResult) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("extract: auditor panicked, failing open", zap.Any("panic", r))
			res = model.AuditResult{IsValid: true, Confidence: failOpenConfidence}
		}
	}()

	metrics, issues := Heuristics(an)

	if a.client == nil {
		conf := int(math.Round(100*(0.5*metrics.Completeness+0.5*metrics.Diversity))) - issuePenalty*len(issues)
		conf = clamp(conf)
		return model.AuditResult{
			IsValid:        conf >= minValidConfidence,
			Confidence:     conf,
			QualityMetrics: metrics,
			Issues:         issues,
		}
	}

	v, err := a.ask(ctx, query, an)
	if err != nil {
		zap.L().Warn("extract: verification call failed, failing open", zap.Error(err))
		return model.AuditResult{IsValid: true, Confidence: failOpenConfidence, QualityMetrics: metrics, Issues: issues}
	}

	conf := failOpenConfidence
	if v.Confidence != nil {
		conf = int(math.Round(*v.Confidence))
		if *v.Confidence > 0 && *v.Confidence <= 1 {
			conf = int(math.Round(*v.Confidence * 100))
		}
	}
	conf = clamp(conf - issuePenalty*len(issues))

	valid := conf >= minValidConfidence && metrics.Completeness > 0
	if v.IsValid != nil && !*v.IsValid {
		valid = false
	}
	return model.AuditResult{
		IsValid:        valid,
		Confidence:     conf,
		QualityMetrics: metrics,
		Issues:         append(issues, v.Issues...),
	}
}

func (a *Auditor) ask(ctx context.Context, query string, an *model.Analytics) (verdict, error) {
	summary, err := json.Marshal(auditView(an))
	if err != nil {
		return verdict{}, err
	}
	req := llm.Request{
		Model:  a.model,
		Prompt: fmt.Sprintf(verificationPrompt, query, summary),
		Config: llm.JSONConfig(auditMaxTokens),
	}
	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*llm.Response, error) {
		return a.client.GenerateContent(ctx, req)
	})
	if err != nil {
		return verdict{}, err
	}
	return llmjson.Decode[verdict](resp.Text)
}

// auditView is the compact projection sent to the verification call.
func auditView(an *model.Analytics) map[string]any {
	names := func(n int, get func(int) string) []string {
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, get(i))
		}
		return out
	}
	return map[string]any{
		"summary":  an.Summary,
		"clusters": names(len(an.Clusters), func(i int) string { return an.Clusters[i].Name }),
		"creators": names(len(an.Creators), func(i int) string { return an.Creators[i].Handle }),
		"brands":   names(len(an.Brands), func(i int) string { return an.Brands[i].Name }),
		"topics":   names(len(an.Topics), func(i int) string { return an.Topics[i].Name }),
		"hashtags": names(len(an.Hashtags), func(i int) string { return an.Hashtags[i].Tag }),
	}
}

// Heuristics computes completeness, diversity, grounding and the generic
// name check without calling the model.
func Heuristics(an *model.Analytics) (model.QualityMetrics, []string) {
	var m model.QualityMetrics
	if an == nil {
		return m, []string{"analysis is empty"}
	}

	sections := []bool{
		len(an.Clusters) > 0 || an.Root != nil,
		len(an.Creators) > 0,
		len(an.Brands) > 0,
		len(an.Topics) > 0 || len(an.Subtopics) > 0,
		len(an.Hashtags) > 0 || len(an.Content) > 0,
	}
	present := 0
	for _, ok := range sections {
		if ok {
			present++
		}
	}
	m.Completeness = float64(present) / float64(len(sections))

	clusters := len(an.Clusters)
	if clusters == 0 && an.Root != nil {
		clusters = len(an.Root.Children)
	}
	m.Diversity = (ratio(clusters, wantClusters) + ratio(len(an.Creators), wantCreators) + ratio(len(an.Brands), wantBrands)) / 3

	total, grounded := 0, 0
	countGrounded := func(p model.Provenance) {
		total++
		if Grounded(p) {
			grounded++
		}
	}
	for _, c := range an.Creators {
		countGrounded(c.Provenance)
	}
	for _, b := range an.Brands {
		countGrounded(b.Provenance)
	}
	for _, c := range an.Clusters {
		countGrounded(c.Provenance)
	}
	if total > 0 {
		m.GroundedRatio = float64(grounded) / float64(total)
	}

	var issues []string
	for _, c := range an.Clusters {
		if IsGenericName(c.Name) {
			m.GenericNameHits++
		}
	}
	for _, t := range an.Topics {
		if IsGenericName(t.Name) {
			m.GenericNameHits++
		}
	}
	if m.GenericNameHits > 0 {
		issues = append(issues, fmt.Sprintf("%d generic cluster/topic names", m.GenericNameHits))
	}
	if clusters > 0 && clusters < wantClusters {
		issues = append(issues, fmt.Sprintf("only %d clusters", clusters))
	}
	if len(an.Creators) > 0 && len(an.Creators) < wantCreators {
		issues = append(issues, fmt.Sprintf("only %d creators", len(an.Creators)))
	}
	if m.Completeness < 0.4 {
		issues = append(issues, "most sections are missing")
	}
	return m, issues
}

// IsGenericName reports names like "Cluster 1" or "General Audience".
func IsGenericName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return true
	}
	return genericNames[n] || genericNamePattern.MatchString(n)
}

func ratio(n, want int) float64 {
	if n >= want {
		return 1
	}
	return float64(n) / float64(want)
}

func clamp(v int) int {
	return max(0, min(100, v))
}
