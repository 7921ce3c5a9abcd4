package extract

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fandom-graph/internal/llm"
	"github.com/sells-group/fandom-graph/internal/llmjson"
	"github.com/sells-group/fandom-graph/internal/model"
)

const (
	maxVisionBatch     = 10
	maxVisualFindings  = 10
	maxImageBytes      = 8 << 20
	visionOutputTokens = 2048
)

// ImageFetcher downloads one image for the vision model.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (llm.Image, error)
}

// HTTPFetcher fetches images over HTTP.
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch downloads url and checks that it is an image.
func (f HTTPFetcher) Fetch(ctx context.Context, url string) (llm.Image, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return llm.Image{}, eris.Wrap(err, "extract: build image request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return llm.Image{}, eris.Wrap(err, "extract: fetch image")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return llm.Image{}, eris.Errorf("extract: fetch image: HTTP %d", resp.StatusCode)
	}
	mime := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if !strings.HasPrefix(mime, "image/") {
		return llm.Image{}, eris.Errorf("extract: fetch image: unexpected content type %q", mime)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return llm.Image{}, eris.Wrap(err, "extract: read image")
	}
	return llm.Image{Data: data, MIMEType: mime}, nil
}

// VisualAnalyzer sends images to a vision model in paced batches and merges
// the findings by vote.
type VisualAnalyzer struct {
	client    llm.Client
	model     string
	fetcher   ImageFetcher
	limiter   *rate.Limiter
	batchSize int
}

// NewVisualAnalyzer creates a VisualAnalyzer. batchSize is capped at 10.
func NewVisualAnalyzer(client llm.Client, modelName string, fetcher ImageFetcher, limiter *rate.Limiter, batchSize int) *VisualAnalyzer {
	if batchSize <= 0 || batchSize > maxVisionBatch {
		batchSize = maxVisionBatch
	}
	if fetcher == nil {
		fetcher = HTTPFetcher{}
	}
	if limiter == nil {
		limiter = NewVisionLimiter(4 * time.Second)
	}
	return &VisualAnalyzer{client: client, model: modelName, fetcher: fetcher, limiter: limiter, batchSize: batchSize}
}

type visionFindings struct {
	Brands     []string `json:"brands"`
	Aesthetics []string `json:"aesthetics"`
	Colors     []string `json:"colors"`
}

// Analyze runs every batch and returns the merged result, or nil when no
// batch succeeded. Errors are logged, never returned.
func (v *VisualAnalyzer) Analyze(ctx context.Context, urls []string) *model.VisualAnalysis {
	log := zap.L().With(zap.Int("images", len(urls)))

	var (
		batches  []visionFindings
		analyzed int
	)
	for start := 0; start < len(urls); start += v.batchSize {
		end := min(start+v.batchSize, len(urls))
		if err := v.limiter.Wait(ctx); err != nil {
			log.Warn("extract: visual analysis stopped", zap.Error(err))
			break
		}
		f, n, err := v.batch(ctx, urls[start:end])
		if err != nil {
			log.Warn("extract: visual batch failed", zap.Int("batch_start", start), zap.Error(err))
			continue
		}
		batches = append(batches, f)
		analyzed += n
	}
	if len(batches) == 0 {
		return nil
	}

	out := &model.VisualAnalysis{ImagesAnalyzed: analyzed}
	var brands, aesthetics, colors [][]string
	for _, b := range batches {
		brands = append(brands, b.Brands)
		aesthetics = append(aesthetics, b.Aesthetics)
		colors = append(colors, b.Colors)
	}
	out.Brands = Vote(brands, maxVisualFindings)
	out.Aesthetics = Vote(aesthetics, maxVisualFindings)
	out.Colors = Vote(colors, maxVisualFindings)
	return out
}

func (v *VisualAnalyzer) batch(ctx context.Context, urls []string) (visionFindings, int, error) {
	images := make([]llm.Image, 0, len(urls))
	for _, u := range urls {
		img, err := v.fetcher.Fetch(ctx, u)
		if err != nil {
			zap.L().Debug("extract: skipping image", zap.String("url", u), zap.Error(err))
			continue
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return visionFindings{}, 0, eris.New("extract: no image in batch could be fetched")
	}

	resp, err := v.client.GenerateContent(ctx, llm.Request{
		Model:  v.model,
		Prompt: visionPrompt,
		Images: images,
		Config: llm.JSONConfig(visionOutputTokens),
	})
	if err != nil {
		return visionFindings{}, 0, err
	}
	f, err := llmjson.Decode[visionFindings](resp.Text)
	if err != nil {
		return visionFindings{}, 0, err
	}
	return f, len(images), nil
}

// Vote counts each value once per batch (case-insensitive) and returns up to
// limit values, most votes first, ties alphabetical.
func Vote(batches [][]string, limit int) []string {
	votes := make(map[string]int)
	display := make(map[string]string)
	for _, batch := range batches {
		seen := make(map[string]bool)
		for _, v := range batch {
			k := strings.ToLower(strings.TrimSpace(v))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			votes[k]++
			if _, ok := display[k]; !ok {
				display[k] = strings.TrimSpace(v)
			}
		}
	}
	keys := make([]string, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if votes[keys[i]] != votes[keys[j]] {
			return votes[keys[i]] > votes[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = display[k]
	}
	return out
}
