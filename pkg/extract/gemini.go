package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/homeatlas/homeatlas/pkg/errors"
	"github.com/homeatlas/homeatlas/pkg/logging"
)

// DefaultModel is the extraction model used when none is configured.
const DefaultModel = "gemini-2.0-flash"

// DefaultTimeout bounds a single extraction call.
const DefaultTimeout = 60 * time.Second

// GeminiExtractor implements Extractor on top of the Google GenAI SDK
// in JSON response mode.
type GeminiExtractor struct {
	apiKey  string
	model   string
	timeout time.Duration

	// GenAI client, lazily created and reused across calls.
	client *genai.Client
	mu     sync.Mutex
}

// GeminiOption configures a GeminiExtractor.
type GeminiOption func(*GeminiExtractor)

// WithModel overrides the extraction model.
func WithModel(model string) GeminiOption {
	return func(g *GeminiExtractor) { g.model = model }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) GeminiOption {
	return func(g *GeminiExtractor) { g.timeout = d }
}

// NewGeminiExtractor creates a Gemini-backed extractor.
func NewGeminiExtractor(apiKey string, opts ...GeminiOption) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, &errors.ConfigError{
			Component: "extractor",
			Message:   "GEMINI_API_KEY not configured",
		}
	}

	g := &GeminiExtractor{
		apiKey:  apiKey,
		model:   DefaultModel,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// getOrCreateClient returns the cached GenAI client, creating it on
// first use.
func (g *GeminiExtractor) getOrCreateClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  g.apiKey,
	})
	if err != nil {
		return nil, errors.NewExtractionError("", "", "network", err)
	}

	g.client = client
	return client, nil
}

// Extract implements Extractor. The call runs under an explicit timeout
// and is cancellable through ctx; any failure maps to a typed
// ExtractionError so the scheduler can fail the job cleanly.
func (g *GeminiExtractor) Extract(ctx context.Context, q Query) (*Result, error) {
	client, err := g.getOrCreateClient(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Models.GenerateContent(callCtx, g.model,
		genai.Text(g.prompt(q)),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		})
	if err != nil {
		reason := "network"
		switch {
		case callCtx.Err() != nil:
			reason = "timeout"
		case strings.Contains(err.Error(), "429"):
			reason = "rate-limit"
		}
		return nil, errors.NewExtractionError(q.Text, string(q.EntityType), reason, err)
	}

	text := resp.Text()
	if text == "" {
		return nil, errors.NewExtractionError(q.Text, string(q.EntityType), "parse",
			errors.New("empty model response"))
	}

	result, err := ParseResult([]byte(text))
	if err != nil {
		return nil, errors.NewExtractionError(q.Text, string(q.EntityType), "parse", err)
	}

	logging.Debug().
		Str("entity_type", string(q.EntityType)).
		Int("fields", len(result.Fields)).
		Int("entities", len(result.Entities)).
		Float64("confidence", result.Confidence.Overall).
		Dur("elapsed", time.Since(start)).
		Msg("Extraction completed")

	return result, nil
}

// prompt frames the lookup query. The schema framing is fixed; the
// query text itself comes from the caller.
func (g *GeminiExtractor) prompt(q Query) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Look up current public information about the %s: %s.\n", q.EntityType, q.Text)
	if q.LocationHint != "" {
		fmt.Fprintf(&b, "Location: %s.\n", q.LocationHint)
	}
	b.WriteString(`Respond with JSON only, shaped as {"fields": {string: string}, ` +
		`"confidence": {"overall": number, "per_field": {string: number}}, ` +
		`"source_urls": [string], ` +
		`"entities": [{"entity_type": string, "fields": {string: string}, "confidence": number}]}.`)
	return b.String()
}
