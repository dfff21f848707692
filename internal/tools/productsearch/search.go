// Package productsearch exposes the product catalog as an agent tool.
package productsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/shopchat/internal/agent"
	"github.com/haasonsaas/shopchat/internal/observability"
	"github.com/haasonsaas/shopchat/internal/relay"
	"github.com/haasonsaas/shopchat/internal/search"
	"github.com/haasonsaas/shopchat/pkg/models"
)

// ToolName is the name the model calls this tool by.
const ToolName = "searchProducts"

// Searcher is the catalog surface the tool needs.
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]models.Product, error)
}

// Params is the tool's input object.
type Params struct {
	Query       string `json:"query,omitempty" jsonschema:"description=Text search query describing the product"`
	ImageURL    string `json:"imageUrl,omitempty" jsonschema:"description=Public URL of a reference image to search by"`
	Base64Image string `json:"base64Image,omitempty" jsonschema:"description=Attachment token or base64 image data to search by"`
	Limit       int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results to return"`
}

// Tool implements agent.Tool over a catalog client and an attachment
// pointer store.
type Tool struct {
	searcher Searcher
	store    *relay.PointerStore
	logger   *slog.Logger
	metrics  *observability.Metrics

	schemaOnce sync.Once
	schemaJSON json.RawMessage
}

// Option configures a Tool.
type Option func(*Tool)

// WithLogger sets the tool's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tool) { t.logger = logger }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(t *Tool) { t.metrics = m }
}

// New creates the tool over a catalog searcher and the attachment
// pointer store.
func New(searcher Searcher, store *relay.PointerStore, opts ...Option) *Tool {
	t := &Tool{
		searcher: searcher,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "productsearch")
	return t
}

// Name returns the tool name.
func (t *Tool) Name() string { return ToolName }

// Description tells the model when to reach for the catalog.
func (t *Tool) Description() string {
	return "Search the product catalog by text query, image URL, or an attachment token from the conversation. Returns a ranked list of matching products with prices and availability."
}

// Schema returns the JSON Schema of Params.
func (t *Tool) Schema() json.RawMessage {
	t.schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		schema := r.Reflect(&Params{})
		schema.Version = ""
		raw, err := json.Marshal(schema)
		if err != nil {
			raw = []byte(`{"type":"object"}`)
		}
		t.schemaJSON = raw
	})
	return t.schemaJSON
}

// Execute resolves the image argument, runs the search, and returns the
// matched products as a JSON array. Domain failures, including a spent or
// unknown attachment token, come back as error results so the model can
// recover within the turn.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("invalid searchProducts arguments: %v", err),
			IsError: true,
		}, nil
	}

	isToken := strings.HasPrefix(p.Base64Image, relay.TokenPrefix)
	image, err := relay.ResolveImage(t.store, p.Base64Image)
	if err != nil {
		t.countTake("miss")
		t.logger.Warn("attachment resolution failed", "error", err)
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if isToken {
		t.countTake("hit")
	}

	kind := "text"
	hasImage := image != "" || p.ImageURL != ""
	switch {
	case hasImage && p.Query != "":
		kind = "hybrid"
	case hasImage:
		kind = "image"
	}

	start := time.Now()
	products, err := t.searcher.Search(ctx, search.Request{
		Query:       p.Query,
		ImageURL:    p.ImageURL,
		Base64Image: image,
		Limit:       p.Limit,
	})
	t.observeSearch(kind, time.Since(start))
	if err != nil {
		t.logger.Warn("catalog search failed", "kind", kind, "error", err)
		return &agent.ToolResult{Content: "product search failed: " + err.Error(), IsError: true}, nil
	}

	t.logger.Info("catalog search", "kind", kind, "results", len(products))
	if products == nil {
		products = []models.Product{}
	}
	content, err := json.Marshal(products)
	if err != nil {
		return nil, fmt.Errorf("productsearch: encode results: %w", err)
	}
	return &agent.ToolResult{Content: string(content)}, nil
}

func (t *Tool) countTake(status string) {
	if t.metrics == nil {
		return
	}
	t.metrics.RelayTakes.WithLabelValues(status).Inc()
}

func (t *Tool) observeSearch(kind string, elapsed time.Duration) {
	if t.metrics == nil {
		return
	}
	t.metrics.SearchDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
