// Package render folds the streamed part list of one assistant turn into a
// stable presentation model. The transport delivers parts incrementally and
// tool results can arrive out of order across several invocations; the
// aggregator re-derives the full model from the whole part list on every
// update, so repeated calls with a growing list are idempotent.
package render

import (
	"encoding/json"
	"strconv"

	"github.com/haasonsaas/shopchat/pkg/models"
)

// DefaultSearchTool is the registered name of the product-search tool.
const DefaultSearchTool = "searchProducts"

// BlockType discriminates renderable block variants.
type BlockType string

const (
	// BlockProducts is the single merged product collection for the turn.
	BlockProducts BlockType = "products"
	// BlockText is one text part.
	BlockText BlockType = "text"
	// BlockAttachment is one file attachment part.
	BlockAttachment BlockType = "attachment"
	// BlockSearchStatus is the transient "searching" indicator for a tool
	// invocation that has not produced output yet.
	BlockSearchStatus BlockType = "search-status"
)

// Block is one renderable unit of a turn.
type Block struct {
	Type       BlockType           `json:"type"`
	Text       string              `json:"text,omitempty"`
	Attachment *models.MessagePart `json:"attachment,omitempty"`
	Products   []models.Product    `json:"products,omitempty"`
}

// RenderModel is the ordered, deduplicated block list derived from one
// turn's part stream.
type RenderModel struct {
	Blocks []Block `json:"blocks"`
}

// Empty reports whether nothing is renderable yet.
func (m RenderModel) Empty() bool {
	return len(m.Blocks) == 0
}

// Aggregator builds RenderModels. It holds no per-turn state: Build is a
// pure function of its input, which is what makes re-running it on every
// streamed delta safe.
type Aggregator struct {
	// SearchTool is the tool name whose invocations feed the merged
	// product collection. Other tool invocations render nothing.
	SearchTool string
}

// NewAggregator returns an aggregator bound to the default search tool.
func NewAggregator() *Aggregator {
	return &Aggregator{SearchTool: DefaultSearchTool}
}

// Build walks parts in arrival order and produces the turn's RenderModel.
//
// Text and file parts become individual blocks in order. Every invocation
// of the search tool contributes to one running product collection instead
// of its own block: completed invocations append their results (skipping
// identity keys already seen this turn), in-flight ones add a transient
// status block in place. If the collection ends up non-empty it is pinned
// as a single block before everything else, so results from several
// searches in one turn present as one browsing surface.
func (a *Aggregator) Build(parts []models.MessagePart) RenderModel {
	var blocks []Block
	var products []models.Product
	seen := make(map[string]bool)

	for i := range parts {
		part := &parts[i]
		switch part.Type {
		case models.PartText:
			if part.Text != "" {
				blocks = append(blocks, Block{Type: BlockText, Text: part.Text})
			}

		case models.PartFile:
			blocks = append(blocks, Block{Type: BlockAttachment, Attachment: part})

		case models.PartToolInvocation:
			if part.ToolName != a.SearchTool {
				continue
			}
			switch part.State {
			case models.ToolCallPending, models.ToolCallInputAvailable:
				blocks = append(blocks, Block{Type: BlockSearchStatus, Text: "Searching products…"})
			case models.ToolCallOutputAvailable:
				products = mergeResults(products, seen, part.Output)
			}
			// output-error contributes nothing; the rest of the turn
			// still renders.
		}
	}

	if len(products) == 0 {
		return RenderModel{Blocks: blocks}
	}

	merged := make([]Block, 0, len(blocks)+1)
	merged = append(merged, Block{Type: BlockProducts, Products: products})
	merged = append(merged, blocks...)
	return RenderModel{Blocks: merged}
}

// mergeResults appends the products of one tool output to the running
// collection, first occurrence winning. Output that is not a JSON array of
// products counts as zero results.
func mergeResults(products []models.Product, seen map[string]bool, output json.RawMessage) []models.Product {
	if len(output) == 0 {
		return products
	}
	var results []models.Product
	if err := json.Unmarshal(output, &results); err != nil {
		return products
	}
	for i, p := range results {
		key := identityKey(p, i)
		if seen[key] {
			continue
		}
		seen[key] = true
		products = append(products, p)
	}
	return products
}

// identityKey derives the dedup key for a product: the id when present,
// else title plus the ordinal position within its own output array. The
// fallback stays stable for providers that omit ids and never collides two
// distinct entries of the same array. Identical titles at the same position
// in two different calls do still collapse; known limitation.
func identityKey(p models.Product, ordinal int) string {
	if p.ID != "" {
		return p.ID
	}
	return p.Title + "#" + strconv.Itoa(ordinal)
}
