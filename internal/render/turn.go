package render

import (
	"sync"

	"github.com/haasonsaas/shopchat/pkg/models"
)

// TurnAssembler accumulates the ordered part list of one in-progress
// assistant turn from runtime events. Text deltas extend the trailing text
// part; tool invocation parts keep their original position and advance
// state in place as the invocation progresses. The resulting part list is
// the input contract the aggregator consumes.
type TurnAssembler struct {
	mu    sync.Mutex
	parts []models.MessagePart
}

// NewTurnAssembler returns an empty assembler.
func NewTurnAssembler() *TurnAssembler {
	return &TurnAssembler{}
}

// AppendTextDelta extends the trailing text part, or starts a new one if
// the last part is not text.
func (t *TurnAssembler) AppendTextDelta(delta string) {
	if delta == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.parts); n > 0 && t.parts[n-1].Type == models.PartText {
		t.parts[n-1].Text += delta
		return
	}
	t.parts = append(t.parts, models.MessagePart{Type: models.PartText, Text: delta})
}

// UpsertToolPart records a tool invocation part. A part with the same
// ToolCallID replaces the earlier one in place, preserving arrival order;
// otherwise the part is appended.
func (t *TurnAssembler) UpsertToolPart(part models.MessagePart) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if part.ToolCallID != "" {
		for i := range t.parts {
			if t.parts[i].Type == models.PartToolInvocation && t.parts[i].ToolCallID == part.ToolCallID {
				t.parts[i] = part
				return
			}
		}
	}
	t.parts = append(t.parts, part)
}

// AppendPart appends a part verbatim.
func (t *TurnAssembler) AppendPart(part models.MessagePart) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parts = append(t.parts, part)
}

// Parts returns a copy of the current part list.
func (t *TurnAssembler) Parts() []models.MessagePart {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.MessagePart, len(t.parts))
	copy(out, t.parts)
	return out
}

// Len returns the number of parts assembled so far.
func (t *TurnAssembler) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.parts)
}
