package ai

import (
	"strings"

	"github.com/sprintly/backend/pkg/common"

	"github.com/pkoukk/tiktoken-go"
)

// EmbeddingText renders the text embedded for an entity. Empty parts are
// left out.
func EmbeddingText(e *common.Entity) string {
	parts := make([]string, 0, 8)
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			parts = append(parts, label+": "+value)
		}
	}

	add("Name", e.Name)
	add("Company", e.Company)
	add("Position", e.Position)
	if e.Role != "" && e.Role != common.RoleUnknown {
		add("Role", string(e.Role))
	}
	if en := e.Enrichment; en != nil {
		add("Sectors", strings.Join(en.SectorFocus, ", "))
		add("Stages", strings.Join(en.StageFocus, ", "))
		add("Thesis", en.InvestmentThesis)
		add("Location", en.Location)
	}
	return strings.Join(parts, " | ")
}

// Truncator cuts texts to a token budget.
type Truncator struct {
	enc       *tiktoken.Tiktoken
	maxTokens int
}

// NewTruncator loads the named tiktoken encoding (for example "cl100k_base").
func NewTruncator(encoding string, maxTokens int) (*Truncator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &Truncator{enc: enc, maxTokens: maxTokens}, nil
}

// Truncate returns text limited to the token budget. A nil Truncator
// returns text unchanged.
func (t *Truncator) Truncate(text string) string {
	if t == nil || t.maxTokens <= 0 {
		return text
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= t.maxTokens {
		return text
	}
	return t.enc.Decode(tokens[:t.maxTokens])
}
