// Package llm defines the language-model collaborator used by the duplicate
// detector and the generative fallback tier, plus its Anthropic-backed
// implementation.
package llm

import "context"

// BatchItem is one corpus entry handed to the model for duplicate grouping.
type BatchItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// DuplicateGroup is one proposed cluster of duplicate items.
type DuplicateGroup struct {
	MemberIDs  []string `json:"member_ids"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence"`
}

// LanguageModel is the generative collaborator consumed by the curator core.
type LanguageModel interface {
	// Generate synthesizes up to count new question texts for the given
	// prompt. May return fewer than count.
	Generate(ctx context.Context, prompt string, count int) ([]string, error)

	// GroupDuplicates proposes duplicate clusters within one batch of items.
	// Confidence is clamped to [0,1]; groups with fewer than two members are
	// dropped.
	GroupDuplicates(ctx context.Context, items []BatchItem) ([]DuplicateGroup, error)
}
