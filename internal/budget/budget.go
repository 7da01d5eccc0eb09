package budget

import (
	"math"
	"strings"

	"github.com/ospreyhq/osprey/internal/provider"
)

// reservedHeadroom is kept free for the model's response and structural
// overhead regardless of context size.
const reservedHeadroom = 1000

// DefaultMemoryPercent is the share of the available window granted to
// memories when no explicit fraction is configured.
const DefaultMemoryPercent = 0.2

// Budget is the token allocation for one prompt assembly.
type Budget struct {
	MemoryTokens       int
	ConversationTokens int
}

// Stats reports what one assembly actually consumed.
type Stats struct {
	SystemTokens       int  `json:"system_tokens"`
	MemoryTokens       int  `json:"memory_tokens"`
	ConversationTokens int  `json:"conversation_tokens"`
	TotalTokens        int  `json:"total_tokens"`
	MemoriesIncluded   int  `json:"memories_included"`
	MessagesIncluded   int  `json:"messages_included"`
	MemoriesTruncated  bool `json:"memories_truncated"`
	HistoryTruncated   bool `json:"history_truncated"`
}

// Calculate splits a model's context window between memory and conversation
// history. The system prompt and a fixed headroom come off the top; if they
// already exceed the window both budgets are zero. maxMemoryTokens <= 0
// means no explicit cap; memoryPercent <= 0 selects the default share.
func Calculate(maxContextTokens, systemPromptTokens, maxMemoryTokens int, memoryPercent float64) Budget {
	if memoryPercent <= 0 {
		memoryPercent = DefaultMemoryPercent
	}

	available := maxContextTokens - systemPromptTokens - reservedHeadroom
	if available < 0 {
		available = 0
	}

	memTokens := int(math.Floor(float64(available) * memoryPercent))
	if maxMemoryTokens > 0 && maxMemoryTokens < memTokens {
		memTokens = maxMemoryTokens
	}

	return Budget{
		MemoryTokens:       memTokens,
		ConversationTokens: available - memTokens,
	}
}

// Build assembles the bounded prompt: a system message carrying the prompt
// plus as many memories as fit, followed by as much history as fits. Both
// lists fill greedily in their given order and stop at the first entry that
// would overflow; order is preserved so the model sees causally coherent
// context.
func Build(systemPrompt string, memories []string, history []provider.Message, b Budget) ([]provider.Message, Stats) {
	stats := Stats{SystemTokens: EstimateTokens(systemPrompt)}

	var included []string
	for _, m := range memories {
		cost := EstimateTokens(m)
		if stats.MemoryTokens+cost > b.MemoryTokens {
			stats.MemoriesTruncated = true
			break
		}
		included = append(included, m)
		stats.MemoryTokens += cost
	}
	stats.MemoriesIncluded = len(included)

	system := systemPrompt
	if len(included) > 0 {
		var sb strings.Builder
		sb.WriteString(system)
		sb.WriteString("\n\n## Relevant memories\n")
		for _, m := range included {
			sb.WriteString("- ")
			sb.WriteString(m)
			sb.WriteString("\n")
		}
		system = sb.String()
	}

	messages := make([]provider.Message, 0, len(history)+1)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: system})

	for _, msg := range history {
		cost := MessageTokens(msg)
		if stats.ConversationTokens+cost > b.ConversationTokens {
			stats.HistoryTruncated = true
			break
		}
		messages = append(messages, msg)
		stats.ConversationTokens += cost
		stats.MessagesIncluded++
	}

	stats.TotalTokens = stats.SystemTokens + stats.MemoryTokens + stats.ConversationTokens
	return messages, stats
}
