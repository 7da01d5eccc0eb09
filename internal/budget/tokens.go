package budget

import (
	"fmt"
	"strings"

	"github.com/ospreyhq/osprey/internal/provider"
)

// EstimateTokens provides a rough token count for text. Uses a simple
// heuristic of ~4 characters per token for English/code, discounted for
// whitespace. The budgeter needs a consistent estimate, not the model's
// exact tokenization.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	estimated := (charCount / 4) + (whitespaceCount / 6)
	if estimated < 1 {
		return 1
	}
	return estimated
}

// MessageTokens estimates the cost of one message including role, content,
// any tool calls, and per-message formatting overhead.
func MessageTokens(msg provider.Message) int {
	total := EstimateTokens(string(msg.Role)) + EstimateTokens(msg.Content)
	for _, tc := range msg.ToolCalls {
		total += EstimateTokens(tc.Name)
		total += EstimateTokens(fmt.Sprintf("%v", tc.Args))
	}
	// Formatting overhead per message (role separators etc.)
	total += 4
	return total
}
