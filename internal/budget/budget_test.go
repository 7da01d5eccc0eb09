package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ospreyhq/osprey/internal/provider"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name             string
		maxContext       int
		systemTokens     int
		maxMemoryTokens  int
		memoryPercent    float64
		wantMemory       int
		wantConversation int
	}{
		{
			name:             "default twenty percent",
			maxContext:       100000,
			systemTokens:     10000,
			wantMemory:       17800,
			wantConversation: 71200,
		},
		{
			name:             "explicit memory cap wins",
			maxContext:       100000,
			systemTokens:     10000,
			maxMemoryTokens:  5000,
			wantMemory:       5000,
			wantConversation: 84000,
		},
		{
			name:             "system prompt eats the window",
			maxContext:       5000,
			systemTokens:     4000,
			wantMemory:       0,
			wantConversation: 0,
		},
		{
			name:             "custom percent",
			maxContext:       101000,
			systemTokens:     0,
			memoryPercent:    0.5,
			wantMemory:       50000,
			wantConversation: 50000,
		},
		{
			name:             "cap above computed share is ignored",
			maxContext:       100000,
			systemTokens:     10000,
			maxMemoryTokens:  999999,
			wantMemory:       17800,
			wantConversation: 71200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Calculate(tt.maxContext, tt.systemTokens, tt.maxMemoryTokens, tt.memoryPercent)
			assert.Equal(t, tt.wantMemory, b.MemoryTokens, "memory budget")
			assert.Equal(t, tt.wantConversation, b.ConversationTokens, "conversation budget")
		})
	}
}

func TestBuildIncludesEverythingWhenItFits(t *testing.T) {
	history := []provider.Message{
		{Role: provider.RoleUser, Content: "first"},
		{Role: provider.RoleAssistant, Content: "second"},
	}
	msgs, stats := Build("prompt", []string{"fact one", "fact two"}, history, Budget{MemoryTokens: 1000, ConversationTokens: 1000})

	require.Len(t, msgs, 3)
	assert.Equal(t, provider.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "## Relevant memories")
	assert.Contains(t, msgs[0].Content, "- fact one")
	assert.Contains(t, msgs[0].Content, "- fact two")
	assert.Equal(t, 2, stats.MemoriesIncluded)
	assert.Equal(t, 2, stats.MessagesIncluded)
	assert.False(t, stats.MemoriesTruncated)
	assert.False(t, stats.HistoryTruncated)
}

func TestBuildTruncatesMemoriesInOrder(t *testing.T) {
	big := strings.Repeat("memory content ", 40)
	msgs, stats := Build("prompt", []string{"small fact", big, "another small"}, nil, Budget{MemoryTokens: 20, ConversationTokens: 100})

	require.Len(t, msgs, 1)
	assert.True(t, stats.MemoriesTruncated)
	// Forward fill stops at the first entry that overflows.
	assert.Equal(t, 1, stats.MemoriesIncluded)
	assert.Contains(t, msgs[0].Content, "small fact")
	assert.NotContains(t, msgs[0].Content, "another small")
}

func TestBuildTruncatesHistoryChronologically(t *testing.T) {
	history := []provider.Message{
		{Role: provider.RoleUser, Content: "oldest"},
		{Role: provider.RoleAssistant, Content: strings.Repeat("long answer ", 50)},
		{Role: provider.RoleUser, Content: "newest"},
	}
	msgs, stats := Build("p", nil, history, Budget{MemoryTokens: 0, ConversationTokens: 20})

	assert.True(t, stats.HistoryTruncated)
	require.Len(t, msgs, 2) // system + oldest
	assert.Equal(t, "oldest", msgs[1].Content)
	assert.Equal(t, 1, stats.MessagesIncluded)
}

func TestBuildOmitsMemoryHeaderWhenNoneFit(t *testing.T) {
	msgs, stats := Build("prompt", []string{"anything"}, nil, Budget{})
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0].Content, "Relevant memories")
	assert.True(t, stats.MemoriesTruncated)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hi"))
	// 400 chars with no whitespace -> 100 tokens.
	assert.Equal(t, 100, EstimateTokens(strings.Repeat("a", 400)))
}

func TestMessageTokensCountsToolCalls(t *testing.T) {
	plain := MessageTokens(provider.Message{Role: provider.RoleAssistant, Content: "ok"})
	withCall := MessageTokens(provider.Message{
		Role:      provider.RoleAssistant,
		Content:   "ok",
		ToolCalls: []provider.ToolCall{{Name: "read_file", Args: map[string]any{"path": "/tmp/x"}}},
	})
	assert.Greater(t, withCall, plain)
}
