package memory

import (
	"math"
	"strings"
	"time"
)

// Category classifies a memory and weights its relevance. Project facts
// outrank codebase facts, which outrank user preferences.
type Category string

const (
	CategoryUser     Category = "user"
	CategoryProject  Category = "project"
	CategoryCodebase Category = "codebase"
)

func (c Category) weight() float64 {
	switch c {
	case CategoryProject:
		return 1.5
	case CategoryCodebase:
		return 1.2
	default:
		return 1.0
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryUser, CategoryProject, CategoryCodebase:
		return true
	}
	return false
}

// Memory is one durable fact. AccessCount only ever increases; eviction
// picks the entry with the oldest LastAccessedAt.
type Memory struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Category       Category  `json:"category"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	AccessCount    int       `json:"accessCount"`
}

// score rates a memory against pre-split lowercased query words. A memory
// with no word hits scores zero regardless of how often it was accessed;
// the frequency bonus separates matching memories, it does not make
// unrelated ones relevant.
func (m *Memory) score(words []string) float64 {
	content := strings.ToLower(m.Content)
	hits := 0
	for _, w := range words {
		if strings.Contains(content, w) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	s := float64(10*hits) * m.Category.weight()
	s += math.Log(float64(m.AccessCount)+1) * 2
	return s
}

// queryWords lowercases and whitespace-splits a query, dropping duplicates
// so repeated words cannot inflate a score.
func queryWords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]struct{}, len(fields))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		words = append(words, f)
	}
	return words
}
