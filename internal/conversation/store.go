package conversation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ospreyhq/osprey/internal/fsx"
	"github.com/ospreyhq/osprey/internal/provider"
)

// fileData is the on-disk shape of one conversation.
type fileData struct {
	Timestamp time.Time          `json:"timestamp"`
	Messages  []provider.Message `json:"messages"`
}

// Meta is a listing entry; the full history stays on disk.
type Meta struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Messages  int       `json:"messages"`
	Preview   string    `json:"preview,omitempty"`
}

// Store persists conversations as one JSON file per session id under a
// base directory.
type Store struct {
	basePath string
}

// NewStore creates a store rooted at basePath.
func NewStore(basePath string) *Store {
	return &Store{basePath: basePath}
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.basePath, id+".json")
}

// Save writes the conversation under the given id.
func (s *Store) Save(id string, m *Manager) error {
	if id == "" {
		return fmt.Errorf("conversation id must not be empty")
	}
	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return fmt.Errorf("create conversation directory: %w", err)
	}

	data := fileData{Timestamp: m.StartedAt(), Messages: m.Messages()}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := fsx.WriteFileAtomic(s.pathFor(id), raw, 0o644); err != nil {
		return fmt.Errorf("write conversation file: %w", err)
	}
	return nil
}

// Load reads a conversation back into a Manager. A missing id surfaces as
// an error satisfying errors.Is(err, os.ErrNotExist).
func (s *Store) Load(id string) (*Manager, error) {
	raw, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		return nil, fmt.Errorf("read conversation file: %w", err)
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse conversation file: %w", err)
	}
	for i, msg := range data.Messages {
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("conversation %s message %d: %w", id, i, err)
		}
	}

	m := &Manager{startedAt: data.Timestamp}
	m.AppendAll(data.Messages...)
	return m, nil
}

// List returns metadata for all stored conversations, newest first.
// Unreadable or malformed files are skipped rather than failing the whole
// listing.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.basePath)
	if os.IsNotExist(err) {
		return []Meta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list conversation directory: %w", err)
	}

	var metas []Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.basePath, entry.Name()))
		if err != nil {
			continue
		}
		var data fileData
		if err := json.Unmarshal(raw, &data); err != nil {
			continue
		}
		metas = append(metas, Meta{
			ID:        strings.TrimSuffix(entry.Name(), ".json"),
			Timestamp: data.Timestamp,
			Messages:  len(data.Messages),
			Preview:   preview(data.Messages),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Timestamp.After(metas[j].Timestamp)
	})
	return metas, nil
}

// preview extracts the first user message, clipped for display.
func preview(messages []provider.Message) string {
	for _, msg := range messages {
		if msg.Role != provider.RoleUser {
			continue
		}
		text := strings.TrimSpace(msg.Content)
		if r := []rune(text); len(r) > 80 {
			return string(r[:77]) + "..."
		}
		return text
	}
	return ""
}
