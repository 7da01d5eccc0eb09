package memory

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ospreyhq/osprey/internal/fsx"
)

const fileVersion = 1

// obfuscationKey drives the reversible at-rest transform. Anyone with this
// binary can invert it; it exists to keep stored facts out of casual greps,
// not to protect them.
const obfuscationKey = "osprey-memory-rot1"

type fileData struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	Memories  []Memory  `json:"memories"`
}

type envelope struct {
	Obfuscated bool   `json:"obfuscated"`
	Payload    string `json:"payload"`
}

func saveFile(path string, memories []Memory, obfuscate bool, now time.Time) error {
	data := fileData{Version: fileVersion, UpdatedAt: now, Memories: memories}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory file: %w", err)
	}

	if obfuscate {
		env := envelope{
			Obfuscated: true,
			Payload:    base64.StdEncoding.EncodeToString(xorTransform(raw)),
		}
		raw, err = json.MarshalIndent(env, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal obfuscation envelope: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	return fsx.WriteFileAtomic(path, raw, 0o600)
}

// loadFile reads a memory file, transparently unwrapping the obfuscation
// envelope. A missing file is an empty store.
func loadFile(path string) ([]*Memory, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Obfuscated && env.Payload != "" {
		decoded, err := base64.StdEncoding.DecodeString(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode obfuscated payload: %w", err)
		}
		raw = xorTransform(decoded)
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse memory file: %w", err)
	}

	out := make([]*Memory, 0, len(data.Memories))
	for i := range data.Memories {
		m := data.Memories[i]
		out = append(out, &m)
	}
	return out, nil
}

// xorTransform applies a repeating-key XOR. Applying it twice restores the
// input.
func xorTransform(data []byte) []byte {
	key := []byte(obfuscationKey)
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}
