package skill

import "errors"

// ErrNotFound is returned by Lookup implementations when no skill carries
// the requested name.
var ErrNotFound = errors.New("skill not found")

// Skill describes an on-demand capability pack the runtime can surface to
// the model: a named instruction document plus the tools it is allowed to
// drive.
type Skill struct {
	Name         string
	Description  string
	Location     string
	AllowedTools []string
}

// Lookup resolves skills by name. Discovery and parsing of skill files live
// outside the runtime; the engine only consumes this interface.
type Lookup interface {
	// Find returns the skill registered under name, or ErrNotFound.
	Find(name string) (Skill, error)
	// Load reads the skill's instruction content from its location.
	Load(s Skill) (string, error)
}
