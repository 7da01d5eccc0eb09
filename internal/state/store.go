package state

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"go.uber.org/zap"

	"github.com/ospreyhq/osprey/internal/fsx"
)

const (
	lockRetries    = 50
	lockRetryDelay = 50 * time.Millisecond

	// maxFileSize triggers rotation; long-running workflows append errors
	// and artifacts indefinitely otherwise.
	maxFileSize = 10 * 1024 * 1024
	maxArchives = 5
)

// Store reads and writes phase-state files. Every operation serializes
// through a sibling lock file, so separate processes sharing one state path
// cannot interleave.
type Store struct {
	logger      *zap.Logger
	lockRetries int
	lockDelay   time.Duration
	maxSize     int64
}

// NewStore returns a store with the standard lock budget (50 attempts at
// 50ms, about 2.5s) and the 10MB rotation threshold.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:      logger.Named("state"),
		lockRetries: lockRetries,
		lockDelay:   lockRetryDelay,
		maxSize:     maxFileSize,
	}
}

// Read loads and validates the state at path. A missing file returns
// ErrNotFound; unparseable text and structurally invalid shapes return
// *FormatError, distinguished by its Syntax flag.
func (s *Store) Read(path string) (*PhaseState, error) {
	release, err := s.acquireLock(path)
	if err != nil {
		return nil, err
	}
	defer release()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var top any
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &FormatError{Path: path, Reason: err.Error(), Syntax: true}
	}
	generic, ok := top.(map[string]any)
	if !ok {
		return nil, &FormatError{Path: path, Reason: "state must be an object"}
	}
	if ferr := validateShape(path, generic); ferr != nil {
		return nil, ferr
	}

	var st PhaseState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, &FormatError{Path: path, Reason: err.Error()}
	}
	if st.Errors == nil {
		st.Errors = []PhaseError{}
	}
	if st.Artifacts == nil {
		st.Artifacts = []string{}
	}
	return &st, nil
}

// Write validates, rotates an oversized predecessor, and atomically
// replaces the state at path.
func (s *Store) Write(path string, st *PhaseState) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("refusing to write invalid state: %w", err)
	}

	release, err := s.acquireLock(path)
	if err != nil {
		return err
	}
	defer release()

	if err := s.rotateIfNeeded(path); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := fsx.WriteFileAtomic(path, raw, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// acquireLock takes <path>.lock exclusively, retrying on contention.
func (s *Store) acquireLock(path string) (func(), error) {
	lockPath := path + ".lock"
	for attempt := 0; attempt < s.lockRetries; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() {
				if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
					s.logger.Warn("failed to release lock", zap.String("path", lockPath), zap.Error(err))
				}
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		time.Sleep(s.lockDelay)
	}
	return nil, &LockError{Path: lockPath, Attempts: s.lockRetries}
}

// rotateIfNeeded shifts an oversized state file into numbered archives:
// path.4 becomes path.5 and so on, path becomes path.1, the oldest archive
// is dropped. Called with the lock held.
func (s *Store) rotateIfNeeded(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat state file: %w", err)
	}
	if info.Size() <= s.maxSize {
		return nil
	}

	os.Remove(fmt.Sprintf("%s.%d", path, maxArchives))
	for i := maxArchives - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, fmt.Sprintf("%s.%d", path, i+1)); err != nil {
				return fmt.Errorf("shift archive %d: %w", i, err)
			}
		}
	}
	if err := os.Rename(path, path+".1"); err != nil {
		return fmt.Errorf("archive state file: %w", err)
	}

	s.logger.Info("rotated oversized state file",
		zap.String("path", path),
		zap.String("size", units.HumanSize(float64(info.Size()))))
	return nil
}

// validateShape enforces the structural contract on the raw decoded
// document, so shape problems are reported as format errors rather than
// surfacing as type mismatches from the typed decode.
func validateShape(path string, generic map[string]any) *FormatError {
	fail := func(reason string) *FormatError {
		return &FormatError{Path: path, Reason: reason}
	}

	metaRaw, ok := generic["metadata"]
	if !ok {
		return fail("missing metadata")
	}
	meta, ok := metaRaw.(map[string]any)
	if !ok {
		return fail("metadata must be an object")
	}
	for _, field := range []string{"agentName", "agentVersion", "invocationTimestamp"} {
		v, ok := meta[field]
		if !ok {
			return fail("missing metadata." + field)
		}
		str, isStr := v.(string)
		if !isStr || str == "" {
			return fail("metadata." + field + " must be a non-empty string")
		}
	}

	phase, _ := generic["phase"].(string)
	if !Phase(phase).Valid() {
		return fail(fmt.Sprintf("invalid phase %q", phase))
	}
	status, _ := generic["status"].(string)
	if !Status(status).Valid() {
		return fail(fmt.Sprintf("invalid status %q", status))
	}

	if v, ok := generic["errors"]; ok && v != nil {
		if _, isList := v.([]any); !isList {
			return fail("errors must be a list")
		}
	}
	if v, ok := generic["artifacts"]; ok && v != nil {
		if _, isList := v.([]any); !isList {
			return fail("artifacts must be a list")
		}
	}
	return nil
}
