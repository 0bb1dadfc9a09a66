package checkpoint

import (
	"path/filepath"
	"strings"

	"github.com/hmd-tools/pacsflow/internal/runclock"
	"github.com/hmd-tools/pacsflow/pkg/persist"
)

// Store reads and writes the progress cursor at a resolved artifact path.
// Writes are atomic, and loads are tolerant: an unreadable or missing file
// counts as no prior progress rather than a hard failure.
type Store struct {
	dir       string
	persister *persist.Persister[State]
}

// NewStore builds a store for the cursor file at path. The path carries the
// toolkit/mode discriminator in its name (see runclock.CheckpointFilename),
// so different drivers on the same run keep independent cursors.
func NewStore(path string) *Store {
	basename := strings.TrimSuffix(filepath.Base(path), ".json")

	return &Store{
		dir:       filepath.Dir(path),
		persister: persist.NewPersister[State](basename, persist.NewJSONCodec()),
	}
}

// Save persists the cursor, stamping UpdatedAt when the caller left it empty.
func (s *Store) Save(state State) error {
	if state.UpdatedAt == "" {
		state.UpdatedAt = runclock.NowISO()
	}

	return s.persister.Save(s.dir, &state)
}

// Load returns the persisted cursor, or ok=false when none is readable.
func (s *Store) Load() (State, bool) {
	state, err := s.persister.Load(s.dir)
	if err != nil {
		return State{}, false
	}

	return *state, true
}

// Clear removes the cursor file. A missing file is not an error.
func (s *Store) Clear() error {
	return s.persister.Remove(s.dir)
}
