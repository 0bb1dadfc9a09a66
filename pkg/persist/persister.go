package persist

// Persister binds one state type to a basename and codec, so call sites
// only choose the directory.
type Persister[T any] struct {
	basename string
	codec    Codec
}

// NewPersister creates a persister for the given basename and codec.
func NewPersister[T any](basename string, codec Codec) *Persister[T] {
	return &Persister[T]{
		basename: basename,
		codec:    codec,
	}
}

// Save atomically writes the state document under dir.
func (p *Persister[T]) Save(dir string, state *T) error {
	return SaveState(dir, p.basename, p.codec, state)
}

// Load reads the state document from dir into a fresh value.
func (p *Persister[T]) Load(dir string) (*T, error) {
	state := new(T)

	err := LoadState(dir, p.basename, p.codec, state)
	if err != nil {
		return nil, err
	}

	return state, nil
}

// Remove deletes the persisted state from dir.
func (p *Persister[T]) Remove(dir string) error {
	return RemoveState(dir, p.basename, p.codec)
}
