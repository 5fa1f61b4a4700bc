package streamreg

import "sync"

// EqualityCounter, when non-nil, is invoked once per candidate examined by
// Lookup. Tests use this to verify that lookup cost depends only on registry
// size, never on which entry (if any) matches — see spec §8 invariant 7.
var EqualityCounter func()

// Registry is the authoritative, process-wide set of configured streams. It
// is built once by NewRegistry and never mutated afterward; the read lock
// taken by its accessors is never contended by a writer.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Stream
	byPipKey []*Stream // preserves insertion order for deterministic lookup cost
}

// NewRegistry builds a Registry from the given streams, applying the given
// default chat identity to any stream that didn't specify its own.
func NewRegistry(streams map[string]*Stream, defaultUser, defaultOAuth string) *Registry {
	r := &Registry{
		byName: make(map[string]*Stream, len(streams)),
	}
	for name, s := range streams {
		s.Name = name
		s.applyDefaults(defaultUser, defaultOAuth)
		r.byName[name] = s
		r.byPipKey = append(r.byPipKey, s)
	}
	return r
}

// ByName returns the stream with the given name, or nil if none is registered.
func (r *Registry) ByName(name string) *Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Len returns the number of registered streams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPipKey)
}

// Lookup finds the stream with the given pip key, taking time proportional
// to the size of the registry regardless of which entry (if any) matches.
// It never short-circuits: every candidate is compared in full before the
// result is returned, per spec §4.1 and §9 ("do not short-circuit; iterate
// all candidates and fold comparison results").
func (r *Registry) Lookup(key []byte) *Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Stream
	for _, s := range r.byPipKey {
		if EqualityCounter != nil {
			EqualityCounter()
		}
		if constantTimeEqual([]byte(s.PipKey), key) {
			found = s
		}
	}
	return found
}

// constantTimeEqual reports whether a and b are equal, folding the
// comparison over every byte position up to the longer of the two lengths
// so that the work performed does not depend on where (or whether) they
// first differ.
func constantTimeEqual(a, b []byte) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var diff byte
	for i := 0; i < n; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		diff |= x ^ y
	}
	diff |= byte(len(a) ^ len(b))
	return diff == 0
}
