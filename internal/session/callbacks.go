package session

import "torrentd/internal/engine"

type callbackKey struct {
	kind engine.AlertKind
	hash string
}

// callbackRegistry holds one-shot continuations keyed on (alert kind, info
// hash). Touched only from the event loop.
type callbackRegistry struct {
	m map[callbackKey][]func(engine.Alert)
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{m: map[callbackKey][]func(engine.Alert){}}
}

// add appends a continuation; continuations for a key fire in registration
// order.
func (r *callbackRegistry) add(kind engine.AlertKind, hash string, fn func(engine.Alert)) {
	k := callbackKey{kind: kind, hash: hash}
	r.m[k] = append(r.m[k], fn)
}

// take removes and returns all continuations for the key; firing and erasure
// are one atomic step from the loop's point of view.
func (r *callbackRegistry) take(kind engine.AlertKind, hash string) []func(engine.Alert) {
	k := callbackKey{kind: kind, hash: hash}
	fns := r.m[k]
	delete(r.m, k)
	return fns
}

func (r *callbackRegistry) pending(kind engine.AlertKind, hash string) int {
	return len(r.m[callbackKey{kind: kind, hash: hash}])
}
