package storage

// Sequences are monotonic counters (object-id allocator, verb/prop uuid
// ordinals, task-id allocator) that commit as part of the enclosing
// transaction per spec §4.1. They are engine-global rather than per-row
// MVCC values: a sequence's whole point is that every transaction sees
// the latest allocation immediately, not a consistent point-in-time
// snapshot, so they are guarded directly by the engine mutex instead of
// flowing through the history/merge machinery.

// IncrementSeq atomically increments the named sequence and returns its
// new value.
func (e *Engine) IncrementSeq(name string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sequences[name]++
	return e.sequences[name]
}

// UpdateMaxSeq sets the named sequence to max(current, v), used during
// bulk import so a loaded database never reissues an id already present
// in the dump.
func (e *Engine) UpdateMaxSeq(name string, v uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v > e.sequences[name] {
		e.sequences[name] = v
	}
}

// GetSeq returns the named sequence's current value without mutating it.
func (e *Engine) GetSeq(name string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequences[name]
}
