// Package storage implements the world database's MVCC storage engine: a set
// of named relations with snapshot-isolated transactions and value-aware
// merge on commit.
package storage

import (
	"fmt"
	"sync"

	"canopy/types"
)

// Value is the element type relation values are built from. Aliasing here
// (rather than importing types.Value at every call site) keeps storage.go
// and merge.go readable while the underlying type stays the VM's own
// tagged value.
type Value = types.Value

// ValueList is the relation-value shape used for list-typed property
// values subject to OpListAppend merge.
type ValueList []Value

// MapPair is one key/value entry of a ValueMap, kept in insertion order.
type MapPair struct {
	Key   Value
	Value Value
}

// ValueMap is the relation-value shape used for map-typed property values
// subject to OpMapInsert merge. Insertion-ordered, linear scan — map
// values in this engine are small (the scenarios in spec §8 use one or
// two keys) so a slice beats the bookkeeping of a hash index.
type ValueMap []MapPair

func (m ValueMap) Has(k Value) bool {
	_, ok := m.Get(k)
	return ok
}

func (m ValueMap) Get(k Value) (Value, bool) {
	for _, p := range m {
		if p.Key.Equal(k) {
			return p.Value, true
		}
	}
	return nil, false
}

func (m ValueMap) Insert(k, v Value) ValueMap {
	out := make(ValueMap, len(m), len(m)+1)
	copy(out, m)
	return append(out, MapPair{k, v})
}

func (m ValueMap) Clone() ValueMap {
	out := make(ValueMap, len(m))
	copy(out, m)
	return out
}

// FlyweightSlots is the relation-value shape for a flyweight's slot map
// plus ordered contents list, subject to OpFlyweightAddSlot /
// OpFlyweightAppendContents merge.
type FlyweightSlots struct {
	Delegate types.ObjID
	Slots    map[types.Symbol]Value
	Contents []Value
}

func (f FlyweightSlots) Clone() FlyweightSlots {
	slots := make(map[types.Symbol]Value, len(f.Slots))
	for k, v := range f.Slots {
		slots[k] = v
	}
	contents := make([]Value, len(f.Contents))
	copy(contents, f.Contents)
	return FlyweightSlots{Delegate: f.Delegate, Slots: slots, Contents: contents}
}

// OpHint records the structural operation that produced a value, so the
// commit-time merge can reconcile two concurrent writers of the same key
// instead of treating every write-write collision as a conflict.
type OpHint byte

const (
	OpNone OpHint = iota
	OpListAppend
	OpMapInsert
	OpFlyweightAddSlot
	OpFlyweightAppendContents
	OpStrAppend
)

func (h OpHint) String() string {
	switch h {
	case OpListAppend:
		return "LIST_APPEND"
	case OpMapInsert:
		return "MAP_INSERT"
	case OpFlyweightAddSlot:
		return "FLYWEIGHT_ADD_SLOT"
	case OpFlyweightAppendContents:
		return "FLYWEIGHT_APPEND_CONTENTS"
	case OpStrAppend:
		return "STR_APPEND"
	default:
		return "NONE"
	}
}

// Key is a relation's domain key. Relations are free to use whatever
// comparable type fits their key shape (an ObjID, a (ObjID, uuid) pair, a
// string); storage treats it opaquely.
type Key any

// Relation names the partitions the world model reads and writes, per
// spec §4.1.
type Relation string

const (
	RelObjectParent   Relation = "object_parent"
	RelObjectLocation Relation = "object_location"
	RelObjectFlags    Relation = "object_flags"
	RelObjectName     Relation = "object_name"
	RelObjectOwner    Relation = "object_owner"
	RelObjectVerbdefs Relation = "object_verbdefs"
	RelObjectPropdefs Relation = "object_propdefs"
	RelVerbProgram    Relation = "verb_program"
	RelPropValue      Relation = "prop_value"
	RelPropPerms      Relation = "prop_perms"
	RelSequences      Relation = "sequences"
)

// version is one committed value of a key, stamped with the commit
// timestamp and the structural hint that produced it.
type version struct {
	value   any
	hint    OpHint
	commit  int64
	deleted bool
}

// history holds every version ever committed for a key, newest last. Only
// the engine's internal merge logic walks more than the tail; readers only
// ever see the latest version at-or-below their snapshot.
type history struct {
	versions []version
}

func (h *history) latest() (version, bool) {
	if len(h.versions) == 0 {
		return version{}, false
	}
	return h.versions[len(h.versions)-1], true
}

// at returns the latest version committed at or before ts.
func (h *history) at(ts int64) (version, bool) {
	for i := len(h.versions) - 1; i >= 0; i-- {
		if h.versions[i].commit <= ts {
			return h.versions[i], true
		}
	}
	return version{}, false
}

// relState is one relation's keyspace plus, for relations that declare one,
// a secondary index over the codomain (e.g. parent -> children).
type relState struct {
	rows      map[Key]*history
	secondary map[any]map[Key]struct{} // codomain value -> set of domain keys
	indexed   bool
}

// Engine is the process-wide MVCC store. All transactions against a given
// Engine observe each other's commits per the real-time safety fence in
// begin_tx (spec §4.1).
type Engine struct {
	mu         sync.Mutex // guards commitSeq, relations, sequence counters, and the tx bookkeeping below
	commitSeq  int64
	relations  map[Relation]*relState
	sequences  map[string]uint64
	persist    Persister
	secondaryOf map[Relation]bool
}

// Persister is the write-behind durability sink for committed snapshots.
// A nil Persister runs the engine purely in memory (used by tests).
type Persister interface {
	PersistCommit(commitTS int64, writes []CommittedWrite) error
}

// CommittedWrite is one durable fact handed to a Persister after a
// successful commit.
type CommittedWrite struct {
	Relation Relation
	Key      Key
	Value    any
	Deleted  bool
	Commit   int64
}

// NewEngine creates an empty engine. secondaryIndexed names relations that
// maintain a codomain -> keyset secondary index (object_parent for
// parent->children, object_location for location->contents).
func NewEngine(persist Persister, secondaryIndexed ...Relation) *Engine {
	e := &Engine{
		relations:   make(map[Relation]*relState),
		sequences:   make(map[string]uint64),
		persist:     persist,
		secondaryOf: make(map[Relation]bool),
	}
	for _, r := range secondaryIndexed {
		e.secondaryOf[r] = true
	}
	return e
}

func (e *Engine) relLocked(rel Relation) *relState {
	rs, ok := e.relations[rel]
	if !ok {
		rs = &relState{rows: make(map[Key]*history)}
		if e.secondaryOf[rel] {
			rs.indexed = true
			rs.secondary = make(map[any]map[Key]struct{})
		}
		e.relations[rel] = rs
	}
	return rs
}

// BeginTx opens a new transaction against a consistent snapshot. The
// snapshot timestamp and the commit-sequence publication share the same
// mutex, which is the explicit real-time-safety fence spec §9 calls for:
// no commit can finish between a reader's fence read and the snapshot
// timestamp it is assigned, so any transaction that later begins is
// guaranteed to see it.
func (e *Engine) BeginTx() *Tx {
	e.mu.Lock()
	ts := e.commitSeq
	e.mu.Unlock()

	return &Tx{
		engine:  e,
		start:   ts,
		reads:   make(map[rwKey]version),
		writes:  make(map[rwKey]pendingWrite),
		deletes: make(map[rwKey]bool),
	}
}

type rwKey struct {
	rel Relation
	key Key
}

type pendingWrite struct {
	value any
	hint  OpHint
}

// Tx is a single, thread-affine transaction. It must not be used
// concurrently from more than one goroutine.
type Tx struct {
	engine  *Engine
	start   int64
	reads   map[rwKey]version // base version observed by Get, keyed by (rel,key)
	writes  map[rwKey]pendingWrite
	deletes map[rwKey]bool
	done    bool
}

// StartTS returns the snapshot timestamp this transaction reads from.
func (t *Tx) StartTS() int64 { return t.start }

// Get reads the latest version of (rel,key) visible at the transaction's
// snapshot, preferring any value the transaction itself already wrote.
func (t *Tx) Get(rel Relation, key Key) (any, bool) {
	rk := rwKey{rel, key}
	if t.deletes[rk] {
		return nil, false
	}
	if w, ok := t.writes[rk]; ok {
		return w.value, true
	}

	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	rs := t.engine.relLocked(rel)
	h, ok := rs.rows[key]
	if !ok {
		return nil, false
	}
	v, ok := h.at(t.start)
	if !ok {
		return nil, false
	}
	if _, already := t.reads[rk]; !already {
		t.reads[rk] = v
	}
	if v.deleted {
		return nil, false
	}
	return v.value, true
}

// ScanByCodomain returns every key in a secondary-indexed relation whose
// value equals codomain as this transaction sees it: keys the committed
// index lists under codomain that exist at the transaction's snapshot,
// minus keys the transaction itself has rewritten or deleted, plus keys
// whose buffered write in this transaction equals codomain.
func (t *Tx) ScanByCodomain(rel Relation, codomain any) []Key {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	rs := t.engine.relLocked(rel)
	if !rs.indexed {
		return nil
	}
	set := rs.secondary[codomain]
	out := make([]Key, 0, len(set))
	for k := range set {
		rk := rwKey{rel, k}
		if _, rewritten := t.writes[rk]; rewritten || t.deletes[rk] {
			continue
		}
		if h, ok := rs.rows[k]; ok {
			if v, ok := h.at(t.start); ok && !v.deleted {
				out = append(out, k)
			}
		}
	}
	for rk, w := range t.writes {
		if rk.rel == rel && w.value == codomain {
			out = append(out, rk.key)
		}
	}
	return out
}

// Put buffers a write in the transaction's working set. hint records the
// structural operation (§4.1) used for commit-time merge; pass OpNone for
// writes that should conflict outright against any concurrent writer.
func (t *Tx) Put(rel Relation, key Key, value any, hint OpHint) {
	rk := rwKey{rel, key}
	delete(t.deletes, rk)
	t.writes[rk] = pendingWrite{value: value, hint: hint}
}

// Del buffers a tombstone.
func (t *Tx) Del(rel Relation, key Key) {
	rk := rwKey{rel, key}
	delete(t.writes, rk)
	t.deletes[rk] = true
}

// ConflictError is returned by Commit when a write-write collision could
// not be resolved by merge. The caller must rebuild the transaction from a
// fresh snapshot.
type ConflictError struct {
	Relation Relation
	Key      Key
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s/%v: %s", e.Relation, e.Key, e.Reason)
}

// Commit attempts to make the transaction's writes durable. On success it
// returns the commit timestamp. On any unresolved write-write conflict it
// returns a *ConflictError and the transaction must be discarded; the
// caller rebuilds from BeginTx.
func (t *Tx) Commit() (int64, error) {
	if t.done {
		return 0, fmt.Errorf("storage: transaction already finished")
	}

	e := t.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	// Phase 1: validate every write against the latest committed version,
	// computing the merged value to apply. Nothing is mutated yet so a
	// conflict leaves the engine untouched.
	type resolved struct {
		rk      rwKey
		value   any
		hint    OpHint
		deleted bool
	}
	applied := make([]resolved, 0, len(t.writes)+len(t.deletes))

	resolve := func(rk rwKey, newVal any, newHint OpHint, isDelete bool) error {
		rs := e.relLocked(rk.rel)
		h, existed := rs.rows[rk.key]

		base, hadBase := t.reads[rk]
		var latest version
		var hasLatest bool
		if existed {
			latest, hasLatest = h.latest()
		}

		if !hasLatest {
			// Nobody has ever written this key (or the tx's own read saw
			// nothing and nothing committed since): accept outright.
			applied = append(applied, resolved{rk, newVal, newHint, isDelete})
			return nil
		}

		// No concurrent write since this tx's base read: accept outright.
		if hadBase && base.commit == latest.commit {
			applied = append(applied, resolved{rk, newVal, newHint, isDelete})
			return nil
		}
		if !hadBase && !existed {
			applied = append(applied, resolved{rk, newVal, newHint, isDelete})
			return nil
		}

		// A concurrent write happened. Deletes never merge.
		if isDelete || latest.deleted {
			return &ConflictError{rk.rel, rk.key, "concurrent delete/write"}
		}
		var baseVal any
		if hadBase {
			baseVal = base.value
		}
		merged, ok := merge(baseVal, latest.value, newVal, latest.hint, newHint)
		if !ok {
			return &ConflictError{rk.rel, rk.key, fmt.Sprintf("unmergeable hints %s/%s", latest.hint, newHint)}
		}
		applied = append(applied, resolved{rk, merged, OpNone, false})
		return nil
	}

	for rk, w := range t.writes {
		if err := resolve(rk, w.value, w.hint, false); err != nil {
			return 0, err
		}
	}
	for rk := range t.deletes {
		if err := resolve(rk, nil, OpNone, true); err != nil {
			return 0, err
		}
	}

	// Phase 2: apply. Nothing above can fail, so the transaction is
	// durable from this point.
	commitTS := e.commitSeq + 1
	e.commitSeq = commitTS

	durable := make([]CommittedWrite, 0, len(applied))
	for _, a := range applied {
		rs := e.relLocked(a.rk.rel)
		h, ok := rs.rows[a.rk.key]
		if !ok {
			h = &history{}
			rs.rows[a.rk.key] = h
		}
		if rs.indexed && len(h.versions) > 0 {
			if last, ok := h.latest(); ok && !last.deleted {
				if set := rs.secondary[last.value]; set != nil {
					delete(set, a.rk.key)
				}
			}
		}
		h.versions = append(h.versions, version{
			value:   a.value,
			hint:    a.hint,
			commit:  commitTS,
			deleted: a.deleted,
		})
		if rs.indexed && !a.deleted {
			if rs.secondary[a.value] == nil {
				rs.secondary[a.value] = make(map[Key]struct{})
			}
			rs.secondary[a.value][a.rk.key] = struct{}{}
		}
		durable = append(durable, CommittedWrite{
			Relation: a.rk.rel,
			Key:      a.rk.key,
			Value:    a.value,
			Deleted:  a.deleted,
			Commit:   commitTS,
		})
	}

	t.done = true

	if e.persist != nil && len(durable) > 0 {
		// Write-behind: a persist error is discarded here. It never
		// rolls back the already-applied in-memory commit, and Commit
		// still reports success.
		_ = e.persist.PersistCommit(commitTS, durable)
	}

	return commitTS, nil
}

// Rollback discards the transaction's buffered writes.
func (t *Tx) Rollback() {
	t.done = true
	t.writes = nil
	t.deletes = nil
	t.reads = nil
}
