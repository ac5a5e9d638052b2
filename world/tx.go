package world

import (
	"fmt"

	"canopy/db"
	"canopy/storage"
	"canopy/types"

	"github.com/google/uuid"
)

// Tx is one world-state transaction: a storage.Tx plus the object-model
// operations layered on top of it. Like storage.Tx it is thread-affine.
type Tx struct {
	db *Database
	tx *storage.Tx
}

// Begin opens a new world transaction against db's storage engine.
func (d *Database) Begin() *Tx {
	return &Tx{db: d, tx: d.engine.BeginTx()}
}

// Storage exposes the underlying storage.Tx, e.g. for the scheduler to
// call Commit()/Rollback() directly.
func (t *Tx) Storage() *storage.Tx { return t.tx }

// ---- object existence / flags / owner / name ----

func (t *Tx) CreateObject(owner types.ObjID) types.ObjID {
	id := t.db.NextObjectID()
	t.tx.Put(storage.RelObjectOwner, id, owner, storage.OpNone)
	t.tx.Put(storage.RelObjectParent, id, types.ObjID(types.NOTHING), storage.OpNone)
	t.tx.Put(storage.RelObjectLocation, id, types.ObjID(types.NOTHING), storage.OpNone)
	t.tx.Put(storage.RelObjectFlags, id, db.ObjectFlags(0), storage.OpNone)
	return id
}

func (t *Tx) Valid(id types.ObjID) bool {
	if id < 0 {
		return false
	}
	_, ok := t.tx.Get(storage.RelObjectOwner, id)
	return ok
}

func (t *Tx) Owner(id types.ObjID) types.ObjID {
	v, ok := t.tx.Get(storage.RelObjectOwner, id)
	if !ok {
		return types.ObjID(types.NOTHING)
	}
	return v.(types.ObjID)
}

func (t *Tx) Flags(id types.ObjID) db.ObjectFlags {
	v, ok := t.tx.Get(storage.RelObjectFlags, id)
	if !ok {
		return 0
	}
	return v.(db.ObjectFlags)
}

func (t *Tx) SetFlags(id types.ObjID, f db.ObjectFlags) {
	t.tx.Put(storage.RelObjectFlags, id, f, storage.OpNone)
}

func (t *Tx) Name(id types.ObjID) string {
	v, ok := t.tx.Get(storage.RelObjectName, id)
	if !ok {
		return ""
	}
	return v.(string)
}

func (t *Tx) SetName(id types.ObjID, name string) {
	t.tx.Put(storage.RelObjectName, id, name, storage.OpNone)
}

// ---- parent / children ----

func (t *Tx) Parent(id types.ObjID) types.ObjID {
	v, ok := t.tx.Get(storage.RelObjectParent, id)
	if !ok {
		return types.ObjID(types.NOTHING)
	}
	return v.(types.ObjID)
}

func (t *Tx) Children(id types.ObjID) []types.ObjID {
	keys := t.tx.ScanByCodomain(storage.RelObjectParent, id)
	out := make([]types.ObjID, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.(types.ObjID))
	}
	return out
}

// Ancestors walks the parent chain from id (exclusive) up to NOTHING,
// detecting cycles defensively (spec §3 invariant: "no cycles in parent
// chain" — mutation paths must never create one, but a corrupted or
// concurrently-reparented snapshot should still terminate).
func (t *Tx) Ancestors(id types.ObjID) []types.ObjID {
	seen := map[types.ObjID]bool{id: true}
	var out []types.ObjID
	cur := t.Parent(id)
	for cur != types.ObjID(types.NOTHING) && !seen[cur] {
		out = append(out, cur)
		seen[cur] = true
		cur = t.Parent(cur)
	}
	return out
}

// setParentRaw buffers the parent-pointer write only; callers needing
// full reparent semantics (propdef drop/gain) must use Reparent.
func (t *Tx) setParentRaw(id, parent types.ObjID) {
	t.tx.Put(storage.RelObjectParent, id, parent, storage.OpNone)
}

// wouldCycle reports whether making candidateParent the parent of id
// would introduce a cycle in the parent chain (spec §3 invariant, §9
// "enforce acyclicity at mutation time by a walk").
func (t *Tx) wouldCycle(id, candidateParent types.ObjID) bool {
	if candidateParent == id {
		return true
	}
	cur := candidateParent
	seen := map[types.ObjID]bool{}
	for cur != types.ObjID(types.NOTHING) {
		if cur == id || seen[cur] {
			return true
		}
		seen[cur] = true
		cur = t.Parent(cur)
	}
	return false
}

// ---- location / contents ----

func (t *Tx) Location(id types.ObjID) types.ObjID {
	v, ok := t.tx.Get(storage.RelObjectLocation, id)
	if !ok {
		return types.ObjID(types.NOTHING)
	}
	return v.(types.ObjID)
}

func (t *Tx) Contents(id types.ObjID) []types.ObjID {
	keys := t.tx.ScanByCodomain(storage.RelObjectLocation, id)
	out := make([]types.ObjID, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.(types.ObjID))
	}
	return out
}

func (t *Tx) wouldLocationCycle(id, candidateLoc types.ObjID) bool {
	if candidateLoc == id {
		return true
	}
	cur := candidateLoc
	seen := map[types.ObjID]bool{}
	for cur != types.ObjID(types.NOTHING) {
		if cur == id || seen[cur] {
			return true
		}
		seen[cur] = true
		cur = t.Location(cur)
	}
	return false
}

// Move sets id's location to dest, maintaining the location<->contents
// invariant (spec §3, §8). Returns E_RECMOVE-shaped error on a would-be
// cycle.
func (t *Tx) Move(id, dest types.ObjID) error {
	if dest != types.ObjID(types.NOTHING) && t.wouldLocationCycle(id, dest) {
		return fmt.Errorf("move #%d to #%d would create a location cycle", id, dest)
	}
	t.tx.Put(storage.RelObjectLocation, id, dest, storage.OpNone)
	return nil
}

// ---- recycling ----

// Recycle implements spec §3 object lifecycle: contents move to NOTHING,
// children reparent to the recycled object's own parent, all
// definitions and value slots are removed.
func (t *Tx) Recycle(id types.ObjID) error {
	if !t.Valid(id) {
		return fmt.Errorf("object #%d does not exist", id)
	}

	parent := t.Parent(id)
	for _, child := range t.Children(id) {
		if err := t.Reparent(child, parent); err != nil {
			return err
		}
	}
	for _, content := range t.Contents(id) {
		if err := t.Move(content, types.ObjID(types.NOTHING)); err != nil {
			return err
		}
	}

	for _, pd := range t.PropDefs(id) {
		t.tx.Del(storage.RelPropValue, propKey{id, pd.UUID})
		t.tx.Del(storage.RelPropPerms, propKey{id, pd.UUID})
	}
	t.tx.Del(storage.RelObjectPropdefs, id)
	t.tx.Del(storage.RelObjectVerbdefs, id)
	t.tx.Del(storage.RelObjectOwner, id)
	t.tx.Del(storage.RelObjectName, id)
	t.tx.Put(storage.RelObjectParent, id, types.ObjID(types.NOTHING), storage.OpNone)
	t.tx.Put(storage.RelObjectLocation, id, types.ObjID(types.NOTHING), storage.OpNone)
	return nil
}

// propKey is the domain key shape for per-(object,definition) relations
// (prop_value, prop_perms).
type propKey struct {
	Obj  types.ObjID
	UUID uuid.UUID
}

// verbProgramKey is the domain key shape for verb_program.
type verbProgramKey struct {
	Obj  types.ObjID
	UUID uuid.UUID
}
