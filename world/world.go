// Package world layers the object/verb/property graph (spec §3, §4.2) over
// the transactional storage engine in canopy/storage. Every world
// operation here translates to one or more relation reads/writes and so
// automatically participates in storage's snapshot-isolation and
// commit-time merge protocol.
package world

import (
	"canopy/db"
	"canopy/storage"
	"canopy/types"

	"github.com/google/uuid"
)

// Database is the process-wide handle for the live, transactional world.
// It owns the storage.Engine and the id-allocation sequences; object
// content (parents, properties, verbs, ...) lives entirely in storage
// relations, read and written only through a Tx.
type Database struct {
	engine *storage.Engine
}

// NewDatabase wires a fresh world over engine. An engine built with a nil
// Persister runs purely in memory (used by tests and the REPL tools).
func NewDatabase(engine *storage.Engine) *Database {
	return &Database{engine: engine}
}

// Engine exposes the underlying storage engine, e.g. for the scheduler to
// call BeginTx directly before handing a Tx to the VM.
func (d *Database) Engine() *storage.Engine { return d.engine }

// NextObjectID allocates the next numbered object id. Anonymous objects
// and UUID-based ids are allocated by their own callers (CreateAnonymous,
// types.NewUUIDObjID) and never consume this sequence, matching the
// teacher's maxObjID/highWaterID split (spec §3 "32-bit positive integer").
func (d *Database) NextObjectID() types.ObjID {
	return types.ObjID(d.engine.IncrementSeq("object_id")) - 1
}

// NewDefinitionUUID allocates a fresh uuid for a property or verb
// definition (spec §3 Verb/Property definition "uuid" field).
func NewDefinitionUUID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// PropDef is the property-definition relation value (spec §3).
type PropDef struct {
	UUID     uuid.UUID
	Definer  types.ObjID
	Location types.ObjID
	Name     types.Symbol
}

// VerbDef is the verb-definition relation value (spec §3).
type VerbDef struct {
	UUID     uuid.UUID
	Location types.ObjID
	Owner    types.ObjID
	Names    []types.Symbol
	Flags    db.VerbPerms
	ArgsSpec db.VerbArgs
	// ProgramKey addresses the compiled program in RelVerbProgram; kept
	// distinct from UUID so a verb can be recompiled (new ProgramKey)
	// without losing its stable definitional identity.
	ProgramKey uuid.UUID
}

// PropPerms is the prop_perms relation value (spec §3 "perms =
// {owner, flags}").
type PropPerms struct {
	Owner types.ObjID
	Flags db.PropertyPerms
}
