package world

import (
	"encoding/gob"

	"canopy/db"
	"canopy/types"
)

// init registers world's own relation-value shapes for gob persistence,
// alongside the registrations types and storage make for their own types.
// Everything put into a storage relation as a bare any (object flags,
// names, ids, permission bytes) needs a concrete registration even when
// the underlying type is already known elsewhere, since gob only
// reconstructs an interface value from a registered name.
func init() {
	gob.Register([]PropDef{})
	gob.Register([]VerbDef{})
	gob.Register(PropPerms{})
	gob.Register(db.ObjectFlags(0))
	gob.Register(db.PropertyPerms(0))
	gob.Register(db.VerbPerms(0))
	gob.Register(db.VerbArgs{})
	gob.Register(types.ObjID(0))
	gob.Register("")
}
