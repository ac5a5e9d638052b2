package builtins

import (
	"canopy/types"
	"canopy/world"
)

// worldTx returns the task's transactional world handle, if the scheduler
// set one. Builtins that mutate property/list/map/verb definitions use it
// when present instead of mutating db.Store directly, so those writes get
// snapshot isolation and commit-time merge (see the scheduler package).
func worldTx(ctx *types.TaskContext) (*world.Tx, bool) {
	wtx, ok := ctx.WorldTx.(*world.Tx)
	return wtx, ok && wtx != nil
}
