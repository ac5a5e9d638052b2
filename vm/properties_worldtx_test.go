package vm

import (
	"testing"

	"canopy/db"
	"canopy/storage"
	"canopy/types"
	"canopy/world"
)

// TestPropertyWorldTxRoutesThroughWorldDatabase verifies that when a task's
// TaskContext carries a WorldTx, obj.prop reads/writes go through
// world.Tx's property resolution instead of the legacy db.Store path.
func TestPropertyWorldTxRoutesThroughWorldDatabase(t *testing.T) {
	store := db.NewStore()
	eval := NewEvaluatorWithStore(store)

	wdb := world.NewDatabase(storage.NewEngine(nil))
	wtx := wdb.Begin()
	objID := wtx.CreateObject(types.ObjID(0))
	if _, err := wtx.DefineProperty(objID, "counter", types.ObjID(0), db.PropRead|db.PropWrite); err != nil {
		t.Fatalf("DefineProperty: %v", err)
	}

	// The legacy store must also know about the object so the pre-check
	// in property()/assignProperty() (which still reads obj shape from
	// db.Store) doesn't short-circuit with E_INVIND.
	obj := db.NewObject(objID, types.ObjID(0))
	store.Add(obj)

	objVal := types.NewObj(objID)
	ctx := types.NewTaskContext()
	ctx.WorldTx = wtx

	// Assign through assignProperty.
	assignExpr := objVal.String() + ".counter = 7"
	if res := evalVerbExpr(t, assignExpr, eval, ctx); res.IsError() {
		t.Fatalf("assign failed: %v", res.Error)
	}

	// Read it back through property().
	res := evalVerbExpr(t, objVal.String()+".counter", eval, ctx)
	if res.IsError() {
		t.Fatalf("read failed: %v", res.Error)
	}
	got, ok := res.Val.(types.IntValue)
	if !ok || got.Val != 7 {
		t.Errorf("counter = %#v, want 7", res.Val)
	}

	// The legacy db.Store object must be untouched: assignProperty took
	// the world.Tx branch, not the in-place one.
	if _, ok := obj.Properties["counter"]; ok {
		t.Error("property was written to legacy db.Store despite WorldTx being set")
	}

	// And the write must actually be visible on the world.Tx itself.
	resolved, err := wtx.ResolveProperty(objID, "counter")
	if err != nil {
		t.Fatalf("ResolveProperty: %v", err)
	}
	if iv, ok := resolved.Value.(types.IntValue); !ok || iv.Val != 7 {
		t.Errorf("world.Tx counter = %#v, want 7", resolved.Value)
	}
}
