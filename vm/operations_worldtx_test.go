package vm

import (
	"testing"

	"canopy/builtins"
	"canopy/db"
	"canopy/parser"
	"canopy/storage"
	"canopy/types"
	"canopy/world"
)

// TestBytecodeVMPropertyWorldTxRouting verifies that the compiled bytecode
// VM's GETPROP/SETPROP opcode handlers route through a WorldTx set on
// vm.Context, the same way the tree-walking Evaluator does.
func TestBytecodeVMPropertyWorldTxRouting(t *testing.T) {
	store := db.NewStore()
	obj := db.NewObject(types.ObjID(1), types.ObjID(0))
	store.Add(obj)

	wdb := world.NewDatabase(storage.NewEngine(nil))
	wtx := wdb.Begin()
	if _, err := wtx.DefineProperty(types.ObjID(1), "score", types.ObjID(0), db.PropRead|db.PropWrite); err != nil {
		t.Fatalf("DefineProperty: %v", err)
	}

	registry := builtins.NewRegistry()
	registry.RegisterPropertyBuiltins(store)

	p := parser.NewParser("#1.score = 10; return #1.score;")
	stmts, err := p.ParseProgram()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := NewCompilerWithRegistry(registry)
	prog, err := c.CompileStatements(stmts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	v := NewVM(store, registry)
	v.Context = types.NewTaskContext()
	v.Context.WorldTx = wtx
	v.Context.IsWizard = true

	result := v.Run(prog)
	if result.IsError() {
		t.Fatalf("run: %v", result.Error)
	}
	got, ok := result.Val.(types.IntValue)
	if !ok || got.Val != 10 {
		t.Errorf("result = %#v, want 10", result.Val)
	}

	if _, ok := obj.Properties["score"]; ok {
		t.Error("property written to legacy db.Store despite WorldTx being set")
	}

	resolved, err := wtx.ResolveProperty(types.ObjID(1), "score")
	if err != nil {
		t.Fatalf("ResolveProperty: %v", err)
	}
	if iv, ok := resolved.Value.(types.IntValue); !ok || iv.Val != 10 {
		t.Errorf("world.Tx score = %#v, want 10", resolved.Value)
	}
}
