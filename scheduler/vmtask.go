package scheduler

import (
	"fmt"

	"canopy/builtins"
	"canopy/db"
	"canopy/parser"
	"canopy/types"
	"canopy/vm"
)

// newVM builds a bytecode VM for one task attempt, wiring tc.Tx onto the
// context so property/move/chparent builtins route through the attempt's
// world.Tx snapshot instead of the legacy store (GETPROP/SETPROP per
// vm/operations.go). store/registry stay legacy-backed: object shape
// lookups the VM needs for verb dispatch (ctx.ThisObj's class, etc.) are
// not yet world.Tx-aware, mirroring the teacher's single shared *db.Store
// passed to every vm.NewVM call in server/scheduler.go's runTask.
func newVM(store *db.Store, registry *builtins.Registry, tc *TxContext, player, programmer types.ObjID, isWizard bool, tickLimit int64) *vm.VM {
	v := vm.NewVM(store, registry)
	v.Context = types.NewTaskContext()
	v.Context.WorldTx = tc.Tx
	v.Context.Player = player
	v.Context.Programmer = programmer
	v.Context.IsWizard = isWizard
	v.Context.TaskID = tc.Task.ID
	if tickLimit > 0 {
		v.TickLimit = tickLimit
	}
	return v
}

// resultToTaskResult turns a VM Result into the (Value, error) pair
// scheduler.Body returns: an uncaught MOO exception is a normal return
// value (an ErrValue), not an infrastructure error — only a compile
// failure or a panic-turned-error aborts the attempt outright.
func resultToTaskResult(r types.Result) (types.Value, error) {
	if r.IsError() {
		return types.NewErr(r.Error), nil
	}
	return r.Val, nil
}

// EvalBody compiles source as a free-standing statement list and runs it
// with no verb context, the shape server/scheduler.go used for eval()
// tasks (Task.VerbName == ""). Every attempt recompiles source: the VM
// has no AST/bytecode cache across retries, matching the teacher's
// task.Code-holds-AST model where compilation happens once per Body call.
func EvalBody(store *db.Store, registry *builtins.Registry, source string, player, programmer types.ObjID, isWizard bool, tickLimit int64) Body {
	return func(tc *TxContext) (types.Value, error) {
		p := parser.NewParser(source)
		stmts, err := p.ParseProgram()
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse: %w", err)
		}

		c := vm.NewCompilerWithRegistry(registry)
		prog, err := c.CompileStatements(stmts)
		if err != nil {
			return nil, fmt.Errorf("scheduler: compile: %w", err)
		}

		v := newVM(store, registry, tc, player, programmer, isWizard, tickLimit)
		return resultToTaskResult(v.Run(prog))
	}
}

// VerbCall is everything needed to run obj:verb with command-line context
// populated, the bytecode-VM equivalent of the teacher's task.Task verb
// fields (This/Owner/Caller/VerbName/VerbLoc/Args/Argstr/...).
type VerbCall struct {
	This     types.ObjID
	Player   types.ObjID
	Caller   types.ObjID
	VerbName string
	VerbLoc  types.ObjID
	Args     []types.Value
	Argstr   string
	Dobjstr  string
	Iobjstr  string
	Prepstr  string
	Dobj     types.ObjID
	Iobj     types.ObjID
}

// VerbBody compiles prog's statements once per attempt and runs them
// through RunWithVerbContext with the command-parsing locals
// (argstr/dobjstr/iobj/...) pre-populated, grounded on
// server/scheduler.go's runTask verb branch.
func VerbBody(store *db.Store, registry *builtins.Registry, stmts []parser.Stmt, call VerbCall, programmer types.ObjID, isWizard bool, tickLimit int64) Body {
	return func(tc *TxContext) (types.Value, error) {
		c := vm.NewCompilerWithRegistry(registry)
		prog, err := c.CompileStatements(stmts)
		if err != nil {
			return nil, fmt.Errorf("scheduler: compile #%d:%s: %w", call.This, call.VerbName, err)
		}

		v := newVM(store, registry, tc, call.Player, programmer, isWizard, tickLimit)
		v.Context.ThisObj = call.This
		v.Context.Verb = call.VerbName

		frame := v.PrepareVerbFrame(prog, call.This, call.Player, call.Caller, call.VerbName, call.VerbLoc, call.Args)
		vm.SetLocalByNamePublic(frame, prog, "argstr", types.NewStr(call.Argstr))
		vm.SetLocalByNamePublic(frame, prog, "dobjstr", types.NewStr(call.Dobjstr))
		vm.SetLocalByNamePublic(frame, prog, "iobjstr", types.NewStr(call.Iobjstr))
		vm.SetLocalByNamePublic(frame, prog, "prepstr", types.NewStr(call.Prepstr))
		vm.SetLocalByNamePublic(frame, prog, "dobj", types.NewObj(call.Dobj))
		vm.SetLocalByNamePublic(frame, prog, "iobj", types.NewObj(call.Iobj))

		return resultToTaskResult(v.ExecuteLoop())
	}
}
