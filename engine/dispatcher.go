package engine

import (
	"fmt"

	"canopy/builtins"
	"canopy/db"
	"canopy/parser"
	"canopy/scheduler"
	"canopy/server"
	"canopy/types"
	"canopy/world"
)

// CoreDispatcher is the concrete Dispatcher: it turns a Command/Eval/
// LoginCommand request into a scheduler.Task whose Body drives a real
// vm.VM against the task's own world.Tx (scheduler.VerbBody/EvalBody),
// closing the gap between Core's request handling and actual MOO
// execution. It generalizes the teacher's Scheduler.ProcessCommand +
// ParseCommand + MatchObject pipeline (server/scheduler.go,
// server/command.go, server/matcher.go) onto the transactional object
// model instead of the teacher's single in-memory *db.Store.
type CoreDispatcher struct {
	wdb      *world.Database
	store    *db.Store
	registry *builtins.Registry
	sched    *scheduler.Scheduler

	tickLimit int64
}

// NewCoreDispatcher wires store/registry as the bytecode VM's legacy
// object-shape backing (verb dispatch, builtin registry) and wdb/sched as
// the transactional path GETPROP/SETPROP/move/chparent route through.
func NewCoreDispatcher(wdb *world.Database, store *db.Store, registry *builtins.Registry, sched *scheduler.Scheduler, tickLimit int64) *CoreDispatcher {
	if tickLimit <= 0 {
		tickLimit = 30000
	}
	return &CoreDispatcher{wdb: wdb, store: store, registry: registry, sched: sched, tickLimit: tickLimit}
}

// isWizard reports whether obj carries the wizard flag in the legacy
// store, mirroring the teacher's Scheduler.isWizard.
func (d *CoreDispatcher) isWizard(obj types.ObjID) bool {
	o := d.store.Get(obj)
	return o != nil && o.Flags.Has(db.FlagWizard)
}

// resolveVerbProgram finds obj's verb definition for name and decodes its
// stored program back into a statement list. The program is recompiled
// fresh on every attempt inside scheduler.VerbBody (see its doc comment),
// so only the AST needs to survive here.
func (d *CoreDispatcher) resolveVerbProgram(obj types.ObjID, name string, argsSpec *db.VerbArgs) ([]parser.Stmt, types.ObjID, db.VerbPerms, types.ObjID, error) {
	probe := d.wdb.Begin()
	defer probe.Storage().Rollback()

	vd, loc, err := probe.ResolveVerb(obj, name, argsSpec)
	if err != nil {
		return nil, types.ObjNothing, 0, types.ObjNothing, err
	}
	raw, ok := probe.VerbProgram(vd)
	if !ok {
		return nil, types.ObjNothing, 0, types.ObjNothing, fmt.Errorf("engine: verb %s on #%d has no stored program", name, loc)
	}
	stmts, ok := raw.([]parser.Stmt)
	if !ok {
		return nil, types.ObjNothing, 0, types.ObjNothing, fmt.Errorf("engine: verb %s on #%d has an unrecognized program encoding", name, loc)
	}
	return stmts, loc, vd.Flags, vd.Owner, nil
}

// DoLoginCommand runs #0's do_login_command verb, the teacher's
// Scheduler.processLoginCommand behavior collapsed onto CallVerbSync. If
// that verb is undefined, a "connect"/"create" argv gets connID back (a
// negative connection object, which Core.LoginCommand treats as a failed
// login) and any other argv gets the lookup error; no player is looked up
// by name.
func (d *CoreDispatcher) DoLoginCommand(connID types.ObjID, argv []string) (types.ObjID, []string) {
	args := make([]types.Value, len(argv))
	for i, a := range argv {
		args[i] = types.NewStr(a)
	}

	stmts, loc, _, owner, err := d.resolveVerbProgram(types.ObjID(0), "do_login_command", nil)
	if err != nil {
		// No do_login_command verb defined: a "connect"/"create" argv
		// returns the connection object unchanged.
		if len(argv) >= 1 && (argv[0] == "connect" || argv[0] == "create") {
			return connID, nil
		}
		return types.ObjID(-1), []string{err.Error()}
	}

	call := scheduler.VerbCall{
		This:     types.ObjID(0),
		Player:   connID,
		Caller:   types.ObjID(0),
		VerbName: "do_login_command",
		VerbLoc:  loc,
		Args:     args,
		Argstr:   fmt.Sprint(argv),
	}
	body := scheduler.VerbBody(d.store, d.registry, stmts, call, owner, d.isWizard(owner), d.tickLimit)
	t := d.sched.NewTask(scheduler.KindVerb, connID, owner, d.tickLimit, 0, body)
	result := d.sched.RunSync(t)
	if result.Err != nil {
		return types.ObjID(-1), []string{result.Err.Error()}
	}
	if ev, ok := result.Value.(types.ErrValue); ok {
		return types.ObjID(-1), []string{ev.Error()}
	}
	if ov, ok := result.Value.(types.ObjValue); ok {
		return ov.ID(), nil
	}
	return types.ObjID(-1), nil
}

// DoCommand parses line the way the teacher's ProcessCommand does
// (server/command.go's ParseCommand, server/matcher.go's MatchObject),
// resolves the verb to run against player/location/dobj/iobj in that
// order, and submits a KindCommand task running it against a fresh
// world.Tx.
func (d *CoreDispatcher) DoCommand(player types.ObjID, line string) (int64, error) {
	cmd := server.ParseCommand(line)
	if cmd.Verb == "" {
		return 0, fmt.Errorf("engine: empty command")
	}

	playerObj := d.store.Get(player)
	location := types.ObjNothing
	if playerObj != nil {
		location = playerObj.Location
	}

	if cmd.Dobjstr != "" {
		cmd.Dobj = server.MatchObject(d.store, player, location, cmd.Dobjstr)
	}
	if cmd.Iobjstr != "" {
		cmd.Iobj = server.MatchObject(d.store, player, location, cmd.Iobjstr)
	}

	// Command verbs are resolved against player, then location, then the
	// matched direct/indirect objects, same search order as the teacher's
	// ProcessCommand.
	candidates := []types.ObjID{player, location, cmd.Dobj, cmd.Iobj}
	var stmts []parser.Stmt
	var verbLoc, owner types.ObjID
	var resolveErr error
	found := false
	for _, c := range candidates {
		if c == types.ObjNothing || c < 0 {
			continue
		}
		var s []parser.Stmt
		var o types.ObjID
		s, verbLoc, _, o, resolveErr = d.resolveVerbProgram(c, cmd.Verb, nil)
		if resolveErr == nil {
			stmts, owner = s, o
			found = true
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("engine: %w", resolveErr)
	}

	call := scheduler.VerbCall{
		This:     verbLoc,
		Player:   player,
		Caller:   player,
		VerbName: cmd.Verb,
		VerbLoc:  verbLoc,
		Args:     stringsToValues(cmd.Args),
		Argstr:   cmd.Argstr,
		Dobjstr:  cmd.Dobjstr,
		Iobjstr:  cmd.Iobjstr,
		Prepstr:  cmd.Prepstr,
		Dobj:     cmd.Dobj,
		Iobj:     cmd.Iobj,
	}
	body := scheduler.VerbBody(d.store, d.registry, stmts, call, owner, d.isWizard(owner), d.tickLimit)
	t := d.sched.NewTask(scheduler.KindCommand, player, owner, d.tickLimit, 0, body)
	d.sched.Submit(t)
	return t.ID, nil
}

// DoEval compiles and runs source directly, the engine's Eval request
// (spec §6), as the player's own permissions.
func (d *CoreDispatcher) DoEval(player types.ObjID, source string) (int64, error) {
	body := scheduler.EvalBody(d.store, d.registry, source, player, player, d.isWizard(player), d.tickLimit)
	t := d.sched.NewTask(scheduler.KindEval, player, player, d.tickLimit, 0, body)
	d.sched.Submit(t)
	return t.ID, nil
}

func stringsToValues(ss []string) []types.Value {
	vs := make([]types.Value, len(ss))
	for i, s := range ss {
		vs[i] = types.NewStr(s)
	}
	return vs
}

// RequestSysProp reads a property off objID through a fresh world.Tx,
// implementing spec §6's read-only $sys-property request.
func (d *CoreDispatcher) RequestSysProp(player, objID types.ObjID, propName string) (types.Value, error) {
	tx := d.wdb.Begin()
	defer tx.Storage().Rollback()

	resolved, err := tx.ResolveProperty(objID, propName)
	if err != nil {
		return nil, err
	}
	return resolved.Value, nil
}

// Verbs lists objID's own verb definitions (spec §6 introspection).
func (d *CoreDispatcher) Verbs(objID types.ObjID) ([]VerbDescriptor, error) {
	tx := d.wdb.Begin()
	defer tx.Storage().Rollback()

	defs := tx.VerbDefs(objID)
	out := make([]VerbDescriptor, 0, len(defs))
	for _, vd := range defs {
		names := make([]string, len(vd.Names))
		for i, n := range vd.Names {
			names[i] = n.String()
		}
		out = append(out, VerbDescriptor{
			Name:  joinNames(names),
			Owner: vd.Owner,
			Perms: vd.Flags.String(),
			Args:  vd.ArgsSpec.This + " " + vd.ArgsSpec.Prep + " " + vd.ArgsSpec.That,
		})
	}
	return out, nil
}

// Properties lists objID's own property definitions with resolved values
// (spec §6 introspection).
func (d *CoreDispatcher) Properties(objID types.ObjID) ([]PropDescriptor, error) {
	tx := d.wdb.Begin()
	defer tx.Storage().Rollback()

	defs := tx.PropDefs(objID)
	out := make([]PropDescriptor, 0, len(defs))
	for _, pd := range defs {
		resolved, err := tx.ResolveProperty(objID, pd.Name.String())
		if err != nil {
			continue
		}
		out = append(out, PropDescriptor{
			Name:  pd.Name.String(),
			Owner: resolved.Perms.Owner,
			Perms: resolved.Perms.Flags.String(),
			Value: resolved.Value,
		})
	}
	return out, nil
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += " "
		}
		out += n
	}
	return out
}
