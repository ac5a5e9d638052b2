package world

import (
	"fmt"
	"strings"

	"canopy/db"
	"canopy/storage"
	"canopy/types"
)

// ---- property definitions ----

func (t *Tx) PropDefs(id types.ObjID) []PropDef {
	v, ok := t.tx.Get(storage.RelObjectPropdefs, id)
	if !ok {
		return nil
	}
	return v.([]PropDef)
}

func (t *Tx) setPropDefs(id types.ObjID, defs []PropDef) {
	t.tx.Put(storage.RelObjectPropdefs, id, defs, storage.OpNone)
}

// findPropDefOn looks for a propdef named name directly on id (not
// inherited).
func (t *Tx) findPropDefOn(id types.ObjID, name types.Symbol) (PropDef, bool) {
	for _, pd := range t.PropDefs(id) {
		if pd.Name == name {
			return pd, true
		}
	}
	return PropDef{}, false
}

// DefineProperty adds a new property definition on id, installing a
// default "clear" perms slot (spec §3 "every descendant ... has a perms
// slot ... and may or may not have a value slot") on id and every
// descendant, with no value slot anywhere.
func (t *Tx) DefineProperty(id types.ObjID, name string, owner types.ObjID, perms db.PropertyPerms) (PropDef, error) {
	sym := types.Intern(name)
	if _, exists := t.findPropDefOn(id, sym); exists {
		return PropDef{}, fmt.Errorf("property %q already defined on #%d", name, id)
	}
	pd := PropDef{UUID: NewDefinitionUUID(), Definer: id, Location: id, Name: sym}
	t.setPropDefs(id, append(append([]PropDef{}, t.PropDefs(id)...), pd))
	t.installPropPerms(id, pd, owner, perms)
	return pd, nil
}

func (t *Tx) installPropPerms(root types.ObjID, pd PropDef, owner types.ObjID, perms db.PropertyPerms) {
	t.tx.Put(storage.RelPropPerms, propKey{root, pd.UUID}, PropPerms{Owner: owner, Flags: perms}, storage.OpNone)
	for _, desc := range t.descendants(root) {
		t.tx.Put(storage.RelPropPerms, propKey{desc, pd.UUID}, PropPerms{Owner: owner, Flags: perms}, storage.OpNone)
	}
}

// SetPropertyInfo updates obj's own perms slot for an already-resolved
// property definition (set_property_info/owner+perms reassignment). Unlike
// DefineProperty it touches only obj, not its descendants: each object's
// perms slot is independent once installed.
func (t *Tx) SetPropertyInfo(obj types.ObjID, def PropDef, owner types.ObjID, perms db.PropertyPerms) {
	t.tx.Put(storage.RelPropPerms, propKey{obj, def.UUID}, PropPerms{Owner: owner, Flags: perms}, storage.OpNone)
}

// descendants returns every transitive child of id.
func (t *Tx) descendants(id types.ObjID) []types.ObjID {
	var out []types.ObjID
	queue := t.Children(id)
	seen := map[types.ObjID]bool{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		queue = append(queue, t.Children(cur)...)
	}
	return out
}

// ResolvedProperty is the result of property resolution (spec §4.2).
type ResolvedProperty struct {
	Def   PropDef
	Value types.Value
	Perms PropPerms
	Clear bool
}

// ResolveProperty implements spec §4.2 property resolution for obj.name.
func (t *Tx) ResolveProperty(obj types.ObjID, name string) (ResolvedProperty, error) {
	sym := types.Intern(name)

	// 1. Walk obj -> parent -> ... until a propdef with matching name.
	var def PropDef
	found := false
	for cur := obj; cur != types.ObjID(types.NOTHING); cur = t.Parent(cur) {
		if pd, ok := t.findPropDefOn(cur, sym); ok {
			def = pd
			found = true
			break
		}
	}
	if !found {
		return ResolvedProperty{}, types.NewErr(types.E_PROPNF)
	}

	// 2. Perms slot for obj.
	permsVal, ok := t.tx.Get(storage.RelPropPerms, propKey{obj, def.UUID})
	if !ok {
		return ResolvedProperty{}, types.NewErr(types.E_PROPNF)
	}
	perms := permsVal.(PropPerms)

	// 3. Value slot on obj itself.
	if v, ok := t.tx.Get(storage.RelPropValue, propKey{obj, def.UUID}); ok {
		return ResolvedProperty{Def: def, Value: v.(types.Value), Perms: perms, Clear: false}, nil
	}

	// 4. Walk ancestors for the first value slot.
	for cur := t.Parent(obj); cur != types.ObjID(types.NOTHING); cur = t.Parent(cur) {
		if v, ok := t.tx.Get(storage.RelPropValue, propKey{cur, def.UUID}); ok {
			return ResolvedProperty{Def: def, Value: v.(types.Value), Perms: perms, Clear: true}, nil
		}
	}

	// 5. No ancestor defines a value.
	return ResolvedProperty{Def: def, Value: types.None, Perms: perms, Clear: true}, nil
}

// SetPropertyValue sets obj's own value slot for def, making it "own"
// the value (spec §3 property lifecycle). hint tags the write for
// commit-time merge, e.g. OpListAppend when the caller is appending to a
// list-typed property.
func (t *Tx) SetPropertyValue(obj types.ObjID, def PropDef, value types.Value, hint storage.OpHint) {
	t.tx.Put(storage.RelPropValue, propKey{obj, def.UUID}, value, hint)
}

// ClearPropertyValue reverts obj's property back to inherited lookup.
func (t *Tx) ClearPropertyValue(obj types.ObjID, def PropDef) {
	t.tx.Del(storage.RelPropValue, propKey{obj, def.UUID})
}

// DeleteProperty removes a propdef defined directly on id (not an
// inherited one) and its value/perms slots on id and every descendant.
func (t *Tx) DeleteProperty(id types.ObjID, name string) error {
	sym := types.Intern(name)
	pd, ok := t.findPropDefOn(id, sym)
	if !ok {
		return fmt.Errorf("property %q not defined on #%d", name, id)
	}

	kept := make([]PropDef, 0, len(t.PropDefs(id)))
	for _, cur := range t.PropDefs(id) {
		if cur.UUID == pd.UUID {
			continue
		}
		kept = append(kept, cur)
	}
	t.setPropDefs(id, kept)

	affected := append([]types.ObjID{id}, t.descendants(id)...)
	for _, obj := range affected {
		t.tx.Del(storage.RelPropValue, propKey{obj, pd.UUID})
		t.tx.Del(storage.RelPropPerms, propKey{obj, pd.UUID})
	}
	return nil
}

// ---- verb definitions ----

func (t *Tx) VerbDefs(id types.ObjID) []VerbDef {
	v, ok := t.tx.Get(storage.RelObjectVerbdefs, id)
	if !ok {
		return nil
	}
	return v.([]VerbDef)
}

func (t *Tx) setVerbDefs(id types.ObjID, defs []VerbDef) {
	t.tx.Put(storage.RelObjectVerbdefs, id, defs, storage.OpNone)
}

// DefineVerb adds a new verb definition to id and compiles/stores its
// program under a fresh ProgramKey.
func (t *Tx) DefineVerb(id types.ObjID, names []string, owner types.ObjID, flags db.VerbPerms, args db.VerbArgs, program any) VerbDef {
	syms := make([]types.Symbol, len(names))
	for i, n := range names {
		syms[i] = types.Intern(n)
	}
	vd := VerbDef{
		UUID:       NewDefinitionUUID(),
		Location:   id,
		Owner:      owner,
		Names:      syms,
		Flags:      flags,
		ArgsSpec:   args,
		ProgramKey: NewDefinitionUUID(),
	}
	t.setVerbDefs(id, append(append([]VerbDef{}, t.VerbDefs(id)...), vd))
	t.tx.Put(storage.RelVerbProgram, verbProgramKey{id, vd.ProgramKey}, program, storage.OpNone)
	return vd
}

func (t *Tx) VerbProgram(vd VerbDef) (any, bool) {
	return t.tx.Get(storage.RelVerbProgram, verbProgramKey{vd.Location, vd.ProgramKey})
}

// matchVerbName implements spec §4.2's glob rule: one shell-glob asterisk
// per name, matching any prefix from the required minimum up to the full
// name (e.g. "foo*bar" matches "foo".."foobar").
func matchVerbName(pattern, search string) bool {
	pattern = strings.ToLower(pattern)
	search = strings.ToLower(search)
	star := strings.Index(pattern, "*")
	if star == -1 {
		return pattern == search
	}
	if pattern == "*" {
		return true
	}
	prefix := pattern[:star]
	full := pattern[:star] + pattern[star+1:]
	return strings.HasPrefix(search, prefix) && strings.HasPrefix(full, search)
}

// VerbArgsMatch reports whether a verb's declared arg spec accepts the
// given concrete (dobj,prep,iobj) triple. "any" accepts anything; "this"
// and "none" must match literally against the caller-supplied spec.
func VerbArgsMatch(spec db.VerbArgs, dobj, prep, iobj string) bool {
	match := func(declared, actual string) bool {
		return declared == "any" || declared == actual
	}
	return match(spec.This, dobj) && (spec.Prep == "any" || spec.Prep == prep) && match(spec.That, iobj)
}

// ResolveVerb implements spec §4.2 verb resolution for obj:name: it walks
// obj, parent(obj), parent(parent(obj)), ... up the single-parent chain
// and returns the first verb definition with a name matching name (glob
// rule above) whose arg spec accepts argsSpec (any spec when nil).
func (t *Tx) ResolveVerb(obj types.ObjID, name string, argsSpec *db.VerbArgs) (VerbDef, types.ObjID, error) {
	for cur := obj; cur != types.ObjID(types.NOTHING); cur = t.Parent(cur) {
		for _, vd := range t.VerbDefs(cur) {
			for _, n := range vd.Names {
				if matchVerbName(n.String(), name) {
					if argsSpec == nil || VerbArgsMatch(vd.ArgsSpec, argsSpec.This, argsSpec.Prep, argsSpec.That) {
						return vd, cur, nil
					}
				}
			}
		}
	}
	return VerbDef{}, types.ObjID(types.NOTHING), types.NewErr(types.E_VERBNF)
}

// ---- reparenting ----

func ancestorSet(ancestors []types.ObjID) map[types.ObjID]bool {
	m := make(map[types.ObjID]bool, len(ancestors))
	for _, a := range ancestors {
		m[a] = true
	}
	return m
}

// leastCommonAncestor returns the nearest object present in both p1's and
// p2's own-ancestor-or-self chains, or NOTHING if none.
func (t *Tx) leastCommonAncestor(p1, p2 types.ObjID) types.ObjID {
	chain1 := append([]types.ObjID{p1}, t.Ancestors(p1)...)
	set2 := ancestorSet(append([]types.ObjID{p2}, t.Ancestors(p2)...))
	for _, a := range chain1 {
		if set2[a] {
			return a
		}
	}
	return types.ObjID(types.NOTHING)
}

// Reparent implements spec §4.2 reparenting: drop propdefs (and their
// value/perms slots) whose definer is in Lost = ancestors(P_old) \
// ancestors(A), then add propdefs defined anywhere in Gained =
// ancestors(P_new) \ ancestors(A) (plus P_new itself) to o and every
// descendant, with a fresh default perms slot and no value slot.
func (t *Tx) Reparent(o, newParent types.ObjID) error {
	oldParent := t.Parent(o)
	if oldParent == newParent {
		return nil
	}
	if newParent != types.ObjID(types.NOTHING) && t.wouldCycle(o, newParent) {
		return fmt.Errorf("reparent #%d to #%d would create a parent cycle", o, newParent)
	}

	lca := t.leastCommonAncestor(oldParent, newParent)
	lcaAncestors := ancestorSet(append([]types.ObjID{lca}, t.Ancestors(lca)...))
	if lca == types.ObjID(types.NOTHING) {
		lcaAncestors = map[types.ObjID]bool{}
	}

	lost := map[types.ObjID]bool{}
	for _, a := range append([]types.ObjID{oldParent}, t.Ancestors(oldParent)...) {
		if a != types.ObjID(types.NOTHING) && !lcaAncestors[a] {
			lost[a] = true
		}
	}
	gained := map[types.ObjID]bool{}
	for _, a := range append([]types.ObjID{newParent}, t.Ancestors(newParent)...) {
		if a != types.ObjID(types.NOTHING) && !lcaAncestors[a] {
			gained[a] = true
		}
	}

	affected := append([]types.ObjID{o}, t.descendants(o)...)

	// Drop propdefs whose definer is in Lost, and their slots, on o and
	// every descendant.
	for _, obj := range affected {
		kept := make([]PropDef, 0, len(t.PropDefs(obj)))
		for _, pd := range t.PropDefs(obj) {
			if lost[pd.Definer] {
				t.tx.Del(storage.RelPropValue, propKey{obj, pd.UUID})
				t.tx.Del(storage.RelPropPerms, propKey{obj, pd.UUID})
				continue
			}
			kept = append(kept, pd)
		}
		t.setPropDefs(obj, kept)
	}

	t.setParentRaw(o, newParent)

	// Add propdefs defined on any Gained ancestor (or new parent itself)
	// to o and every descendant.
	for g := range gained {
		for _, pd := range t.PropDefs(g) {
			if pd.Definer != g {
				continue
			}
			for _, obj := range affected {
				t.tx.Put(storage.RelObjectPropdefs, obj, append(append([]PropDef{}, t.PropDefs(obj)...), pd), storage.OpNone)
				t.tx.Put(storage.RelPropPerms, propKey{obj, pd.UUID}, PropPerms{Owner: t.Owner(obj), Flags: 0}, storage.OpNone)
			}
		}
	}

	return nil
}
