package world

import (
	"testing"

	"canopy/db"
	"canopy/storage"
	"canopy/types"
)

func newTestDB() *Database {
	engine := storage.NewEngine(nil, storage.RelObjectParent, storage.RelObjectLocation)
	return NewDatabase(engine)
}

// TestPropertyInheritanceWithClear is spec §8 scenario 4.
func TestPropertyInheritanceWithClear(t *testing.T) {
	wd := newTestDB()
	tx := wd.Begin()

	a := tx.CreateObject(types.ObjID(0))
	pd, err := tx.DefineProperty(a, "p", types.ObjID(0), db.PropRead|db.PropWrite)
	if err != nil {
		t.Fatalf("DefineProperty: %v", err)
	}
	tx.SetPropertyValue(a, pd, types.NewStr("base"), storage.OpNone)

	b := tx.CreateObject(types.ObjID(0))
	if err := tx.Reparent(b, a); err != nil {
		t.Fatalf("Reparent: %v", err)
	}

	resolved, err := tx.ResolveProperty(b, "p")
	if err != nil {
		t.Fatalf("ResolveProperty: %v", err)
	}
	if !resolved.Clear || resolved.Value.(types.StrValue).Value() != "base" {
		t.Fatalf("expected (base, clear=true), got (%v, clear=%v)", resolved.Value, resolved.Clear)
	}

	tx.SetPropertyValue(b, pd, types.NewInt(666), storage.OpNone)
	resolved, err = tx.ResolveProperty(b, "p")
	if err != nil {
		t.Fatalf("ResolveProperty after set: %v", err)
	}
	if resolved.Clear || resolved.Value.(types.IntValue).Val != 666 {
		t.Fatalf("expected (666, clear=false), got (%v, clear=%v)", resolved.Value, resolved.Clear)
	}

	tx.ClearPropertyValue(b, pd)
	resolved, err = tx.ResolveProperty(b, "p")
	if err != nil {
		t.Fatalf("ResolveProperty after clear: %v", err)
	}
	if !resolved.Clear || resolved.Value.(types.StrValue).Value() != "base" {
		t.Fatalf("expected back to (base, clear=true), got (%v, clear=%v)", resolved.Value, resolved.Clear)
	}
}

// TestReparentDropsInheritedProperties is spec §8 scenario 5.
func TestReparentDropsInheritedProperties(t *testing.T) {
	wd := newTestDB()
	tx := wd.Begin()

	a := tx.CreateObject(types.ObjID(0))
	if _, err := tx.DefineProperty(a, "p", types.ObjID(0), db.PropRead); err != nil {
		t.Fatalf("DefineProperty: %v", err)
	}
	b := tx.CreateObject(types.ObjID(0))
	if err := tx.Reparent(b, a); err != nil {
		t.Fatalf("Reparent to a: %v", err)
	}
	c := tx.CreateObject(types.ObjID(0)) // unrelated to a

	if err := tx.Reparent(b, c); err != nil {
		t.Fatalf("Reparent to c: %v", err)
	}

	_, err := tx.ResolveProperty(b, "p")
	if err == nil {
		t.Fatal("expected E_PROPNF after reparenting away from definer's ancestry")
	}
	errVal, ok := err.(types.ErrValue)
	if !ok || errVal.Code() != types.E_PROPNF {
		t.Fatalf("expected E_PROPNF, got %v", err)
	}
}

func TestParentCycleRejected(t *testing.T) {
	wd := newTestDB()
	tx := wd.Begin()
	a := tx.CreateObject(types.ObjID(0))
	b := tx.CreateObject(types.ObjID(0))
	if err := tx.Reparent(b, a); err != nil {
		t.Fatalf("Reparent: %v", err)
	}
	if err := tx.Reparent(a, b); err == nil {
		t.Fatal("expected cycle rejection")
	}
}

func TestVerbResolutionGlob(t *testing.T) {
	wd := newTestDB()
	tx := wd.Begin()
	a := tx.CreateObject(types.ObjID(0))
	tx.DefineVerb(a, []string{"foo*bar"}, types.ObjID(0), db.VerbRead|db.VerbExecute, db.VerbArgs{This: "any", Prep: "any", That: "any"}, nil)

	for _, name := range []string{"foo", "foob", "fooba", "foobar"} {
		if _, _, err := tx.ResolveVerb(a, name, nil); err != nil {
			t.Fatalf("expected %q to resolve, got %v", name, err)
		}
	}
	if _, _, err := tx.ResolveVerb(a, "fo", nil); err == nil {
		t.Fatal("expected E_VERBNF for abbreviation shorter than required prefix")
	}
}

func TestObjectLocationInvariant(t *testing.T) {
	wd := newTestDB()
	tx := wd.Begin()
	room := tx.CreateObject(types.ObjID(0))
	thing := tx.CreateObject(types.ObjID(0))
	if err := tx.Move(thing, room); err != nil {
		t.Fatalf("Move: %v", err)
	}
	contents := tx.Contents(room)
	if len(contents) != 1 || contents[0] != thing {
		t.Fatalf("expected [thing] in contents, got %v", contents)
	}
	if tx.Location(thing) != room {
		t.Fatalf("expected thing's location to be room")
	}
}

func TestRecycleReparentsChildrenAndMovesContents(t *testing.T) {
	wd := newTestDB()
	tx := wd.Begin()
	grandparent := tx.CreateObject(types.ObjID(0))
	parent := tx.CreateObject(types.ObjID(0))
	child := tx.CreateObject(types.ObjID(0))
	item := tx.CreateObject(types.ObjID(0))

	if err := tx.Reparent(parent, grandparent); err != nil {
		t.Fatal(err)
	}
	if err := tx.Reparent(child, parent); err != nil {
		t.Fatal(err)
	}
	if err := tx.Move(item, parent); err != nil {
		t.Fatal(err)
	}

	if err := tx.Recycle(parent); err != nil {
		t.Fatalf("Recycle: %v", err)
	}

	if tx.Parent(child) != grandparent {
		t.Fatalf("expected child reparented to grandparent, got #%d", tx.Parent(child))
	}
	if tx.Location(item) != types.ObjID(types.NOTHING) {
		t.Fatalf("expected item's contents moved to NOTHING, got #%d", tx.Location(item))
	}
}
