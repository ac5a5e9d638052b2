package types

import "encoding/gob"

// init registers every concrete Value implementation (and the other
// interned/identity types stored inside storage.Value / gob-encoded
// narrative events) with the gob encoder, so any package that persists an
// any-typed Value through encoding/gob does not need to repeat this
// per-package.
func init() {
	gob.Register(BoolValue{})
	gob.Register(ErrValue{})
	gob.Register(FloatValue{})
	gob.Register(IntValue{})
	gob.Register(ListValue{})
	gob.Register(MapValue{})
	gob.Register(NoneValue{})
	gob.Register(ObjValue{})
	gob.Register(StrValue{})
	gob.Register(Symbol{})
	gob.Register(UnboundValue{})
	gob.Register(UUIDObjID{})
	gob.Register(WaifValue{})
}
