package storage

import "encoding/gob"

// init registers storage's own composite relation-value shapes (beyond the
// types.Value implementations types itself registers) so BoltPersister can
// gob-encode them directly.
func init() {
	gob.Register(ValueList{})
	gob.Register(MapPair{})
	gob.Register(ValueMap{})
	gob.Register(FlyweightSlots{})
}
