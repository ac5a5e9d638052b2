package types

import "github.com/google/uuid"

// UUIDObjID is the 128-bit UUID-based object identifier variant spec §3
// names alongside the classic 32-bit numbered id and the anonymous
// handle. It is used for flyweight delegates and verb/property
// definitions that must keep a stable identity across object renumbering
// (spec §4.2 reparenting, §9 "mutable tree").
type UUIDObjID struct {
	uuid.UUID
}

// NewUUIDObjID allocates a fresh, time-ordered (UUIDv7) identifier.
func NewUUIDObjID() UUIDObjID {
	id, err := uuid.NewV7()
	if err != nil {
		// crypto/rand failure is unrecoverable; v4 still yields a valid,
		// merely non-time-ordered, unique id.
		id = uuid.New()
	}
	return UUIDObjID{id}
}

func (u UUIDObjID) String() string {
	return u.UUID.String()
}
