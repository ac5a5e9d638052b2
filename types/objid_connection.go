package types

// Connection handles are ephemeral, negative ObjIDs below the reserved
// sentinel range (NOTHING/AMBIGUOUS/FAILED_MATCH occupy -1..-3) used to
// name a not-yet-logged-in session. The world never persists them (spec
// §3 "Negative numbered ids denote ephemeral connection/session handles").
const connectionBase ObjID = -1000

// IsConnection reports whether id names an ephemeral connection handle
// rather than a world object.
func IsConnection(id ObjID) bool {
	return id <= connectionBase
}

// ConnectionHandle derives the ObjID used to address the n-th
// not-yet-authenticated connection (n >= 0).
func ConnectionHandle(n int64) ObjID {
	return connectionBase - ObjID(n)
}
