// Package narrative implements the chronological, append-only narrative
// event log: the record of everything a connected player has been told
// (spec §4.7), plus the separate "current presentation state" side-channel
// for out-of-band UI widgets.
package narrative

import (
	"fmt"
	"time"

	"canopy/types"

	"github.com/google/uuid"
)

// Kind discriminates the four event shapes the log carries. Only Notify
// and Traceback are chronological narrative events; Present/Unpresent
// mutate a player's current presentation state instead and are never
// appended to the chronological log.
type Kind int

const (
	KindNotify Kind = iota
	KindTraceback
	KindPresent
	KindUnpresent
)

func (k Kind) String() string {
	switch k {
	case KindNotify:
		return "notify"
	case KindTraceback:
		return "traceback"
	case KindPresent:
		return "present"
	case KindUnpresent:
		return "unpresent"
	default:
		return "unknown"
	}
}

// Presentation is a named, targetable piece of out-of-band content (a
// status widget, a map, a form) that the client renders until explicitly
// dismissed.
type Presentation struct {
	ID          string
	ContentType string
	Content     string
	Target      string
	Attributes  map[string]string
}

// Event is one entry produced by a verb call (notify(), present(),
// unpresent(), or an uncaught traceback). ID is a UUIDv7, so chronological
// order and ID order coincide.
type Event struct {
	ID        uuid.UUID
	Player    types.ObjID
	Kind      Kind
	Author    types.Value
	Message   types.Value
	Traceback []string
	Presentation
	PresentationID string
	Timestamp      time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s[%s]#%d@%s", e.Kind, e.ID, e.Player, e.Timestamp.Format(time.RFC3339))
}

// newEventID mints a chronologically-ordered event id. Falls back to a
// random v4 if the host clock/entropy source rejects v7 (mirrors
// types.NewUUIDObjID's fallback).
func newEventID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
