// Package engine implements the Host<->Engine request/reply contract
// (spec §6), generalizing the teacher's server/transport.go +
// server/connection.go connection-and-dispatch split. Wire framing stays
// out of scope: Requests is a plain Go interface a transport adapter
// calls into, exactly as the teacher's Transport interface already
// separates telnet framing from command dispatch.
package engine

import (
	"time"

	"canopy/metrics"
	"canopy/narrative"
	"canopy/types"

	"github.com/google/uuid"
)

// ClientToken identifies one host-registered client connection.
type ClientToken uuid.UUID

// AuthToken identifies one authenticated (logged-in) session on top of a
// client connection.
type AuthToken uuid.UUID

// Ack is the reply to requests that only need a success/failure signal.
type Ack struct {
	OK    bool
	Error string
}

// NewConnection is EstablishConnection's reply.
type NewConnection struct {
	ClientToken   ClientToken
	ConnectionObj types.ObjID
}

// LoginResult is LoginCommand's reply.
type LoginResult struct {
	Success   bool
	AuthToken AuthToken
	Traceback []string
}

// TaskSubmitted is Command/Eval's reply: the id of the task the
// scheduler queued to handle the request.
type TaskSubmitted struct {
	TaskID int64
}

// InputThanks is RequestedInput's reply.
type InputThanks struct{}

// Disconnected is Detach's reply.
type Disconnected struct{}

// CountersReply is PerformanceCounters' reply.
type CountersReply struct {
	Counters  metrics.Snapshot
	Timestamp time.Time
}

// Requests is the synchronous request API a host invokes against the
// engine core (spec §6). Each method corresponds to one request variant;
// tagging by caller identity (host vs. client token) is the concrete
// argument shape below rather than a separate envelope type, matching the
// teacher's preference for typed method signatures over a generic
// dispatch-by-string-name request object.
type Requests interface {
	RegisterHost(hostType string, listeners []string) Ack
	DetachHost() Ack
	PerformanceCounters() CountersReply

	EstablishConnection(remoteAddr string, localPort, remotePort int, contentTypes []string, attrs map[string]string) (NewConnection, error)
	LoginCommand(client ClientToken, handlerObj types.ObjID, argv []string, doAttach bool) (LoginResult, error)

	Command(client ClientToken, auth AuthToken, player types.ObjID, line string) (TaskSubmitted, error)
	Eval(client ClientToken, auth AuthToken, player types.ObjID, source string) (TaskSubmitted, error)

	RequestSysProp(client ClientToken, auth AuthToken, objID types.ObjID, propName string) (types.Value, error)
	Verbs(client ClientToken, auth AuthToken, objID types.ObjID) ([]VerbDescriptor, error)
	Properties(client ClientToken, auth AuthToken, objID types.ObjID) ([]PropDescriptor, error)

	RequestedInput(client ClientToken, auth AuthToken, requestID uuid.UUID, value types.Value) (InputThanks, error)
	ClientPong(client ClientToken) Ack
	HostPong(hostType string) Ack

	Detach(client ClientToken, disconnected bool) Disconnected
}

// VerbDescriptor and PropDescriptor are the structured descriptors the
// spec's Verbs/Properties requests return.
type VerbDescriptor struct {
	Name  string
	Owner types.ObjID
	Perms string
	Args  string
}

type PropDescriptor struct {
	Name  string
	Owner types.ObjID
	Perms string
	Value types.Value
}

// HostEvent is one Engine->Host event: a narrative event for a player,
// an input request, a system message, a disconnect notice, or a host
// broadcast (spec §6 "Engine -> Host events").
type HostEvent struct {
	Kind       HostEventKind
	Player     types.ObjID
	Narrative  *narrative.Event
	RequestID  uuid.UUID
	Message    string
	Disconnect bool
}

type HostEventKind int

const (
	HostEventNarrative HostEventKind = iota
	HostEventRequestInput
	HostEventSystemMessage
	HostEventDisconnect
	HostEventBroadcast
)
