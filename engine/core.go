package engine

import (
	"fmt"
	"sync"
	"time"

	"canopy/metrics"
	"canopy/storage"
	"canopy/types"
	"canopy/world"

	"github.com/google/uuid"
)

// RelConnection is the storage relation backing the "optional connection
// registry" (spec §6): one row per live client, keyed by its client uuid.
const RelConnection storage.Relation = "connection_registry"

// ConnectionRecord is RelConnection's value shape.
type ConnectionRecord struct {
	ClientToken  ClientToken
	AuthToken    AuthToken
	Player       types.ObjID
	RemoteHost   string
	LocalPort    int
	RemotePort   int
	ContentTypes []string
	Attrs        map[string]string
	LoggedIn     bool
}

// Dispatcher runs MOO code on behalf of Core's Command/Eval/LoginCommand
// requests. Core owns connection/session bookkeeping; a Dispatcher (wired
// in cmd/, backed by the scheduler + compiler) owns actually running
// code, keeping engine/ decoupled from the VM the way the teacher's
// Transport interface keeps connection.go decoupled from telnet framing.
type Dispatcher interface {
	DoLoginCommand(connID types.ObjID, argv []string) (player types.ObjID, traceback []string)
	DoCommand(player types.ObjID, line string) (taskID int64, err error)
	DoEval(player types.ObjID, source string) (taskID int64, err error)
	RequestSysProp(player types.ObjID, objID types.ObjID, propName string) (types.Value, error)
	Verbs(objID types.ObjID) ([]VerbDescriptor, error)
	Properties(objID types.ObjID) ([]PropDescriptor, error)
}

// Core implements Requests against a world.Database and an injected
// Dispatcher, generalizing the teacher's ConnectionManager (connection
// bookkeeping) split from Scheduler (actual execution).
type Core struct {
	db         *world.Database
	dispatcher Dispatcher

	mu          sync.Mutex
	connections map[ClientToken]*ConnectionRecord
	nextConnID  int64

	inputWaiters   map[uuid.UUID]chan types.Value
	inputWaitersMu sync.Mutex
}

// NewCore builds a Core over db, delegating command/eval execution to d.
func NewCore(db *world.Database, d Dispatcher) *Core {
	return &Core{
		db:           db,
		dispatcher:   d,
		connections:  make(map[ClientToken]*ConnectionRecord),
		nextConnID:   2, // matches the teacher's ConnectionManager: first conn is -2, -1 stays NOTHING
		inputWaiters: make(map[uuid.UUID]chan types.Value),
	}
}

func (c *Core) RegisterHost(hostType string, listeners []string) Ack {
	return Ack{OK: true}
}

func (c *Core) DetachHost() Ack {
	return Ack{OK: true}
}

func (c *Core) PerformanceCounters() CountersReply {
	return CountersReply{Counters: metrics.Read(), Timestamp: time.Now()}
}

func (c *Core) EstablishConnection(remoteAddr string, localPort, remotePort int, contentTypes []string, attrs map[string]string) (NewConnection, error) {
	token := ClientToken(uuid.New())

	c.mu.Lock()
	connID := c.nextConnID
	c.nextConnID++
	record := &ConnectionRecord{
		ClientToken:  token,
		Player:       types.ObjID(-connID),
		RemoteHost:   remoteAddr,
		LocalPort:    localPort,
		RemotePort:   remotePort,
		ContentTypes: contentTypes,
		Attrs:        attrs,
	}
	c.connections[token] = record
	c.mu.Unlock()

	tx := c.db.Begin()
	tx.Storage().Put(RelConnection, token, *record, storage.OpNone)
	if _, err := tx.Storage().Commit(); err != nil {
		return NewConnection{}, fmt.Errorf("engine: persist connection: %w", err)
	}

	metrics.ActiveConnections.Inc()
	return NewConnection{ClientToken: token, ConnectionObj: record.Player}, nil
}

func (c *Core) LoginCommand(client ClientToken, handlerObj types.ObjID, argv []string, doAttach bool) (LoginResult, error) {
	c.mu.Lock()
	record, ok := c.connections[client]
	c.mu.Unlock()
	if !ok {
		return LoginResult{}, fmt.Errorf("engine: unknown client token")
	}

	player, traceback := c.dispatcher.DoLoginCommand(record.Player, argv)
	if len(traceback) > 0 {
		return LoginResult{Success: false, Traceback: traceback}, nil
	}
	if player <= 0 {
		return LoginResult{Success: false}, nil
	}

	auth := AuthToken(uuid.New())
	c.mu.Lock()
	record.Player = player
	record.AuthToken = auth
	record.LoggedIn = true
	c.mu.Unlock()

	if doAttach {
		tx := c.db.Begin()
		tx.Storage().Put(RelConnection, client, *record, storage.OpNone)
		if _, err := tx.Storage().Commit(); err != nil {
			return LoginResult{}, fmt.Errorf("engine: persist login: %w", err)
		}
	}

	return LoginResult{Success: true, AuthToken: auth}, nil
}

// requireSession validates that client refers to a logged-in connection
// whose auth token matches. Command/Eval/RequestSysProp/Verbs/Properties
// all require an authenticated session (spec §6: auth_token is only
// issued by a successful LoginCommand).
func (c *Core) requireSession(client ClientToken, auth AuthToken) (*ConnectionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.connections[client]
	if !ok {
		return nil, fmt.Errorf("engine: unknown client token")
	}
	if !record.LoggedIn || record.AuthToken != auth {
		return nil, fmt.Errorf("engine: not authenticated")
	}
	return record, nil
}

func (c *Core) Command(client ClientToken, auth AuthToken, player types.ObjID, line string) (TaskSubmitted, error) {
	if _, err := c.requireSession(client, auth); err != nil {
		return TaskSubmitted{}, err
	}
	id, err := c.dispatcher.DoCommand(player, line)
	if err != nil {
		return TaskSubmitted{}, err
	}
	return TaskSubmitted{TaskID: id}, nil
}

func (c *Core) Eval(client ClientToken, auth AuthToken, player types.ObjID, source string) (TaskSubmitted, error) {
	if _, err := c.requireSession(client, auth); err != nil {
		return TaskSubmitted{}, err
	}
	id, err := c.dispatcher.DoEval(player, source)
	if err != nil {
		return TaskSubmitted{}, err
	}
	return TaskSubmitted{TaskID: id}, nil
}

func (c *Core) RequestSysProp(client ClientToken, auth AuthToken, objID types.ObjID, propName string) (types.Value, error) {
	if _, err := c.requireSession(client, auth); err != nil {
		return nil, err
	}
	return c.dispatcher.RequestSysProp(types.ObjID(0), objID, propName)
}

func (c *Core) Verbs(client ClientToken, auth AuthToken, objID types.ObjID) ([]VerbDescriptor, error) {
	if _, err := c.requireSession(client, auth); err != nil {
		return nil, err
	}
	return c.dispatcher.Verbs(objID)
}

func (c *Core) Properties(client ClientToken, auth AuthToken, objID types.ObjID) ([]PropDescriptor, error) {
	if _, err := c.requireSession(client, auth); err != nil {
		return nil, err
	}
	return c.dispatcher.Properties(objID)
}

// RequestInput registers an input request that a future RequestedInput
// call will deliver a value to; a Dispatcher's read()-suspended task
// waits on the returned channel.
func (c *Core) RequestInput(requestID uuid.UUID) <-chan types.Value {
	ch := make(chan types.Value, 1)
	c.inputWaitersMu.Lock()
	c.inputWaiters[requestID] = ch
	c.inputWaitersMu.Unlock()
	return ch
}

func (c *Core) RequestedInput(client ClientToken, auth AuthToken, requestID uuid.UUID, value types.Value) (InputThanks, error) {
	if _, err := c.requireSession(client, auth); err != nil {
		return InputThanks{}, err
	}
	c.inputWaitersMu.Lock()
	ch, ok := c.inputWaiters[requestID]
	delete(c.inputWaiters, requestID)
	c.inputWaitersMu.Unlock()
	if ok {
		ch <- value
		close(ch)
	}
	return InputThanks{}, nil
}

func (c *Core) ClientPong(client ClientToken) Ack {
	return Ack{OK: true}
}

func (c *Core) HostPong(hostType string) Ack {
	return Ack{OK: true}
}

func (c *Core) Detach(client ClientToken, disconnected bool) Disconnected {
	c.mu.Lock()
	_, ok := c.connections[client]
	if ok {
		delete(c.connections, client)
	}
	c.mu.Unlock()

	if ok {
		tx := c.db.Begin()
		tx.Storage().Del(RelConnection, client)
		_, _ = tx.Storage().Commit()
		metrics.ActiveConnections.Dec()
	}
	return Disconnected{}
}
