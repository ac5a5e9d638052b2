package engine

import (
	"testing"

	"canopy/storage"
	"canopy/types"
	"canopy/world"

	"github.com/google/uuid"
)

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid.NewV7: %v", err)
	}
	return id
}

type fakeDispatcher struct {
	loginPlayer types.ObjID
	commands    []string
}

func (f *fakeDispatcher) DoLoginCommand(connID types.ObjID, argv []string) (types.ObjID, []string) {
	if f.loginPlayer == 0 {
		return types.ObjID(-1), nil
	}
	return f.loginPlayer, nil
}

func (f *fakeDispatcher) DoCommand(player types.ObjID, line string) (int64, error) {
	f.commands = append(f.commands, line)
	return 1, nil
}

func (f *fakeDispatcher) DoEval(player types.ObjID, source string) (int64, error) {
	return 2, nil
}

func (f *fakeDispatcher) RequestSysProp(player, objID types.ObjID, propName string) (types.Value, error) {
	return types.NewStr("ok"), nil
}

func (f *fakeDispatcher) Verbs(objID types.ObjID) ([]VerbDescriptor, error) { return nil, nil }

func (f *fakeDispatcher) Properties(objID types.ObjID) ([]PropDescriptor, error) { return nil, nil }

func newTestCore(t *testing.T, d Dispatcher) *Core {
	t.Helper()
	db := world.NewDatabase(storage.NewEngine(nil))
	return NewCore(db, d)
}

func TestEstablishConnectionAssignsNegativeObjID(t *testing.T) {
	c := newTestCore(t, &fakeDispatcher{})

	nc, err := c.EstablishConnection("127.0.0.1", 7777, 54321, nil, nil)
	if err != nil {
		t.Fatalf("EstablishConnection: %v", err)
	}
	if nc.ConnectionObj >= 0 {
		t.Errorf("pre-login connection object = %d, want negative", nc.ConnectionObj)
	}
}

func TestLoginCommandFailureStaysUnauthenticated(t *testing.T) {
	c := newTestCore(t, &fakeDispatcher{})

	nc, _ := c.EstablishConnection("127.0.0.1", 7777, 1, nil, nil)
	result, err := c.LoginCommand(nc.ClientToken, types.ObjID(0), []string{"nope"}, true)
	if err != nil {
		t.Fatalf("LoginCommand: %v", err)
	}
	if result.Success {
		t.Error("login should have failed")
	}

	_, err = c.Command(nc.ClientToken, result.AuthToken, nc.ConnectionObj, "look")
	if err == nil {
		t.Error("Command on an unauthenticated session should fail")
	}
}

func TestLoginCommandSuccessThenCommand(t *testing.T) {
	disp := &fakeDispatcher{loginPlayer: types.ObjID(5)}
	c := newTestCore(t, disp)

	nc, _ := c.EstablishConnection("127.0.0.1", 7777, 1, nil, nil)
	result, err := c.LoginCommand(nc.ClientToken, types.ObjID(0), []string{"connect", "wizard"}, true)
	if err != nil {
		t.Fatalf("LoginCommand: %v", err)
	}
	if !result.Success {
		t.Fatal("login should have succeeded")
	}

	submitted, err := c.Command(nc.ClientToken, result.AuthToken, types.ObjID(5), "look")
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if submitted.TaskID != 1 {
		t.Errorf("TaskID = %d, want 1", submitted.TaskID)
	}
	if len(disp.commands) != 1 || disp.commands[0] != "look" {
		t.Errorf("dispatcher did not receive command: %v", disp.commands)
	}
}

func TestRequestedInputDeliversToWaiter(t *testing.T) {
	c := newTestCore(t, &fakeDispatcher{loginPlayer: types.ObjID(5)})
	nc, _ := c.EstablishConnection("127.0.0.1", 7777, 1, nil, nil)
	result, err := c.LoginCommand(nc.ClientToken, types.ObjID(0), nil, true)
	if err != nil || !result.Success {
		t.Fatalf("LoginCommand: %v, %+v", err, result)
	}

	reqID := mustUUID(t)
	ch := c.RequestInput(reqID)

	if _, err := c.RequestedInput(nc.ClientToken, result.AuthToken, reqID, types.NewStr("hi")); err != nil {
		t.Fatalf("RequestedInput: %v", err)
	}

	select {
	case v := <-ch:
		if v.(types.StrValue).Value() != "hi" {
			t.Errorf("delivered value = %v, want %q", v, "hi")
		}
	default:
		t.Fatal("RequestInput channel did not receive a value")
	}
}

func TestDetachRemovesConnection(t *testing.T) {
	c := newTestCore(t, &fakeDispatcher{})
	nc, _ := c.EstablishConnection("127.0.0.1", 7777, 1, nil, nil)

	c.Detach(nc.ClientToken, true)

	c.mu.Lock()
	_, stillThere := c.connections[nc.ClientToken]
	c.mu.Unlock()
	if stillThere {
		t.Error("connection should be removed after Detach")
	}
}
