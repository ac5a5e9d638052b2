package narrative

import (
	"sync"
	"testing"
	"time"

	"canopy/types"
)

func notify(player types.ObjID, msg string) Event {
	return Event{Player: player, Kind: KindNotify, Message: types.NewStr(msg)}
}

func TestBasicNarrativeOperations(t *testing.T) {
	l := New(DefaultConfig(), nil)
	defer l.Shutdown()
	player := types.ObjID(1)

	id1 := l.Append(player, notify(player, "hello"))
	id2 := l.Append(player, notify(player, "world"))

	if l.Len() != 2 {
		t.Fatalf("expected 2 cached events, got %d", l.Len())
	}

	all := l.EventsSince(nil)
	if len(all) != 2 || all[0].ID != id1 || all[1].ID != id2 {
		t.Fatalf("expected [id1, id2] in order, got %v", all)
	}

	since1 := l.EventsSince(&id1)
	if len(since1) != 1 || since1[0].ID != id2 {
		t.Fatalf("expected only id2 since id1, got %v", since1)
	}

	until2 := l.EventsUntil(&id2)
	if len(until2) != 1 || until2[0].ID != id1 {
		t.Fatalf("expected only id1 until id2, got %v", until2)
	}
}

func TestPresentationStateManagement(t *testing.T) {
	l := New(DefaultConfig(), nil)
	defer l.Shutdown()
	player := types.ObjID(1)

	if p := l.CurrentPresentations(player); len(p) != 0 {
		t.Fatalf("expected no presentations initially, got %v", p)
	}

	l.Append(player, Event{Kind: KindPresent, Presentation: Presentation{ID: "widget1", Content: "Hello World"}})
	l.Append(player, Event{Kind: KindPresent, Presentation: Presentation{ID: "widget2", Content: "Goodbye World"}})

	p := l.CurrentPresentations(player)
	if len(p) != 2 || p["widget1"].Content != "Hello World" {
		t.Fatalf("expected two presentations, got %v", p)
	}

	l.Append(player, Event{Kind: KindPresent, Presentation: Presentation{ID: "widget1", Content: "Updated Content"}})
	p = l.CurrentPresentations(player)
	if p["widget1"].Content != "Updated Content" || len(p) != 2 {
		t.Fatalf("expected widget1 updated in place, got %v", p)
	}

	l.Append(player, Event{Kind: KindUnpresent, PresentationID: "widget1"})
	p = l.CurrentPresentations(player)
	if _, ok := p["widget1"]; ok || len(p) != 1 {
		t.Fatalf("expected widget1 removed, got %v", p)
	}

	if l.Len() != 0 {
		t.Fatalf("present/unpresent must not appear in the chronological log, got %d events", l.Len())
	}
}

func TestMultiplePlayersIsolation(t *testing.T) {
	l := New(DefaultConfig(), nil)
	defer l.Shutdown()
	p1, p2, p3 := types.ObjID(1), types.ObjID(2), types.ObjID(3)

	id1 := l.Append(p1, notify(p1, "p1_event1"))
	l.Append(p2, notify(p2, "p2_event1"))
	id3 := l.Append(p1, notify(p1, "p1_event2"))
	l.Append(p3, notify(p3, "p3_event1"))
	l.Append(p2, notify(p2, "p2_event2"))

	p1Events := l.EventsForPlayerSince(p1, nil)
	if len(p1Events) != 2 || p1Events[0].ID != id1 || p1Events[1].ID != id3 {
		t.Fatalf("expected [id1, id3] for p1, got %v", p1Events)
	}

	p3Events := l.EventsForPlayerSince(p3, nil)
	if len(p3Events) != 1 {
		t.Fatalf("expected 1 event for p3, got %d", len(p3Events))
	}

	since := l.EventsForPlayerSince(p1, &id1)
	if len(since) != 1 || since[0].ID != id3 {
		t.Fatalf("expected only id3 for p1 since id1, got %v", since)
	}
}

func TestCachePruning(t *testing.T) {
	cfg := Config{CacheDays: 1, MaxCacheEvents: 5, WriteBatchSize: 10}
	l := New(cfg, nil)
	defer l.Shutdown()
	player := types.ObjID(1)

	for i := 0; i < 10; i++ {
		l.Append(player, notify(player, "event"))
	}

	if l.Len() > 5 {
		t.Fatalf("expected cache pruned to <= 5, got %d", l.Len())
	}
}

func TestEventsSinceSecondsWithLimit(t *testing.T) {
	l := New(DefaultConfig(), nil)
	defer l.Shutdown()
	player := types.ObjID(1)

	for i := 0; i < 3; i++ {
		l.Append(player, notify(player, "e"))
	}

	all := l.EventsSinceSeconds(60)
	if len(all) != 3 {
		t.Fatalf("expected 3 recent events, got %d", len(all))
	}

	limited := l.EventsForPlayerSinceSecondsWithLimit(player, 60, 2)
	if len(limited) != 2 {
		t.Fatalf("expected limit applied, got %d", len(limited))
	}
}

func TestConcurrentAppend(t *testing.T) {
	l := New(DefaultConfig(), nil)
	defer l.Shutdown()

	var wg sync.WaitGroup
	for tid := 0; tid < 5; tid++ {
		tid := types.ObjID(tid)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				l.Append(tid, notify(tid, "event"))
			}
		}()
	}
	wg.Wait()

	if l.Len() != 50 {
		t.Fatalf("expected 50 events total, got %d", l.Len())
	}
	for tid := 0; tid < 5; tid++ {
		got := l.EventsForPlayerSince(types.ObjID(tid), nil)
		if len(got) != 10 {
			t.Fatalf("player %d expected 10 events, got %d", tid, len(got))
		}
	}
}

func TestConnectionObjectEventsAreDropped(t *testing.T) {
	l := New(DefaultConfig(), nil)
	defer l.Shutdown()
	conn := types.ObjID(-1000)

	l.Append(conn, notify(conn, "pre-login banner"))
	if l.Len() != 0 {
		t.Fatalf("expected connection-object events dropped, got %d cached", l.Len())
	}
}

func TestCacheMissFallsThroughToDisk(t *testing.T) {
	dir := t.TempDir()
	player := types.ObjID(1)

	p1, err := OpenPersister(dir + "/narrative.db")
	if err != nil {
		t.Fatalf("OpenPersister: %v", err)
	}
	l1 := New(Config{CacheDays: 1, MaxCacheEvents: 100, WriteBatchSize: 1}, p1)
	for i := 0; i < 5; i++ {
		l1.Append(player, notify(player, "persisted"))
	}
	l1.Shutdown()
	p1.Close()

	p2, err := OpenPersister(dir + "/narrative.db")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	l2 := New(Config{CacheDays: 1, MaxCacheEvents: 100, WriteBatchSize: 1}, p2)
	defer l2.Shutdown()

	if l2.Len() != 0 {
		t.Fatalf("expected fresh cache to start empty, got %d", l2.Len())
	}
	disk := l2.EventsForPlayerSinceSeconds(player, 60)
	if len(disk) != 5 {
		t.Fatalf("expected 5 events recovered from disk, got %d", len(disk))
	}
}

func TestEventsForPlayerSinceSecondsMergesCacheAndDisk(t *testing.T) {
	dir := t.TempDir()
	player := types.ObjID(1)
	persist, err := OpenPersister(dir + "/narrative.db")
	if err != nil {
		t.Fatalf("OpenPersister: %v", err)
	}
	defer persist.Close()

	l := New(Config{CacheDays: 1, MaxCacheEvents: 2, WriteBatchSize: 1}, persist)
	defer l.Shutdown()

	for i := 0; i < 5; i++ {
		l.Append(player, notify(player, "e"))
	}
	time.Sleep(50 * time.Millisecond)

	merged := l.EventsForPlayerSinceSeconds(player, 60)
	if len(merged) != 5 {
		t.Fatalf("expected 5 merged events (cache + evicted-to-disk), got %d", len(merged))
	}
}
