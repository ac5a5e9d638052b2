package narrative

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"canopy/types"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// Config tunes the in-memory cache and the background writer (spec §4.7).
type Config struct {
	// CacheDays is how many days of events to keep in memory per the
	// age-based pruning pass, once MaxCacheEvents is exceeded.
	CacheDays int `yaml:"cache_days"`
	// MaxCacheEvents bounds the cache regardless of age.
	MaxCacheEvents int `yaml:"max_cache_events"`
	// WriteBatchSize is how many pending writes the background writer
	// drains before flushing to disk.
	WriteBatchSize int `yaml:"write_batch_size"`
}

// DefaultConfig matches the teacher's defaults: a week of cache, capped at
// 10k events, written in batches of 100.
func DefaultConfig() Config {
	return Config{CacheDays: 7, MaxCacheEvents: 10000, WriteBatchSize: 100}
}

type cacheItem struct{ Event }

func lessByID(a, b cacheItem) bool {
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// writeJob is what the background writer goroutine drains.
type writeJob struct {
	event        *Event
	presentation *playerPresentations
}

type playerPresentations struct {
	player types.ObjID
	state  map[string]Presentation
}

// Log is the narrative event log: an in-memory chronological cache over
// Events, a separate per-player presentation-state map, and a background
// writer persisting both to disk. Event appends never wait on the writer;
// presentation updates wait for room in the writer's queue.
type Log struct {
	cfg Config

	mu    sync.RWMutex
	cache *btree.BTreeG[cacheItem]

	presMu        sync.RWMutex
	presentations map[types.ObjID]map[string]Presentation

	persist *Persister
	writes  chan writeJob
	done    chan struct{}
	once    sync.Once
}

// New builds a Log. persist may be nil to run purely in memory (tests,
// embedded REPL use); otherwise it is consulted on every cache miss and
// fed by the background writer.
func New(cfg Config, persist *Persister) *Log {
	l := &Log{
		cfg:           cfg,
		cache:         btree.NewG(32, lessByID),
		presentations: make(map[types.ObjID]map[string]Presentation),
		persist:       persist,
		writes:        make(chan writeJob, 1024),
		done:          make(chan struct{}),
	}
	go l.writerLoop()
	return l
}

func (l *Log) writerLoop() {
	defer close(l.done)
	if l.persist == nil {
		for range l.writes {
		}
		return
	}
	batch := make([]Event, 0, l.cfg.WriteBatchSize)
	flush := func() {
		for _, e := range batch {
			if err := l.persist.writeEvent(e); err != nil {
				continue
			}
		}
		batch = batch[:0]
	}
	for job := range l.writes {
		switch {
		case job.event != nil:
			batch = append(batch, *job.event)
			if len(batch) >= l.cfg.WriteBatchSize {
				flush()
			}
		case job.presentation != nil:
			flush()
			_ = l.persist.writePresentations(job.presentation.player, job.presentation.state)
		}
	}
	flush()
}

// Shutdown drains pending writes and stops the background writer. Safe to
// call more than once.
func (l *Log) Shutdown() {
	l.once.Do(func() {
		close(l.writes)
		<-l.done
	})
}

// Append records one event, returning its id. Notify/Traceback events join
// the chronological log; Present/Unpresent mutate presentation state
// instead and are never stored chronologically. Events for connection
// objects (negative ids, not yet logged in) are dropped — there is no
// player identity to file them under yet.
func (l *Log) Append(player types.ObjID, e Event) uuid.UUID {
	if e.ID == (uuid.UUID{}) {
		e.ID = newEventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Player = player

	if player < 0 {
		return e.ID
	}

	switch e.Kind {
	case KindNotify, KindTraceback:
		l.appendNarrative(e)
	case KindPresent:
		l.updatePresentation(player, e.Presentation)
	case KindUnpresent:
		l.removePresentation(player, e.PresentationID)
	}
	return e.ID
}

func (l *Log) appendNarrative(e Event) {
	l.mu.Lock()
	l.cache.ReplaceOrInsert(cacheItem{e})
	l.pruneLocked()
	l.mu.Unlock()

	select {
	case l.writes <- writeJob{event: &e}:
	default:
		// Writer is backed up: the event is not queued for disk at all.
		// It stays in the cache only and answers queries until evicted.
	}
}

func (l *Log) updatePresentation(player types.ObjID, p Presentation) {
	l.presMu.Lock()
	m := l.presentations[player]
	if m == nil {
		m = make(map[string]Presentation)
		l.presentations[player] = m
	}
	m[p.ID] = p
	snapshot := cloneMap(m)
	l.presMu.Unlock()

	l.writes <- writeJob{presentation: &playerPresentations{player: player, state: snapshot}}
}

func (l *Log) removePresentation(player types.ObjID, id string) {
	l.presMu.Lock()
	m := l.presentations[player]
	if m == nil {
		l.presMu.Unlock()
		return
	}
	delete(m, id)
	snapshot := cloneMap(m)
	l.presMu.Unlock()

	l.writes <- writeJob{presentation: &playerPresentations{player: player, state: snapshot}}
}

func cloneMap(m map[string]Presentation) map[string]Presentation {
	out := make(map[string]Presentation, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// pruneLocked evicts by age first, then oldest-first, until the cache is
// back under MaxCacheEvents. Caller must hold l.mu.
func (l *Log) pruneLocked() {
	if l.cache.Len() <= l.cfg.MaxCacheEvents {
		return
	}
	cutoff := time.Now().Add(-time.Duration(l.cfg.CacheDays) * 24 * time.Hour)
	var stale []cacheItem
	l.cache.Ascend(func(it cacheItem) bool {
		if it.Timestamp.Before(cutoff) {
			stale = append(stale, it)
		}
		return true
	})
	for _, it := range stale {
		l.cache.Delete(it)
	}
	for l.cache.Len() > l.cfg.MaxCacheEvents {
		oldest, ok := l.cache.Min()
		if !ok {
			break
		}
		l.cache.Delete(oldest)
	}
}

// CurrentPresentations returns player's live presentation state.
func (l *Log) CurrentPresentations(player types.ObjID) map[string]Presentation {
	l.presMu.RLock()
	defer l.presMu.RUnlock()
	return cloneMap(l.presentations[player])
}

// LoadPlayerPresentations populates in-memory presentation state for
// player from disk, e.g. on reconnect.
func (l *Log) LoadPlayerPresentations(player types.ObjID) (map[string]Presentation, error) {
	if l.persist == nil {
		return nil, nil
	}
	state, err := l.persist.loadPresentations(player)
	if err != nil || state == nil {
		return nil, err
	}
	l.presMu.Lock()
	l.presentations[player] = state
	l.presMu.Unlock()
	return cloneMap(state), nil
}

// EventsSince returns every cached event with id strictly greater than
// since (or every cached event, if since is nil), oldest first. Falls
// through to disk only when the cache came back empty.
func (l *Log) EventsSince(since *uuid.UUID) []Event {
	events := l.cacheEventsSince(since)
	if len(events) > 0 || l.persist == nil {
		return events
	}
	disk, err := l.persist.eventsSince(since)
	if err != nil {
		return events
	}
	return disk
}

func (l *Log) cacheEventsSince(since *uuid.UUID) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	if since == nil {
		l.cache.Ascend(func(it cacheItem) bool {
			out = append(out, it.Event)
			return true
		})
		return out
	}
	pivot := cacheItem{Event{ID: *since}}
	l.cache.AscendGreaterOrEqual(pivot, func(it cacheItem) bool {
		if it.ID != *since {
			out = append(out, it.Event)
		}
		return true
	})
	return out
}

// EventsSinceWithLimit is EventsSince truncated to at most limit results.
func (l *Log) EventsSinceWithLimit(since *uuid.UUID, limit int) []Event {
	return truncate(l.EventsSince(since), limit)
}

// EventsUntil returns every cached event with id strictly less than
// until, oldest first. Unlike EventsSince this never falls through to
// disk (mirrors the teacher's behavior: "until" queries are for scrolling
// recently-seen history, which is always in cache).
func (l *Log) EventsUntil(until *uuid.UUID) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	if until == nil {
		l.cache.Ascend(func(it cacheItem) bool {
			out = append(out, it.Event)
			return true
		})
		return out
	}
	pivot := cacheItem{Event{ID: *until}}
	l.cache.AscendLessThan(pivot, func(it cacheItem) bool {
		out = append(out, it.Event)
		return true
	})
	return out
}

// EventsUntilWithLimit is EventsUntil truncated to at most limit results.
func (l *Log) EventsUntilWithLimit(until *uuid.UUID, limit int) []Event {
	return truncate(l.EventsUntil(until), limit)
}

// EventsSinceSeconds returns every cached event timestamped within the
// last secondsAgo seconds.
func (l *Log) EventsSinceSeconds(secondsAgo int64) []Event {
	cutoff := time.Now().Add(-time.Duration(secondsAgo) * time.Second)
	l.mu.RLock()
	var out []Event
	l.cache.Ascend(func(it cacheItem) bool {
		if !it.Timestamp.Before(cutoff) {
			out = append(out, it.Event)
		}
		return true
	})
	l.mu.RUnlock()

	if len(out) > 0 || l.persist == nil {
		return out
	}
	disk, err := l.persist.eventsSinceSeconds(cutoff)
	if err != nil {
		return out
	}
	return disk
}

// EventsForPlayerSince is EventsSince filtered to one player, falling
// through to disk when the cache has nothing for since at all.
func (l *Log) EventsForPlayerSince(player types.ObjID, since *uuid.UUID) []Event {
	all := l.cacheEventsSince(since)
	if len(all) == 0 && l.persist != nil {
		disk, err := l.persist.eventsSince(since)
		if err == nil {
			all = disk
		}
	}
	return filterPlayer(all, player)
}

// EventsForPlayerSinceWithLimit is EventsForPlayerSince truncated to at
// most limit results.
func (l *Log) EventsForPlayerSinceWithLimit(player types.ObjID, since *uuid.UUID, limit int) []Event {
	return truncate(l.EventsForPlayerSince(player, since), limit)
}

// EventsForPlayerUntil is EventsUntil filtered to one player.
func (l *Log) EventsForPlayerUntil(player types.ObjID, until *uuid.UUID) []Event {
	return filterPlayer(l.EventsUntil(until), player)
}

// EventsForPlayerSinceSeconds merges cache and disk results for one player
// within the last secondsAgo seconds, deduplicated by event id and sorted
// chronologically (disk may hold events already evicted from cache).
func (l *Log) EventsForPlayerSinceSeconds(player types.ObjID, secondsAgo int64) []Event {
	cutoff := time.Now().Add(-time.Duration(secondsAgo) * time.Second)

	l.mu.RLock()
	var cached []Event
	l.cache.Ascend(func(it cacheItem) bool {
		if it.Player == player && !it.Timestamp.Before(cutoff) {
			cached = append(cached, it.Event)
		}
		return true
	})
	l.mu.RUnlock()

	if l.persist == nil {
		return cached
	}
	disk, err := l.persist.eventsForPlayerSinceSeconds(player, cutoff)
	if err != nil {
		return cached
	}

	seen := make(map[uuid.UUID]bool, len(cached))
	out := make([]Event, 0, len(cached)+len(disk))
	for _, e := range cached {
		seen[e.ID] = true
		out = append(out, e)
	}
	for _, e := range disk {
		if !seen[e.ID] {
			out = append(out, e)
		}
	}
	sortByID(out)
	return out
}

// EventsForPlayerSinceSecondsWithLimit is EventsForPlayerSinceSeconds
// truncated to at most limit results.
func (l *Log) EventsForPlayerSinceSecondsWithLimit(player types.ObjID, secondsAgo int64, limit int) []Event {
	return truncate(l.EventsForPlayerSinceSeconds(player, secondsAgo), limit)
}

// Len reports how many events currently sit in the in-memory cache.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cache.Len()
}

// IsEmpty reports whether the in-memory cache holds no events.
func (l *Log) IsEmpty() bool { return l.Len() == 0 }

// LatestEventID returns the most recent cached event id, if any.
func (l *Log) LatestEventID() (uuid.UUID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	max, ok := l.cache.Max()
	if !ok {
		return uuid.UUID{}, false
	}
	return max.ID, true
}

func filterPlayer(events []Event, player types.ObjID) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Player == player {
			out = append(out, e)
		}
	}
	return out
}

func truncate(events []Event, limit int) []Event {
	if limit <= 0 || limit >= len(events) {
		return events
	}
	return events[:limit]
}

func sortByID(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		return bytes.Compare(events[i].ID[:], events[j].ID[:]) < 0
	})
}
