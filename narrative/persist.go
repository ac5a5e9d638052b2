package narrative

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"canopy/types"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNarrative    = []byte("narrative_events")
	bucketPlayerIndex  = []byte("player_index")
	bucketPresentation = []byte("presentations")
)

// Persister is the narrative log's disk tier: a dedicated bbolt file,
// separate from the world's storage.BoltPersister, consulted only on a
// cache miss (spec §4.7 "never blocks the caller; a cache miss falls
// through to disk").
type Persister struct {
	db *bolt.DB
}

// OpenPersister opens (creating if absent) the narrative log's bbolt file.
func OpenPersister(path string) (*Persister, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("narrative: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNarrative, bucketPlayerIndex, bucketPresentation} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Persister{db: db}, nil
}

func (p *Persister) Close() error { return p.db.Close() }

func (p *Persister) writeEvent(e Event) error {
	buf, err := encodeGob(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketNarrative).Put(e.ID[:], buf); err != nil {
			return err
		}
		playerKey := append([]byte(fmt.Sprintf("%d:", e.Player)), e.ID[:]...)
		return tx.Bucket(bucketPlayerIndex).Put(playerKey, e.ID[:])
	})
}

func (p *Persister) writePresentations(player types.ObjID, presentations map[string]Presentation) error {
	buf, err := encodeGob(presentations)
	if err != nil {
		return fmt.Errorf("encode presentations for #%d: %w", player, err)
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPresentation).Put(playerKeyBytes(player), buf)
	})
}

func (p *Persister) loadPresentations(player types.ObjID) (map[string]Presentation, error) {
	var out map[string]Presentation
	err := p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPresentation).Get(playerKeyBytes(player))
		if v == nil {
			return nil
		}
		return decodeGob(v, &out)
	})
	return out, err
}

// eventsSince loads every persisted event with id > since (or all events
// when since is nil), in storage order (which is already chronological
// since keys are UUIDv7 bytes).
func (p *Persister) eventsSince(since *uuid.UUID) ([]Event, error) {
	var out []Event
	err := p.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNarrative).Cursor()
		var k, v []byte
		if since == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(since[:])
			if k != nil && bytes.Equal(k, since[:]) {
				k, v = c.Next()
			}
		}
		for ; k != nil; k, v = c.Next() {
			var e Event
			if err := decodeGob(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (p *Persister) eventsUntil(until *uuid.UUID) ([]Event, error) {
	var out []Event
	err := p.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNarrative).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if until != nil && bytes.Compare(k, until[:]) >= 0 {
				break
			}
			var e Event
			if err := decodeGob(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (p *Persister) eventsSinceSeconds(since time.Time) ([]Event, error) {
	var out []Event
	err := p.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNarrative).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Event
			if err := decodeGob(v, &e); err != nil {
				return err
			}
			if !e.Timestamp.Before(since) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (p *Persister) eventsForPlayerSinceSeconds(player types.ObjID, since time.Time) ([]Event, error) {
	var out []Event
	err := p.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNarrative).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Event
			if err := decodeGob(v, &e); err != nil {
				return err
			}
			if e.Player == player && !e.Timestamp.Before(since) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func playerKeyBytes(player types.ObjID) []byte {
	return []byte(fmt.Sprintf("#%d", player))
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, out any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(out)
}
