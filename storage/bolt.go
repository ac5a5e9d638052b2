package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltPersister is the crash-safe write-ahead of committed snapshots
// (spec §4.1 "On-disk layout"). Each relation gets its own top-level
// bucket in one shared bbolt file; uncommitted working sets never reach
// this type since Commit only calls PersistCommit after the in-memory
// merge has already succeeded.
type BoltPersister struct {
	db *bolt.DB
}

// OpenBoltPersister opens (creating if absent) the bbolt file at path.
func OpenBoltPersister(path string) (*BoltPersister, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &BoltPersister{db: db}, nil
}

func (p *BoltPersister) Close() error {
	return p.db.Close()
}

// PersistCommit writes every durable fact from one commit into its
// relation's bucket, keyed by a gob-encoded domain key. One bbolt
// transaction per commit batches the whole set.
func (p *BoltPersister) PersistCommit(commitTS int64, writes []CommittedWrite) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		for _, w := range writes {
			bucket, err := tx.CreateBucketIfNotExists([]byte(w.Relation))
			if err != nil {
				return err
			}
			keyBytes, err := encodeGob(w.Key)
			if err != nil {
				return fmt.Errorf("encode key for %s: %w", w.Relation, err)
			}
			if w.Deleted {
				if err := bucket.Delete(keyBytes); err != nil {
					return err
				}
				continue
			}
			valBytes, err := encodeGob(storedValue{Value: w.Value, Commit: commitTS})
			if err != nil {
				return fmt.Errorf("encode value for %s: %w", w.Relation, err)
			}
			if err := bucket.Put(keyBytes, valBytes); err != nil {
				return err
			}
		}
		return nil
	})
}

type storedValue struct {
	Value  any
	Commit int64
}

// Load replays every bucket's latest-on-disk values into a fresh Engine,
// used at startup to recover the last durable snapshot (spec's bounded
// crash recovery, §1 Non-goals).
func (p *BoltPersister) Load(e *Engine) error {
	return p.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bolt.Bucket) error {
			rel := Relation(name)
			return bucket.ForEach(func(k, v []byte) error {
				var key Key
				if err := decodeGob(k, &key); err != nil {
					return fmt.Errorf("decode key for %s: %w", rel, err)
				}
				var sv storedValue
				if err := decodeGob(v, &sv); err != nil {
					return fmt.Errorf("decode value for %s: %w", rel, err)
				}
				e.mu.Lock()
				rs := e.relLocked(rel)
				rs.rows[key] = &history{versions: []version{{value: sv.Value, commit: sv.Commit}}}
				if sv.Commit > e.commitSeq {
					e.commitSeq = sv.Commit
				}
				if rs.indexed {
					if rs.secondary[sv.Value] == nil {
						rs.secondary[sv.Value] = make(map[Key]struct{})
					}
					rs.secondary[sv.Value][key] = struct{}{}
				}
				e.mu.Unlock()
				return nil
			})
		})
	})
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
