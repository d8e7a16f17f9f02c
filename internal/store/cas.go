package store

import (
	"encoding/base64"
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/blake3"
)

var casBucket = []byte("chunk_hashes")

// CAS is a content-addressed presence index: it records which chunk
// payloads (by BLAKE3 hash) this store has already written. Publish
// consults it to skip re-recording a hash it already has on file, and
// a periodic sweep (or the standalone casgc tool) ages entries out
// with GC. It never substitutes for the physical per-transfer chunk
// write required by the file store's invariants — a repeat hash still
// gets its bytes written to the destination file, only the index
// entry is deduplicated. Grounded in the teacher's
// daemon/manager/cas_bolt.go and its CHUNK_HAVE dedup check in
// daemon/transport/chunk_receiver.go.
type CAS struct {
	db *bolt.DB
}

// OpenCAS opens (creating if necessary) a bolt-backed CAS index at path.
func OpenCAS(path string) (*CAS, error) {
	db, err := bolt.Open(filepath.Clean(path), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(casBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &CAS{db: db}, nil
}

// Close closes the underlying bolt database.
func (c *CAS) Close() error {
	return c.db.Close()
}

// HashOf computes the BLAKE3 hash of data, base64-encoded, for use as a CAS key.
func HashOf(data []byte) string {
	sum := blake3.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// StartGCLoop runs GC(retention) every interval until stop is closed,
// mirroring the teacher's StartCASGCLoop started from daemon/main.go.
func (c *CAS) StartGCLoop(retention, interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = c.GC(retention)
			case <-stop:
				return
			}
		}
	}()
}

// Has reports whether hash has already been recorded.
func (c *CAS) Has(hash string) bool {
	var ok bool
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(casBucket)
		if b == nil {
			return nil
		}
		ok = b.Get([]byte(hash)) != nil
		return nil
	})
	return ok
}

// Put records hash as seen, with the current time for later GC.
func (c *CAS) Put(hash string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(casBucket)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(time.Now().Unix()))
		return b.Put([]byte(hash), buf)
	})
}

// GC removes entries older than maxAge and returns the count removed.
func (c *CAS) GC(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(casBucket)
		cur := b.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			if len(v) >= 8 && int64(binary.BigEndian.Uint64(v)) < cutoff {
				if err := cur.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}
