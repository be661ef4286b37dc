package geo

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var regionsBucket = []byte("regions")

// Cache keeps region lists in memory in front of an optional bbolt file so
// lookups survive restarts without hitting IBGE again.
type Cache struct {
	mu  sync.RWMutex
	mem map[string][]byte
	db  *bolt.DB
}

// NewCache opens (or creates) the bolt file at path. An empty path gives a
// memory-only cache.
func NewCache(path string) (*Cache, error) {
	c := &Cache{mem: map[string][]byte{}}
	if path == "" {
		return c, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(regionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.db = db
	return c, nil
}

func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	v, ok := c.mem[key]
	c.mu.RUnlock()
	if ok || c.db == nil {
		return v, ok
	}

	var data []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(regionsBucket); b != nil {
			if raw := b.Get([]byte(key)); raw != nil {
				data = append([]byte(nil), raw...)
			}
		}
		return nil
	})
	if data == nil {
		return nil, false
	}
	c.mu.Lock()
	c.mem[key] = data
	c.mu.Unlock()
	return data, true
}

func (c *Cache) Put(key string, data []byte) error {
	c.mu.Lock()
	c.mem[key] = data
	c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(regionsBucket).Put([]byte(key), data)
	})
}

func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
