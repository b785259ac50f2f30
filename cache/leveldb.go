package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	n:<namespace>            -> creation time (unix nanoseconds, big endian)
//	e:<namespace>\x00<key>   -> stored at (8 bytes) + response bytes
const (
	namespacePrefix = "n:"
	entryPrefix     = "e:"
	entrySeparator  = "\x00"
)

type LevelDBCache struct {
	db         *leveldb.DB
	writeMutex *sync.Mutex
}

// NewLevelDBCache opens (or creates) a LevelDB database in the given directory.
func NewLevelDBCache(path string) (LevelDBCache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return LevelDBCache{}, err
	}
	return LevelDBCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func namespaceKey(namespace string) []byte {
	return []byte(namespacePrefix + namespace)
}

func entriesPrefix(namespace string) []byte {
	return []byte(entryPrefix + namespace + entrySeparator)
}

func entryKey(namespace, key string) []byte {
	return append(entriesPrefix(namespace), key...)
}

func encodeTime(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano()))
	return b
}

func decodeTime(b []byte) time.Time {
	if len(b) < 8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(b[:8])))
}

func (l LevelDBCache) Namespaces(ctx context.Context) ([]string, error) {
	type created struct {
		name string
		at   time.Time
	}
	it := l.db.NewIterator(util.BytesPrefix([]byte(namespacePrefix)), nil)
	defer it.Release()
	all := make([]created, 0)
	for it.Next() {
		name := string(bytes.TrimPrefix(it.Key(), []byte(namespacePrefix)))
		all = append(all, created{name: name, at: decodeTime(it.Value())})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].at.Before(all[j].at)
	})
	names := make([]string, 0, len(all))
	for _, c := range all {
		names = append(names, c.name)
	}
	return names, nil
}

func (l LevelDBCache) Open(ctx context.Context, namespace string) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	return l.openLocked(namespace, nil)
}

// openLocked records the namespace, adding the write to batch when one is given.
func (l LevelDBCache) openLocked(namespace string, batch *leveldb.Batch) error {
	ok, err := l.db.Has(namespaceKey(namespace), nil)
	if err != nil || ok {
		return err
	}
	if batch != nil {
		batch.Put(namespaceKey(namespace), encodeTime(time.Now()))
		return nil
	}
	return l.db.Put(namespaceKey(namespace), encodeTime(time.Now()), nil)
}

func (l LevelDBCache) Has(ctx context.Context, namespace string) (bool, error) {
	return l.db.Has(namespaceKey(namespace), nil)
}

func (l LevelDBCache) Delete(ctx context.Context, namespace string) (bool, error) {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	ok, err := l.db.Has(namespaceKey(namespace), nil)
	if err != nil || !ok {
		return false, err
	}
	batch := new(leveldb.Batch)
	it := l.db.NewIterator(util.BytesPrefix(entriesPrefix(namespace)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	batch.Delete(namespaceKey(namespace))
	if err := l.db.Write(batch, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (l LevelDBCache) Get(ctx context.Context, namespace, key string) (CacheEntry, bool, error) {
	b, err := l.db.Get(entryKey(namespace, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	if len(b) < 8 {
		return CacheEntry{}, false, nil
	}
	return CacheEntry{
		Key:      key,
		StoredAt: decodeTime(b),
		Bytes:    b[8:],
	}, true, nil
}

func (l LevelDBCache) Put(ctx context.Context, namespace string, ce CacheEntry) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	batch := new(leveldb.Batch)
	if err := l.openLocked(namespace, batch); err != nil {
		return err
	}
	value := append(encodeTime(ce.StoredAt), ce.Bytes...)
	batch.Put(entryKey(namespace, ce.Key), value)
	return l.db.Write(batch, nil)
}

func (l LevelDBCache) Keys(ctx context.Context, namespace string, cb func(string)) error {
	if ok, err := l.Has(ctx, namespace); err != nil {
		return err
	} else if !ok {
		return ErrNoNamespace
	}
	prefix := entriesPrefix(namespace)
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		cb(string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return it.Error()
}

func (l LevelDBCache) Close() error {
	return l.db.Close()
}
