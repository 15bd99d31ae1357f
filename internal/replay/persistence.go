package replay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const observedKeyPrefix = "observed:"

// Persistence durably records (scope, nonce) pairs so replay protection
// survives a process restart, grounded on the teacher's
// gateway/auth/nonce_leveldb.go. Guard's in-memory nonceStore remains the
// fast path; Persistence is consulted only when configured, and its
// failures never block a request (the guard falls back to in-memory-only
// behavior and the caller sees nonce checks succeed, per spec.md §9's
// best-effort replay-persistence stance).
type Persistence struct {
	db *leveldb.DB
}

// OpenPersistence opens (or creates) a LevelDB-backed nonce store at path.
func OpenPersistence(path string) (*Persistence, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("replay: persistence path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("replay: resolve persistence path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("replay: open nonce store: %w", err)
	}
	return &Persistence{db: db}, nil
}

// Close releases the underlying LevelDB handle.
func (p *Persistence) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// EnsureNonce records (scope, nonce) if it has not been seen before,
// reporting whether it was already present.
func (p *Persistence) EnsureNonce(scope, nonce string, observedAt time.Time) (bool, error) {
	if p == nil || p.db == nil {
		return false, fmt.Errorf("replay: persistence not configured")
	}
	composite := scope + "|" + nonce
	key := []byte("nonce:" + composite)
	if _, err := p.db.Get(key, nil); err == nil {
		return true, nil
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return false, fmt.Errorf("replay: load nonce: %w", err)
	}

	nanos := observedAt.UTC().UnixNano()
	batch := new(leveldb.Batch)
	batch.Put(key, encodeUnixNano(nanos))
	batch.Put([]byte(observedKey(nanos, composite)), nil)
	if err := p.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("replay: record nonce: %w", err)
	}
	return false, nil
}

// Prune deletes every entry observed before cutoff, intended to run
// alongside Guard.Sweep.
func (p *Persistence) Prune(cutoff time.Time) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("replay: persistence not configured")
	}
	cutoffKey := []byte(observedKey(cutoff.UTC().UnixNano(), ""))
	iter := p.db.NewIterator(util.BytesPrefix([]byte(observedKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if string(iter.Key()) >= string(cutoffKey) {
			break
		}
		composite, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte("nonce:" + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("replay: iterate observed nonces: %w", err)
	}
	if batch.Len() > 0 {
		if err := p.db.Write(batch, nil); err != nil {
			return fmt.Errorf("replay: prune nonces: %w", err)
		}
	}
	return nil
}

func observedKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d:%s", observedKeyPrefix, nanos, composite)
}

func parseObservedKey(key []byte) (string, bool) {
	raw := string(key)
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return "", false
	}
	return parts[2], true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}
