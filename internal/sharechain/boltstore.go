package sharechain

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/djkazic/p2pool-go/internal/types"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ShareStore is the persistence contract the validator and tracker use
// to look up and record shares.
type ShareStore interface {
	Add(share *types.Share) error
	Get(hash [32]byte) (*types.Share, bool)
	Has(hash [32]byte) bool
	Count() int
	Tip() (*types.Share, bool)
	SetTip(hash [32]byte) error
	GetAncestors(hash [32]byte, n int) []*types.Share
	Close() error
}

var (
	sharesBucket = []byte("shares")
	metaBucket   = []byte("meta")
	tipKey       = []byte("tip")
)

// BoltStore is a bbolt-backed ShareStore.
type BoltStore struct {
	db     *bolt.DB
	logger *zap.Logger

	mu    sync.RWMutex
	count int
}

// NewBoltStore opens (creating if necessary) a bbolt database at path.
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sharesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	s := &BoltStore{db: db, logger: logger}

	db.View(func(tx *bolt.Tx) error {
		s.count = tx.Bucket(sharesBucket).Stats().KeyN
		return nil
	})

	return s, nil
}

func encodeShare(share *types.Share) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(share); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeShare(data []byte) (*types.Share, error) {
	var share types.Share
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&share); err != nil {
		return nil, err
	}
	return &share, nil
}

// Add inserts a new share, keyed by its hash. Re-adding an existing
// share's hash is an error.
func (s *BoltStore) Add(share *types.Share) error {
	hash := share.Hash()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sharesBucket)
		if b.Get(hash[:]) != nil {
			return fmt.Errorf("share %x already exists", hash[:8])
		}
		data, err := encodeShare(share)
		if err != nil {
			return fmt.Errorf("encode share: %w", err)
		}
		return b.Put(hash[:], data)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nil
}

// Get looks up a share by hash.
func (s *BoltStore) Get(hash [32]byte) (*types.Share, bool) {
	var share *types.Share
	s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sharesBucket).Get(hash[:])
		if data == nil {
			return nil
		}
		sh, err := decodeShare(data)
		if err != nil {
			s.logger.Error("decode share failed", zap.Error(err))
			return nil
		}
		share = sh
		return nil
	})
	return share, share != nil
}

// Has reports whether a share with the given hash is stored.
func (s *BoltStore) Has(hash [32]byte) bool {
	var found bool
	s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(sharesBucket).Get(hash[:]) != nil
		return nil
	})
	return found
}

// Count returns the number of stored shares.
func (s *BoltStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Tip returns the share currently marked as the chain tip.
func (s *BoltStore) Tip() (*types.Share, bool) {
	var hash [32]byte
	var found bool
	s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(metaBucket).Get(tipKey)
		if len(data) != 32 {
			return nil
		}
		copy(hash[:], data)
		found = true
		return nil
	})
	if !found {
		return nil, false
	}
	return s.Get(hash)
}

// SetTip records hash as the current chain tip.
func (s *BoltStore) SetTip(hash [32]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(tipKey, hash[:])
	})
}

// GetAncestors walks backward from hash through PrevShareHash links,
// returning up to n shares ordered oldest-first (hash itself included).
func (s *BoltStore) GetAncestors(hash [32]byte, n int) []*types.Share {
	var zero [32]byte
	result := make([]*types.Share, 0, n)

	cur := hash
	for i := 0; i < n; i++ {
		share, ok := s.Get(cur)
		if !ok {
			break
		}
		result = append(result, share)
		if share.PrevShareHash == zero {
			break
		}
		cur = share.PrevShareHash
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
