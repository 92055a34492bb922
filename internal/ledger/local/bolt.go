package local

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/ledger"
)

// BoltStore persists accounts in a BoltDB file so a local ledger survives restarts.
// Keys are addresses; values are the owning program id followed by the account data.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBolt initializes the BoltDB file and ensures the bucket exists.
func OpenBolt(path string, bucket string) (*BoltStore, error) {
	if bucket == "" {
		bucket = "accounts"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{
		db:     db,
		bucket: []byte(bucket),
	}, nil
}

func (s *BoltStore) Get(addr domain.Pubkey) (ledger.Account, bool, error) {
	if s == nil || s.db == nil {
		return ledger.Account{}, false, bolt.ErrDatabaseNotOpen
	}
	var (
		acc   ledger.Account
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get(addr[:])
		if v == nil {
			return nil
		}
		decoded, err := decodeBoltValue(addr, v)
		if err != nil {
			return err
		}
		acc, found = decoded, true
		return nil
	})
	return acc, found, err
}

// Scan walks the whole bucket; keys are addresses so the cursor order is address order.
func (s *BoltStore) Scan(owner domain.Pubkey, prefix []byte) ([]ledger.Account, error) {
	if s == nil || s.db == nil {
		return nil, bolt.ErrDatabaseNotOpen
	}
	var out []ledger.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) < domain.PubkeySize || !bytes.Equal(v[:domain.PubkeySize], owner[:]) {
				continue
			}
			if !bytes.HasPrefix(v[domain.PubkeySize:], prefix) {
				continue
			}
			addr, err := domain.PubkeyFromBytes(k)
			if err != nil {
				continue
			}
			acc, err := decodeBoltValue(addr, v)
			if err != nil {
				return err
			}
			out = append(out, acc)
		}
		return nil
	})
	return out, err
}

// Commit writes the whole change set in one bolt transaction.
func (s *BoltStore) Commit(puts []ledger.Account, deletes []domain.Pubkey) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for _, addr := range deletes {
			if err := b.Delete(addr[:]); err != nil {
				return err
			}
		}
		for _, acc := range puts {
			value := make([]byte, 0, domain.PubkeySize+len(acc.Data))
			value = append(value, acc.Owner[:]...)
			value = append(value, acc.Data...)
			if err := b.Put(append([]byte(nil), acc.Address[:]...), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the Bolt database.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeBoltValue(addr domain.Pubkey, v []byte) (ledger.Account, error) {
	if len(v) < domain.PubkeySize {
		return ledger.Account{}, fmt.Errorf("corrupt account %s: %d bytes", addr, len(v))
	}
	acc := ledger.Account{Address: addr}
	copy(acc.Owner[:], v[:domain.PubkeySize])
	acc.Data = append([]byte(nil), v[domain.PubkeySize:]...)
	return acc, nil
}
