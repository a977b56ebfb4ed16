package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const (
	keyPrefix       = "user:"
	maxTxnConflicts = 5
)

// BadgerStore implements Store on top of an in-memory badger instance.
// Each operation runs in its own transaction.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens an in-memory badger database and loads the supplied users.
func NewBadgerStore(items []User) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db}
	for _, item := range items {
		if _, err := s.Save(context.Background(), item); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seed user %s: %w", item.ID, err)
		}
	}
	return s, nil
}

// Close releases the badger instance.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// GetAll returns every stored user. Badger iterates keys in byte order, so users come back sorted by id.
func (s *BadgerStore) GetAll(_ context.Context) ([]User, error) {
	users := make([]User, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var u User
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &u)
			}); err != nil {
				return err
			}
			users = append(users, u)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// GetByID looks up a user by identifier.
func (s *BadgerStore) GetByID(_ context.Context, id string) (User, error) {
	var u User
	err := s.db.View(func(txn *badger.Txn) error {
		return readUser(txn, id, &u)
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// Save inserts or overwrites the record stored at u.ID.
func (s *BadgerStore) Save(_ context.Context, u User) (User, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return User{}, fmt.Errorf("marshal user: %w", err)
	}

	err = s.update(func(txn *badger.Txn) error {
		return txn.Set(userKey(u.ID), data)
	})
	if err != nil {
		return User{}, fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return u, nil
}

// Update replaces an existing record. The store is left untouched when the id is unknown.
func (s *BadgerStore) Update(_ context.Context, u User) (User, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return User{}, fmt.Errorf("marshal user: %w", err)
	}

	err = s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userKey(u.ID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Set(userKey(u.ID), data)
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// DeleteByID removes the record if present.
func (s *BadgerStore) DeleteByID(_ context.Context, id string) error {
	return s.update(func(txn *badger.Txn) error {
		return txn.Delete(userKey(id))
	})
}

// DeleteAll clears every user key present when it starts. Deletes go through a
// write batch, which commits in chunks once a transaction would grow too big.
func (s *BadgerStore) DeleteAll(_ context.Context) error {
	var keys [][]byte
	if err := s.db.View(func(txn *badger.Txn) error {
		var err error
		keys, err = collectKeys(txn)
		return err
	}); err != nil {
		return fmt.Errorf("list user keys: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete users: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete users: %w", err)
	}
	return nil
}

// Size reports the number of stored users.
func (s *BadgerStore) Size(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		keys, err := collectKeys(txn)
		n = len(keys)
		return err
	})
	return n, err
}

// update retries read-write transactions that lost an optimistic conflict.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxTxnConflicts {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func readUser(txn *badger.Txn, id string, u *User) error {
	item, err := txn.Get(userKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, u)
	})
}

func collectKeys(txn *badger.Txn) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(keyPrefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

func userKey(id string) []byte {
	return []byte(keyPrefix + id)
}
