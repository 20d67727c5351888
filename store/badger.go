package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	userPrefix    = "user:"
	activePrefix  = "active:"
	historyPrefix = "history:"
	contactPrefix = "contact:"
)

// BadgerStore is a Store kept in BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens the database at path, or an in-memory one if path is empty.
func Open(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database.
func New(db *badger.DB) (*BadgerStore, error) {
	return &BadgerStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func checkName(names ...string) error {
	for _, name := range names {
		if name == "" || strings.Contains(name, ":") {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

func userKey(name string) []byte {
	return []byte(userPrefix + name)
}

func contactKey(user, contact string) []byte {
	return []byte(contactPrefix + user + ":" + contact)
}

func get(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func set(txn *badger.Txn, key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

// scan decodes every value under prefix, in key order.
func scan[T any](db *badger.DB, prefix string) ([]T, error) {
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			var v T
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			})
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// RecordLogin marks name as connected from ip:port and appends to its login
// history, creating the user on first login.
func (s *BadgerStore) RecordLogin(name, ip string, port int) error {
	if err := checkName(name); err != nil {
		return err
	}
	now := s.now().UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		user := KnownUser{Name: name}
		if err := get(txn, userKey(name), &user); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		user.LastSeen = now
		if err := set(txn, userKey(name), user); err != nil {
			return err
		}

		session := ActiveSession{Name: name, IP: ip, Port: port, Since: now}
		if err := set(txn, []byte(activePrefix+name), session); err != nil {
			return err
		}

		// The padded timestamp keeps each user's history in chronological
		// key order; the uuid separates logins within the same nanosecond.
		key := fmt.Sprintf("%s%s:%019d:%s", historyPrefix, name, now.UnixNano(), uuid.NewString())
		return set(txn, []byte(key), LoginRecord{Name: name, Time: now, IP: ip, Port: port})
	})
}

// RecordLogout removes name from the active sessions.
func (s *BadgerStore) RecordLogout(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(activePrefix + name))
	})
}

// KnownUsers lists every user that ever logged in, sorted by name.
func (s *BadgerStore) KnownUsers() ([]KnownUser, error) {
	return scan[KnownUser](s.db, userPrefix)
}

// ActiveSessions lists the connected users, sorted by name.
func (s *BadgerStore) ActiveSessions() ([]ActiveSession, error) {
	return scan[ActiveSession](s.db, activePrefix)
}

// ClearActiveSessions drops the sessions left active by a previous run.
func (s *BadgerStore) ClearActiveSessions() error {
	if err := s.db.DropPrefix([]byte(activePrefix)); err != nil {
		return fmt.Errorf("clearing active sessions: %w", err)
	}
	return nil
}

// LoginHistory lists logins, grouped by user and oldest first.
func (s *BadgerStore) LoginHistory(name string) ([]LoginRecord, error) {
	prefix := historyPrefix
	if name != "" {
		if err := checkName(name); err != nil {
			return nil, err
		}
		prefix += name + ":"
	}
	return scan[LoginRecord](s.db, prefix)
}

// AddContact adds contact to user's contact list. Both must be known users.
// Adding an existing contact is a no-op.
func (s *BadgerStore) AddContact(user, contact string) error {
	if err := checkName(user, contact); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, name := range []string{user, contact} {
			if _, err := txn.Get(userKey(name)); err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: %s", ErrUnknownUser, name)
			} else if err != nil {
				return err
			}
		}
		return txn.Set(contactKey(user, contact), nil)
	})
}

// RemoveContact removes contact from user's contact list.
func (s *BadgerStore) RemoveContact(user, contact string) error {
	if err := checkName(user, contact); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := contactKey(user, contact)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s is not a contact of %s", ErrMissing, contact, user)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// Contacts lists user's contacts, sorted by name.
func (s *BadgerStore) Contacts(user string) ([]string, error) {
	if err := checkName(user); err != nil {
		return nil, err
	}
	prefix := string(contactKey(user, ""))
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(keys, func(key string, _ int) string {
		return strings.TrimPrefix(key, prefix)
	}), nil
}

// RecordMessageExchange counts a message sent by sender and received by
// recipient.
func (s *BadgerStore) RecordMessageExchange(sender, recipient string) error {
	if err := checkName(sender, recipient); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var from, to KnownUser
		if err := get(txn, userKey(sender), &from); err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrUnknownUser, sender)
		} else if err != nil {
			return err
		}
		from.Sent++
		if err := set(txn, userKey(sender), from); err != nil {
			return err
		}

		// Re-read so a message to oneself counts on both sides.
		if err := get(txn, userKey(recipient), &to); err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrUnknownUser, recipient)
		} else if err != nil {
			return err
		}
		to.Received++
		return set(txn, userKey(recipient), to)
	})
}

// MessageStats returns how many messages name has sent and received.
func (s *BadgerStore) MessageStats(name string) (sent, received int, err error) {
	if err := checkName(name); err != nil {
		return 0, 0, err
	}
	var user KnownUser
	err = s.db.View(func(txn *badger.Txn) error {
		return get(txn, userKey(name), &user)
	})
	if err == badger.ErrKeyNotFound {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	return user.Sent, user.Received, err
}
