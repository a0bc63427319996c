// Package bucket holds the date keyed bucket map that is the single source of
// truth for what a calendar renders. Every mutation goes through a Txn.
package bucket

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Slach/calendar-sync/pkg/models"
)

var (
	ErrBucketNotFound  = errors.New("bucket not found")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrDuplicateRow    = errors.New("row already present")
)

// Observer receives the changes of one committed transaction, in order.
type Observer func(changes []Change)

type subscription struct {
	id uuid.UUID
	fn Observer
}

// Store owns the bucket map. Reads return copies, writes happen inside Update.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]*models.Bucket

	obsMu     sync.Mutex
	observers []subscription

	queueMu  sync.Mutex
	queue    [][]Change
	notifyMu sync.Mutex
}

func NewStore() *Store {
	return &Store{buckets: make(map[string]*models.Bucket)}
}

// Update runs fn with exclusive access. When fn returns an error none of its
// mutations are kept and observers are not called. Observers run after the
// store lock is released; an Update made from inside an observer is delivered
// once that observer returns.
func (s *Store) Update(fn func(tx *Txn) error) error {
	err := s.UpdateDeferred(fn)
	s.Flush()
	return err
}

// UpdateDeferred commits like Update but only queues the changes. Observers
// see them at the next Flush, in commit order.
func (s *Store) UpdateDeferred(fn func(tx *Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := newTxn(s.buckets)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit(s)
	if len(tx.changes) > 0 {
		s.queueMu.Lock()
		s.queue = append(s.queue, tx.changes)
		s.queueMu.Unlock()
	}
	return nil
}

// Flush delivers queued changes to the observers. When another goroutine is
// already delivering, that goroutine picks the new changes up and Flush
// returns at once.
func (s *Store) Flush() {
	for {
		if !s.notifyMu.TryLock() {
			return
		}
		for {
			s.queueMu.Lock()
			if len(s.queue) == 0 {
				s.queueMu.Unlock()
				break
			}
			changes := s.queue[0]
			s.queue = s.queue[1:]
			s.queueMu.Unlock()
			s.notify(changes)
		}
		s.notifyMu.Unlock()

		s.queueMu.Lock()
		pending := len(s.queue) > 0
		s.queueMu.Unlock()
		if !pending {
			return
		}
	}
}

// View runs fn against a read-only transaction.
func (s *Store) View(fn func(tx *Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newTxn(s.buckets))
}

// Subscribe registers an observer and returns its id and an unsubscribe func.
func (s *Store) Subscribe(fn Observer) (string, func()) {
	id := uuid.New()
	s.obsMu.Lock()
	s.observers = append(s.observers, subscription{id: id, fn: fn})
	s.obsMu.Unlock()
	return id.String(), func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		for i, sub := range s.observers {
			if sub.id == id {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) notify(changes []Change) {
	s.obsMu.Lock()
	subs := make([]subscription, len(s.observers))
	copy(subs, s.observers)
	s.obsMu.Unlock()
	for _, sub := range subs {
		sub.fn(changes)
	}
}

// Bucket returns a copy of the bucket stored under key.
func (s *Store) Bucket(key string) (models.Bucket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[key]
	if !ok {
		return models.Bucket{}, false
	}
	return b.Clone(), true
}

func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[key]
	return ok
}

// FindRow scans every bucket for the row id.
func (s *Store) FindRow(rowID int64) (string, int, models.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTxn(s.buckets).FindRow(rowID)
}

// Keys returns the bucket keys in ascending date order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.buckets)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

// Snapshot deep-copies the whole bucket map.
func (s *Store) Snapshot() map[string]models.Bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Bucket, len(s.buckets))
	for k, b := range s.buckets {
		out[k] = b.Clone()
	}
	return out
}

// AllRows returns every loaded row ordered by bucket key then position.
func (s *Store) AllRows() []models.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []models.Row
	for _, k := range sortedKeys(s.buckets) {
		rows = append(rows, models.CloneRows(s.buckets[k].Results)...)
	}
	return rows
}

// Single operation helpers, each its own transaction.

func (s *Store) ReplaceAll(buckets map[string]models.Bucket) {
	_ = s.Update(func(tx *Txn) error {
		tx.ReplaceAll(buckets)
		return nil
	})
}

func (s *Store) Clear() {
	_ = s.Update(func(tx *Txn) error {
		tx.Clear()
		return nil
	})
}

func (s *Store) AddBucket(key string, b models.Bucket) {
	_ = s.Update(func(tx *Txn) error {
		tx.AddBucket(key, b)
		return nil
	})
}

func (s *Store) InsertRow(key string, index int, row models.Row) error {
	return s.Update(func(tx *Txn) error { return tx.InsertRow(key, index, row) })
}

func (s *Store) RemoveRow(key string, index int) (models.Row, error) {
	var removed models.Row
	err := s.Update(func(tx *Txn) error {
		var err error
		removed, err = tx.RemoveRow(key, index)
		return err
	})
	return removed, err
}

func (s *Store) MoveRow(fromKey string, fromIndex int, toKey string, toIndex int) error {
	return s.Update(func(tx *Txn) error { return tx.MoveRow(fromKey, fromIndex, toKey, toIndex) })
}

func (s *Store) AppendRows(key string, rows []models.Row, newCount *int) error {
	return s.Update(func(tx *Txn) error { return tx.AppendRows(key, rows, newCount) })
}

func (s *Store) IncrementCount(key string) error {
	return s.Update(func(tx *Txn) error { return tx.IncrementCount(key) })
}

func (s *Store) DecrementCount(key string) error {
	return s.Update(func(tx *Txn) error { return tx.DecrementCount(key) })
}

func (s *Store) UpdateRowFields(rowID int64, values map[string]any) bool {
	var found bool
	_ = s.Update(func(tx *Txn) error {
		found = tx.UpdateRowFields(rowID, values)
		return nil
	})
	return found
}

func sortedKeys(m map[string]*models.Bucket) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
