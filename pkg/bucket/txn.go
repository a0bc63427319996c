package bucket

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/Slach/calendar-sync/pkg/models"
)

// ChangeKind names a committed mutation.
type ChangeKind string

const (
	ChangeReplaceAll   ChangeKind = "replace_all"
	ChangeAddBucket    ChangeKind = "add_bucket"
	ChangeInsertRow    ChangeKind = "insert_row"
	ChangeRemoveRow    ChangeKind = "remove_row"
	ChangeMoveRow      ChangeKind = "move_row"
	ChangeAppendRows   ChangeKind = "append_rows"
	ChangeCount        ChangeKind = "count"
	ChangeUpdateRow    ChangeKind = "update_row"
	ChangeLoading      ChangeKind = "loading"
	ChangeAddFieldRows ChangeKind = "add_field"
)

// Change describes one mutation. Unused members are zero.
type Change struct {
	Kind    ChangeKind
	Key     string
	ToKey   string
	Index   int
	ToIndex int
	RowID   int64
	Count   int
}

// Txn is a copy-on-write view of the bucket map. Buckets are cloned the first
// time a transaction writes to them so an aborted transaction leaves the store
// untouched.
type Txn struct {
	base     map[string]*models.Bucket
	work     map[string]*models.Bucket
	replaced bool
	changes  []Change
}

func newTxn(base map[string]*models.Bucket) *Txn {
	return &Txn{base: base, work: make(map[string]*models.Bucket)}
}

func (t *Txn) commit(s *Store) {
	if t.replaced {
		s.buckets = t.work
		return
	}
	for k, b := range t.work {
		s.buckets[k] = b
	}
}

func (t *Txn) lookup(key string) (*models.Bucket, bool) {
	if b, ok := t.work[key]; ok {
		return b, true
	}
	if t.replaced {
		return nil, false
	}
	b, ok := t.base[key]
	return b, ok
}

func (t *Txn) writable(key string) (*models.Bucket, error) {
	if b, ok := t.work[key]; ok {
		return b, nil
	}
	if !t.replaced {
		if b, ok := t.base[key]; ok {
			clone := b.Clone()
			t.work[key] = &clone
			return &clone, nil
		}
	}
	return nil, errors.Wrapf(ErrBucketNotFound, "bucket %s", key)
}

func (t *Txn) keys() []string {
	seen := make(map[string]struct{}, len(t.base)+len(t.work))
	keys := make([]string, 0, len(t.base)+len(t.work))
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	if !t.replaced {
		for k := range t.base {
			add(k)
		}
	}
	for k := range t.work {
		add(k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Txn) record(c Change) { t.changes = append(t.changes, c) }

// Bucket returns a copy of the bucket as seen by this transaction.
func (t *Txn) Bucket(key string) (models.Bucket, bool) {
	b, ok := t.lookup(key)
	if !ok {
		return models.Bucket{}, false
	}
	return b.Clone(), true
}

func (t *Txn) Has(key string) bool {
	_, ok := t.lookup(key)
	return ok
}

func (t *Txn) Keys() []string { return t.keys() }

// FindRow returns the key, index and a copy of the row with the given id.
func (t *Txn) FindRow(rowID int64) (string, int, models.Row, bool) {
	for _, k := range t.keys() {
		b, _ := t.lookup(k)
		if i := b.IndexOf(rowID); i >= 0 {
			return k, i, b.Results[i].Clone(), true
		}
	}
	return "", -1, models.Row{}, false
}

// ReplaceAll swaps the whole map.
func (t *Txn) ReplaceAll(buckets map[string]models.Bucket) {
	t.replaced = true
	t.work = make(map[string]*models.Bucket, len(buckets))
	for k, b := range buckets {
		clone := b.Clone()
		if clone.Count < len(clone.Results) {
			clone.Count = len(clone.Results)
		}
		t.work[k] = &clone
	}
	t.record(Change{Kind: ChangeReplaceAll, Count: len(buckets)})
}

func (t *Txn) Clear() { t.ReplaceAll(nil) }

// AddBucket stores b under key, replacing any bucket already there.
func (t *Txn) AddBucket(key string, b models.Bucket) {
	clone := b.Clone()
	if clone.Count < len(clone.Results) {
		clone.Count = len(clone.Results)
	}
	t.work[key] = &clone
	t.record(Change{Kind: ChangeAddBucket, Key: key, Count: clone.Count})
}

// InsertRow puts a copy of row at index. The row must not be present in any
// bucket yet.
func (t *Txn) InsertRow(key string, index int, row models.Row) error {
	if k, _, _, found := t.FindRow(row.ID); found {
		return errors.Wrapf(ErrDuplicateRow, "row %d in bucket %s", row.ID, k)
	}
	b, err := t.writable(key)
	if err != nil {
		return err
	}
	if index < 0 || index > len(b.Results) {
		return errors.Wrapf(ErrIndexOutOfRange, "insert at %d into bucket %s of %d rows", index, key, len(b.Results))
	}
	b.Results = insertAt(b.Results, index, row.Clone())
	t.record(Change{Kind: ChangeInsertRow, Key: key, Index: index, RowID: row.ID})
	return nil
}

// RemoveRow drops the row at index and returns it. Count is left alone.
func (t *Txn) RemoveRow(key string, index int) (models.Row, error) {
	b, err := t.writable(key)
	if err != nil {
		return models.Row{}, err
	}
	if index < 0 || index >= len(b.Results) {
		return models.Row{}, errors.Wrapf(ErrIndexOutOfRange, "remove %d from bucket %s of %d rows", index, key, len(b.Results))
	}
	removed := b.Results[index]
	b.Results = append(b.Results[:index], b.Results[index+1:]...)
	t.record(Change{Kind: ChangeRemoveRow, Key: key, Index: index, RowID: removed.ID})
	return removed.Clone(), nil
}

// MoveRow removes the row at fromIndex and inserts it at toIndex, where
// toIndex is a position in the target bucket with the row already removed.
func (t *Txn) MoveRow(fromKey string, fromIndex int, toKey string, toIndex int) error {
	from, err := t.writable(fromKey)
	if err != nil {
		return err
	}
	if fromIndex < 0 || fromIndex >= len(from.Results) {
		return errors.Wrapf(ErrIndexOutOfRange, "move %d from bucket %s of %d rows", fromIndex, fromKey, len(from.Results))
	}
	to, err := t.writable(toKey)
	if err != nil {
		return err
	}
	limit := len(to.Results)
	if fromKey == toKey {
		limit--
	}
	if toIndex < 0 || toIndex > limit {
		return errors.Wrapf(ErrIndexOutOfRange, "move to %d in bucket %s of %d rows", toIndex, toKey, limit)
	}
	row := from.Results[fromIndex]
	from.Results = append(from.Results[:fromIndex], from.Results[fromIndex+1:]...)
	to.Results = insertAt(to.Results, toIndex, row)
	t.record(Change{Kind: ChangeMoveRow, Key: fromKey, Index: fromIndex, ToKey: toKey, ToIndex: toIndex, RowID: row.ID})
	return nil
}

// AppendRows adds a page of rows to the end of a bucket. Rows already present
// anywhere are skipped. newCount, when given, becomes the bucket count.
func (t *Txn) AppendRows(key string, rows []models.Row, newCount *int) error {
	b, err := t.writable(key)
	if err != nil {
		return err
	}
	appended := 0
	for _, row := range rows {
		if _, _, _, found := t.FindRow(row.ID); found {
			continue
		}
		b.Results = append(b.Results, row.Clone())
		appended++
	}
	if newCount != nil {
		b.Count = *newCount
	}
	if b.Count < len(b.Results) {
		b.Count = len(b.Results)
	}
	t.record(Change{Kind: ChangeAppendRows, Key: key, Index: appended, Count: b.Count})
	return nil
}

func (t *Txn) IncrementCount(key string) error {
	b, err := t.writable(key)
	if err != nil {
		return err
	}
	b.Count++
	t.record(Change{Kind: ChangeCount, Key: key, Count: b.Count})
	return nil
}

// DecrementCount lowers the count but never below the loaded window length.
func (t *Txn) DecrementCount(key string) error {
	b, err := t.writable(key)
	if err != nil {
		return err
	}
	if b.Count > len(b.Results) {
		b.Count--
	}
	t.record(Change{Kind: ChangeCount, Key: key, Count: b.Count})
	return nil
}

// SetLoading flags a bucket while a page of it is being fetched.
func (t *Txn) SetLoading(key string, loading bool) error {
	b, err := t.writable(key)
	if err != nil {
		return err
	}
	b.Loading = loading
	t.record(Change{Kind: ChangeLoading, Key: key})
	return nil
}

// UpdateRowFields patches the values of the row wherever it is loaded and
// reports whether it was found.
func (t *Txn) UpdateRowFields(rowID int64, values map[string]any) bool {
	key, index, _, found := t.FindRow(rowID)
	if !found {
		return false
	}
	b, err := t.writable(key)
	if err != nil {
		return false
	}
	b.Results[index] = b.Results[index].Merge(values)
	t.record(Change{Kind: ChangeUpdateRow, Key: key, Index: index, RowID: rowID})
	return true
}

// AddFieldToAllRows sets name to value on every loaded row that lacks it.
func (t *Txn) AddFieldToAllRows(name string, value any) {
	for _, k := range t.keys() {
		b, _ := t.lookup(k)
		missing := false
		for i := range b.Results {
			if _, ok := b.Results[i].Values[name]; !ok {
				missing = true
				break
			}
		}
		if !missing {
			continue
		}
		w, err := t.writable(k)
		if err != nil {
			continue
		}
		for i := range w.Results {
			if _, ok := w.Results[i].Values[name]; !ok {
				w.Results[i] = w.Results[i].Merge(map[string]any{name: value})
			}
		}
		t.record(Change{Kind: ChangeAddFieldRows, Key: k})
	}
}

func insertAt(rows []models.Row, index int, row models.Row) []models.Row {
	rows = append(rows, models.Row{})
	copy(rows[index+1:], rows[index:])
	rows[index] = row
	return rows
}
