package bucket

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slach/calendar-sync/pkg/models"
)

func row(id int64) models.Row {
	return models.NewRow(id, map[string]any{"field_1": id})
}

func ids(b models.Bucket) []int64 {
	out := make([]int64, 0, len(b.Results))
	for _, r := range b.Results {
		out = append(out, r.ID)
	}
	return out
}

func seeded() *Store {
	s := NewStore()
	s.ReplaceAll(map[string]models.Bucket{
		"2024-03-10": {Results: []models.Row{row(1), row(2)}, Count: 4},
		"2024-03-11": {Results: []models.Row{row(3)}, Count: 1},
	})
	return s
}

func assertInvariants(t *testing.T, s *Store) {
	t.Helper()
	seen := map[int64]string{}
	for key, b := range s.Snapshot() {
		assert.GreaterOrEqual(t, b.Count, len(b.Results), key)
		for _, r := range b.Results {
			prev, dup := seen[r.ID]
			assert.False(t, dup, "row %d in %s and %s", r.ID, prev, key)
			seen[r.ID] = key
		}
	}
}

func TestReplaceAllAndReads(t *testing.T) {
	s := seeded()
	assert.Equal(t, []string{"2024-03-10", "2024-03-11"}, s.Keys())
	assert.Equal(t, 2, s.Len())

	b, ok := s.Bucket("2024-03-10")
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, ids(b))
	assert.Equal(t, 4, b.Count)

	b.Results[0].Values["field_1"] = "mutated"
	again, _ := s.Bucket("2024-03-10")
	assert.Equal(t, int64(1), again.Results[0].Values["field_1"])

	key, idx, r, found := s.FindRow(3)
	require.True(t, found)
	assert.Equal(t, "2024-03-11", key)
	assert.Equal(t, 0, idx)
	assert.Equal(t, int64(3), r.ID)

	_, _, _, found = s.FindRow(99)
	assert.False(t, found)

	assert.Len(t, s.AllRows(), 3)

	s.ReplaceAll(map[string]models.Bucket{"2024-04-01": {Results: []models.Row{row(9)}}})
	assert.Equal(t, []string{"2024-04-01"}, s.Keys())
	b, _ = s.Bucket("2024-04-01")
	assert.Equal(t, 1, b.Count)

	s.Clear()
	assert.Zero(t, s.Len())
}

func TestInsertRemoveMove(t *testing.T) {
	s := seeded()

	require.NoError(t, s.InsertRow("2024-03-10", 1, row(5)))
	b, _ := s.Bucket("2024-03-10")
	assert.Equal(t, []int64{1, 5, 2}, ids(b))

	err := s.InsertRow("2024-03-11", 0, row(5))
	require.ErrorIs(t, err, ErrDuplicateRow)
	err = s.InsertRow("2024-03-11", 5, row(6))
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	err = s.InsertRow("2024-03-12", 0, row(6))
	require.ErrorIs(t, err, ErrBucketNotFound)

	removed, err := s.RemoveRow("2024-03-10", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed.ID)
	_, err = s.RemoveRow("2024-03-10", 7)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	// Within a bucket the target index ignores the moved row.
	require.NoError(t, s.MoveRow("2024-03-10", 0, "2024-03-10", 1))
	b, _ = s.Bucket("2024-03-10")
	assert.Equal(t, []int64{2, 5}, ids(b))

	require.NoError(t, s.MoveRow("2024-03-10", 1, "2024-03-11", 1))
	b, _ = s.Bucket("2024-03-11")
	assert.Equal(t, []int64{3, 5}, ids(b))
	err = s.MoveRow("2024-03-11", 0, "2024-03-11", 2)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	// Counts are adjusted separately from structure.
	require.NoError(t, s.IncrementCount("2024-03-11"))
	assertInvariants(t, s)
}

func TestCounts(t *testing.T) {
	s := seeded()
	require.NoError(t, s.IncrementCount("2024-03-10"))
	b, _ := s.Bucket("2024-03-10")
	assert.Equal(t, 5, b.Count)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.DecrementCount("2024-03-10"))
	}
	b, _ = s.Bucket("2024-03-10")
	assert.Equal(t, 2, b.Count)

	require.ErrorIs(t, s.DecrementCount("nope"), ErrBucketNotFound)
	assertInvariants(t, s)
}

func TestAppendRows(t *testing.T) {
	s := seeded()
	count := 6
	require.NoError(t, s.AppendRows("2024-03-10", []models.Row{row(3), row(7), row(8)}, &count))
	b, _ := s.Bucket("2024-03-10")
	assert.Equal(t, []int64{1, 2, 7, 8}, ids(b))
	assert.Equal(t, 6, b.Count)

	low := 1
	require.NoError(t, s.AppendRows("2024-03-10", nil, &low))
	b, _ = s.Bucket("2024-03-10")
	assert.Equal(t, 4, b.Count)
	assertInvariants(t, s)
}

func TestUpdateRowFieldsAndAddField(t *testing.T) {
	s := seeded()
	assert.True(t, s.UpdateRowFields(2, map[string]any{"field_2": "x"}))
	assert.False(t, s.UpdateRowFields(42, map[string]any{"field_2": "x"}))
	_, _, r, _ := s.FindRow(2)
	assert.Equal(t, "x", r.Values["field_2"])

	require.NoError(t, s.Update(func(tx *Txn) error {
		tx.AddFieldToAllRows("field_2", "default")
		return nil
	}))
	for _, r := range s.AllRows() {
		if r.ID == 2 {
			assert.Equal(t, "x", r.Values["field_2"])
		} else {
			assert.Equal(t, "default", r.Values["field_2"])
		}
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	s := seeded()
	before := s.Snapshot()
	var notified int
	_, unsubscribe := s.Subscribe(func([]Change) { notified++ })
	defer unsubscribe()

	err := s.Update(func(tx *Txn) error {
		if _, err := tx.RemoveRow("2024-03-10", 0); err != nil {
			return err
		}
		tx.ReplaceAll(nil)
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, before, s.Snapshot())
	assert.Zero(t, notified)
}

func TestTxnSeesOwnWrites(t *testing.T) {
	s := seeded()
	require.NoError(t, s.Update(func(tx *Txn) error {
		tx.AddBucket("2024-03-12", models.Bucket{})
		if err := tx.InsertRow("2024-03-12", 0, row(10)); err != nil {
			return err
		}
		key, _, _, found := tx.FindRow(10)
		assert.True(t, found)
		assert.Equal(t, "2024-03-12", key)
		assert.Equal(t, []string{"2024-03-10", "2024-03-11", "2024-03-12"}, tx.Keys())
		if err := tx.IncrementCount("2024-03-12"); err != nil {
			return err
		}
		return tx.SetLoading("2024-03-12", true)
	}))
	b, ok := s.Bucket("2024-03-12")
	require.True(t, ok)
	assert.True(t, b.Loading)
	assert.Equal(t, 1, b.Count)
}

func TestSubscribe(t *testing.T) {
	s := NewStore()
	var got [][]Change
	id, unsubscribe := s.Subscribe(func(changes []Change) { got = append(got, changes) })
	assert.NotEmpty(t, id)

	s.AddBucket("2024-03-10", models.Bucket{})
	require.NoError(t, s.Update(func(tx *Txn) error {
		if err := tx.InsertRow("2024-03-10", 0, row(1)); err != nil {
			return err
		}
		return tx.IncrementCount("2024-03-10")
	}))
	require.Len(t, got, 2)
	assert.Equal(t, []Change{
		{Kind: ChangeInsertRow, Key: "2024-03-10", RowID: 1},
		{Kind: ChangeCount, Key: "2024-03-10", Count: 1},
	}, got[1])

	unsubscribe()
	s.Clear()
	assert.Len(t, got, 2)

	// Transactions without mutations do not notify.
	_, unsubscribe = s.Subscribe(func([]Change) { t.Fatal("unexpected notification") })
	defer unsubscribe()
	require.NoError(t, s.Update(func(*Txn) error { return nil }))
}

func TestUpdateDeferred(t *testing.T) {
	s := seeded()
	var got [][]Change
	_, unsubscribe := s.Subscribe(func(changes []Change) { got = append(got, changes) })
	defer unsubscribe()

	require.NoError(t, s.UpdateDeferred(func(tx *Txn) error { return tx.IncrementCount("2024-03-11") }))
	require.NoError(t, s.UpdateDeferred(func(tx *Txn) error { return tx.DecrementCount("2024-03-10") }))
	require.Error(t, s.UpdateDeferred(func(tx *Txn) error { return errors.New("boom") }))

	b, _ := s.Bucket("2024-03-11")
	assert.Equal(t, 2, b.Count, "committed before flush")
	assert.Empty(t, got)

	s.Flush()
	assert.Equal(t, [][]Change{
		{{Kind: ChangeCount, Key: "2024-03-11", Count: 2}},
		{{Kind: ChangeCount, Key: "2024-03-10", Count: 3}},
	}, got)

	s.Flush()
	assert.Len(t, got, 2)
}

func TestObserverCanUpdateStore(t *testing.T) {
	s := seeded()
	var got []ChangeKind
	_, unsubscribe := s.Subscribe(func(changes []Change) {
		for _, c := range changes {
			got = append(got, c.Kind)
			if c.Kind == ChangeRemoveRow {
				require.NoError(t, s.Update(func(tx *Txn) error { return tx.DecrementCount(c.Key) }))
			}
		}
		_, _ = s.Bucket("2024-03-10")
	})
	defer unsubscribe()

	_, err := s.RemoveRow("2024-03-10", 0)
	require.NoError(t, err)
	assert.Equal(t, []ChangeKind{ChangeRemoveRow, ChangeCount}, got)
	b, _ := s.Bucket("2024-03-10")
	assert.Equal(t, 3, b.Count)
	assert.Equal(t, []int64{2}, ids(b))
}
