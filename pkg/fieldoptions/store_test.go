package fieldoptions

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slach/calendar-sync/pkg/models"
)

type fakePersister struct {
	err    error
	calls  int
	viewID int64
	last   map[int64]models.FieldOptions
	during func()
}

func (f *fakePersister) UpdateFieldOptions(_ context.Context, viewID int64, options map[int64]models.FieldOptions) error {
	f.calls++
	f.viewID = viewID
	f.last = options
	if f.during != nil {
		f.during()
	}
	return f.err
}

func seeded(p Persister) *Store {
	s := NewStore(p)
	s.SetView(7)
	s.ReplaceAll(map[int64]models.FieldOptions{
		1: {Hidden: models.BoolPtr(false), Order: models.IntPtr(5)},
		2: {Hidden: models.BoolPtr(true), Order: models.IntPtr(1)},
		3: {Hidden: models.BoolPtr(false)},
		4: {Order: models.IntPtr(0), Style: map[string]string{"color": "blue"}},
	})
	return s
}

func TestSetLocalDoesNotPersist(t *testing.T) {
	p := &fakePersister{}
	s := seeded(p)
	s.SetLocal(1, models.FieldOptions{Hidden: models.BoolPtr(true)})
	s.SetLocal(9, models.FieldOptions{Order: models.IntPtr(3)})

	o, ok := s.Get(1)
	require.True(t, ok)
	assert.True(t, *o.Hidden)
	assert.Equal(t, 5, *o.Order)
	o, ok = s.Get(9)
	require.True(t, ok)
	assert.Equal(t, 3, *o.Order)
	assert.Zero(t, p.calls)
}

func TestUpdateAll(t *testing.T) {
	p := &fakePersister{}
	s := seeded(p)
	update := map[int64]models.FieldOptions{2: {Hidden: models.BoolPtr(false)}, 8: {Order: models.IntPtr(9)}}
	require.NoError(t, s.UpdateAll(context.Background(), update, nil, true))

	assert.Equal(t, 1, p.calls)
	assert.Equal(t, int64(7), p.viewID)
	assert.Equal(t, update, p.last)
	o, _ := s.Get(2)
	assert.False(t, *o.Hidden)
	assert.Equal(t, 1, *o.Order)
	_, ok := s.Get(8)
	assert.True(t, ok)
}

func TestUpdateAllRollsBackOnFailure(t *testing.T) {
	p := &fakePersister{err: errors.New("502 bad gateway")}
	s := seeded(p)
	before := s.Snapshot()

	err := s.UpdateAll(context.Background(), map[int64]models.FieldOptions{
		1: {Hidden: models.BoolPtr(true)},
		5: {Order: models.IntPtr(2)},
	}, before, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502 bad gateway")
	assert.Equal(t, before, s.Snapshot())
}

func TestUpdateAllRollbackWithPartialOldOptions(t *testing.T) {
	p := &fakePersister{err: errors.New("502 bad gateway")}
	s := NewStore(p)
	s.ReplaceAll(map[int64]models.FieldOptions{
		1: {Hidden: models.BoolPtr(true)},
		2: {Order: models.IntPtr(5)},
	})

	err := s.UpdateAll(context.Background(),
		map[int64]models.FieldOptions{1: {Hidden: models.BoolPtr(false)}, 3: {Order: models.IntPtr(1)}},
		map[int64]models.FieldOptions{1: {Hidden: models.BoolPtr(true)}},
		true)
	require.Error(t, err)

	assert.Equal(t, map[int64]models.FieldOptions{
		1: {Hidden: models.BoolPtr(true)},
		2: {Order: models.IntPtr(5)},
	}, s.Snapshot())
}

func TestUpdateAllKeepsConcurrentChanges(t *testing.T) {
	for _, fail := range []bool{false, true} {
		p := &fakePersister{}
		if fail {
			p.err = errors.New("timeout")
		}
		s := seeded(p)
		p.during = func() { s.SetLocal(3, models.FieldOptions{Order: models.IntPtr(8)}) }

		err := s.UpdateAll(context.Background(), map[int64]models.FieldOptions{1: {Hidden: models.BoolPtr(true)}}, nil, true)
		assert.Equal(t, fail, err != nil)

		o, ok := s.Get(3)
		require.True(t, ok)
		require.NotNil(t, o.Order)
		assert.Equal(t, 8, *o.Order, "fail=%v", fail)
		o, _ = s.Get(1)
		assert.Equal(t, !fail, *o.Hidden, "fail=%v", fail)
		assert.Equal(t, 5, *o.Order)
	}
}

func TestUpdateFieldKeepsConcurrentChanges(t *testing.T) {
	p := &fakePersister{err: errors.New("timeout")}
	s := seeded(p)
	p.during = func() { s.SetLocal(2, models.FieldOptions{Hidden: models.BoolPtr(false)}) }

	require.Error(t, s.UpdateField(context.Background(), 1, models.FieldOptions{Hidden: models.BoolPtr(true)}, true))
	o, _ := s.Get(2)
	assert.False(t, *o.Hidden)
	o, _ = s.Get(1)
	assert.False(t, *o.Hidden)
}

func TestUpdateAllWithoutPersist(t *testing.T) {
	p := &fakePersister{err: errors.New("unused")}
	s := seeded(p)
	require.NoError(t, s.UpdateAll(context.Background(), map[int64]models.FieldOptions{1: {Hidden: models.BoolPtr(true)}}, nil, false))
	o, _ := s.Get(1)
	assert.True(t, *o.Hidden)
	assert.Zero(t, p.calls)
}

func TestUpdateField(t *testing.T) {
	p := &fakePersister{}
	s := seeded(p)
	require.NoError(t, s.UpdateField(context.Background(), 4, models.FieldOptions{Style: map[string]string{"icon": "x"}}, true))

	o, _ := s.Get(4)
	assert.Equal(t, map[string]string{"color": "blue", "icon": "x"}, o.Style)
	assert.Equal(t, 0, *o.Order)
	assert.Equal(t, map[int64]models.FieldOptions{4: {Style: map[string]string{"icon": "x"}}}, p.last)
}

func TestUpdateFieldRollsBackOnFailure(t *testing.T) {
	p := &fakePersister{err: errors.New("timeout")}
	s := seeded(p)
	before := s.Snapshot()

	require.Error(t, s.UpdateField(context.Background(), 1, models.FieldOptions{Hidden: models.BoolPtr(true), Order: models.IntPtr(0)}, true))
	assert.Equal(t, before, s.Snapshot())

	// A field that had no options before is removed again.
	require.Error(t, s.UpdateField(context.Background(), 42, models.FieldOptions{Hidden: models.BoolPtr(true)}, true))
	_, ok := s.Get(42)
	assert.False(t, ok)
	assert.Equal(t, before, s.Snapshot())
}

func TestReorder(t *testing.T) {
	p := &fakePersister{}
	s := seeded(p)
	require.NoError(t, s.Reorder(context.Background(), []int64{3, 1, 99}, true))

	order := func(id int64) int {
		o, ok := s.Get(id)
		require.True(t, ok)
		require.NotNil(t, o.Order)
		return *o.Order
	}
	assert.Equal(t, 0, order(3))
	assert.Equal(t, 1, order(1))
	// Unlisted fields follow, keeping their previous relative order (4 before 2).
	assert.Equal(t, 3, order(4))
	assert.Equal(t, 4, order(2))
	_, ok := s.Get(99)
	assert.False(t, ok)
	assert.Equal(t, 1, p.calls)
}

func TestReorderRollsBack(t *testing.T) {
	p := &fakePersister{err: errors.New("nope")}
	s := seeded(p)
	before := s.Snapshot()
	require.Error(t, s.Reorder(context.Background(), []int64{2}, true))
	assert.Equal(t, before, s.Snapshot())
}

func TestDelete(t *testing.T) {
	s := seeded(nil)
	s.Delete(1)
	s.Delete(100)
	_, ok := s.Get(1)
	assert.False(t, ok)
	assert.Len(t, s.Snapshot(), 3)

	require.Error(t, s.UpdateField(context.Background(), 2, models.FieldOptions{}, true))
}
