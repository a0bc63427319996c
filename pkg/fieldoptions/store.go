// Package fieldoptions keeps the per field display configuration of a view and
// persists changes optimistically.
package fieldoptions

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Slach/calendar-sync/pkg/models"
)

// Persister sends field option changes to the server.
type Persister interface {
	UpdateFieldOptions(ctx context.Context, viewID int64, options map[int64]models.FieldOptions) error
}

type Store struct {
	mu        sync.RWMutex
	options   map[int64]models.FieldOptions
	viewID    int64
	persister Persister
}

func NewStore(persister Persister) *Store {
	return &Store{options: make(map[int64]models.FieldOptions), persister: persister}
}

// SetView sets the view id remote updates are sent for.
func (s *Store) SetView(viewID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewID = viewID
}

func (s *Store) Get(fieldID int64) (models.FieldOptions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.options[fieldID]
	if !ok {
		return models.FieldOptions{}, false
	}
	return o.Clone(), true
}

func (s *Store) Snapshot() map[int64]models.FieldOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneFieldOptionsMap(s.options)
}

// ReplaceAll swaps in the options received from the server.
func (s *Store) ReplaceAll(options map[int64]models.FieldOptions) {
	s.commitAll(options)
}

// Delete removes a field's options entirely.
func (s *Store) Delete(fieldID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.options, fieldID)
}

// SetLocal merges values into a field's options without a remote call.
func (s *Store) SetLocal(fieldID int64, values models.FieldOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[fieldID] = models.MergeFieldOptions(s.options[fieldID], values)
}

// UpdateAll merges newOptions into the store and, when persist is set, sends
// them to the server. On failure every field named in newOptions or
// oldOptions goes back to its oldOptions entry, or to its state before the
// call when oldOptions does not name it. Other fields are left alone.
func (s *Store) UpdateAll(ctx context.Context, newOptions, oldOptions map[int64]models.FieldOptions, persist bool) error {
	s.mu.Lock()
	before := make(map[int64]models.FieldOptions, len(newOptions))
	for id := range newOptions {
		if o, ok := s.options[id]; ok {
			before[id] = o.Clone()
		}
		s.options[id] = models.MergeFieldOptions(s.options[id], newOptions[id])
	}
	viewID := s.viewID
	s.mu.Unlock()

	if !persist {
		return nil
	}
	if err := s.persist(ctx, viewID, models.CloneFieldOptionsMap(newOptions)); err != nil {
		log.Warn().Err(err).Int64("view", viewID).Msg("field options update failed, rolling back")
		s.restore(newOptions, oldOptions, before)
		return errors.Wrap(err, "update field options")
	}
	return nil
}

// restore rolls back the fields of a failed UpdateAll.
func (s *Store) restore(newOptions, oldOptions, before map[int64]models.FieldOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range newOptions {
		if _, ok := oldOptions[id]; ok {
			continue
		}
		if o, ok := before[id]; ok {
			s.options[id] = o
		} else {
			delete(s.options, id)
		}
	}
	for id, o := range oldOptions {
		s.options[id] = o.Clone()
	}
}

// UpdateField merges values into one field's options and persists them when
// asked. On failure the field returns to exactly what it was before.
func (s *Store) UpdateField(ctx context.Context, fieldID int64, values models.FieldOptions, persist bool) error {
	s.mu.Lock()
	prev, existed := s.options[fieldID]
	prev = prev.Clone()
	s.options[fieldID] = models.MergeFieldOptions(prev, values)
	viewID := s.viewID
	s.mu.Unlock()

	if !persist {
		return nil
	}
	payload := map[int64]models.FieldOptions{fieldID: values.Clone()}
	if err := s.persist(ctx, viewID, payload); err != nil {
		log.Warn().Err(err).Int64("view", viewID).Int64("field", fieldID).Msg("field options update failed, rolling back")
		s.commitField(fieldID, prev, existed)
		return errors.Wrapf(err, "update field options of field %d", fieldID)
	}
	return nil
}

// Reorder gives the listed fields ascending order values and every other
// known field a trailing order, keeping their current relative order.
func (s *Store) Reorder(ctx context.Context, order []int64, persist bool) error {
	old := s.Snapshot()
	next := models.CloneFieldOptionsMap(old)

	listed := make(map[int64]struct{}, len(order))
	for _, id := range order {
		listed[id] = struct{}{}
	}
	rest := make([]int64, 0, len(next))
	for id := range next {
		if _, ok := listed[id]; !ok {
			rest = append(rest, id)
		}
	}
	slices.SortFunc(rest, func(a, b int64) int {
		oa, ob := next[a].Order, next[b].Order
		switch {
		case oa != nil && ob != nil && *oa != *ob:
			return cmp.Compare(*oa, *ob)
		case oa != nil && ob == nil:
			return -1
		case oa == nil && ob != nil:
			return 1
		}
		return cmp.Compare(a, b)
	})
	for i, id := range rest {
		o := next[id]
		o.Order = models.IntPtr(len(order) + i)
		next[id] = o
	}
	for i, id := range order {
		o, ok := next[id]
		if !ok {
			continue
		}
		o.Order = models.IntPtr(i)
		next[id] = o
	}
	return s.UpdateAll(ctx, next, old, persist)
}

func (s *Store) persist(ctx context.Context, viewID int64, options map[int64]models.FieldOptions) error {
	if s.persister == nil {
		return errors.New("no field options persister configured")
	}
	return s.persister.UpdateFieldOptions(ctx, viewID, options)
}

func (s *Store) commitAll(options map[int64]models.FieldOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = models.CloneFieldOptionsMap(options)
}

// commitField stores o for the field, or removes the field when present is false.
func (s *Store) commitField(fieldID int64, o models.FieldOptions, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !present {
		delete(s.options, fieldID)
		return
	}
	s.options[fieldID] = o.Clone()
}
