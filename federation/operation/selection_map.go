package operation

// SelectionMap is an insertion-ordered mapping from merge key to
// selection. The ordering is observable: it determines field order in
// rendered subgraph fetches and, transitively, response field order.
//
// The invariant the merge and rebase algorithms depend on is that a
// stored selection's own key always equals the key of the slot holding
// it. The mutation surface is therefore restricted: Insert derives the
// slot from the value, Update validates that the replacement value kept
// the slot's key, and a vacant Entry insert rejects values whose key
// differs from the requested one.
type SelectionMap struct {
	order []Key
	byKey map[Key]Selection
}

// NewSelectionMap returns an empty map.
func NewSelectionMap() *SelectionMap {
	return &SelectionMap{byKey: make(map[Key]Selection)}
}

func newSelectionMapSized(n int) *SelectionMap {
	return &SelectionMap{
		order: make([]Key, 0, n),
		byKey: make(map[Key]Selection, n),
	}
}

// Len returns the number of selections.
func (m *SelectionMap) Len() int { return len(m.order) }

// IsEmpty reports whether the map holds no selections.
func (m *SelectionMap) IsEmpty() bool { return len(m.order) == 0 }

// Get returns the selection stored under key.
func (m *SelectionMap) Get(key Key) (Selection, bool) {
	sel, ok := m.byKey[key]
	return sel, ok
}

// Contains reports whether a selection is stored under key.
func (m *SelectionMap) Contains(key Key) bool {
	_, ok := m.byKey[key]
	return ok
}

// Keys returns the keys in insertion order.
func (m *SelectionMap) Keys() []Key {
	keys := make([]Key, len(m.order))
	copy(keys, m.order)
	return keys
}

// Values returns the selections in insertion order.
func (m *SelectionMap) Values() []Selection {
	values := make([]Selection, 0, len(m.order))
	for _, k := range m.order {
		values = append(values, m.byKey[k])
	}
	return values
}

// First returns the first selection in insertion order.
func (m *SelectionMap) First() (Selection, bool) {
	if len(m.order) == 0 {
		return nil, false
	}
	return m.byKey[m.order[0]], true
}

// Insert stores sel under its own key. An existing entry keeps its
// position in the order; a new entry is appended.
func (m *SelectionMap) Insert(sel Selection) {
	key := sel.Key()
	if _, ok := m.byKey[key]; !ok {
		m.order = append(m.order, key)
	}
	m.byKey[key] = sel
}

// Remove deletes and returns the selection stored under key.
func (m *SelectionMap) Remove(key Key) (Selection, bool) {
	sel, ok := m.byKey[key]
	if !ok {
		return nil, false
	}
	delete(m.byKey, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return sel, true
}

// Update replaces the selection stored under key with the result of fn.
// The replacement must keep the slot's key; a diverging key is an
// internal error, never silently accepted.
func (m *SelectionMap) Update(key Key, fn func(Selection) (Selection, error)) error {
	sel, ok := m.byKey[key]
	if !ok {
		return internalErrorf("no selection with key %q to update", key)
	}
	updated, err := fn(sel)
	if err != nil {
		return err
	}
	if updated.Key() != key {
		return internalErrorf("update changed selection key from %q to %q", key, updated.Key())
	}
	m.byKey[key] = updated
	return nil
}

// Entry returns the slot for key, occupied or vacant.
func (m *SelectionMap) Entry(key Key) Entry {
	return Entry{m: m, key: key}
}

// Entry is a view of one slot of a SelectionMap.
type Entry struct {
	m   *SelectionMap
	key Key
}

// Key returns the slot's key.
func (e Entry) Key() Key { return e.key }

// Get returns the occupying selection, if any.
func (e Entry) Get() (Selection, bool) {
	return e.m.Get(e.key)
}

// InsertVacant stores sel into the slot. It is an internal error if the
// slot is occupied or if sel's key differs from the slot's key.
func (e Entry) InsertVacant(sel Selection) error {
	if _, ok := e.m.byKey[e.key]; ok {
		return internalErrorf("selection key %q is already occupied", e.key)
	}
	if sel.Key() != e.key {
		return internalErrorf("cannot insert selection with key %q into slot %q", sel.Key(), e.key)
	}
	e.m.Insert(sel)
	return nil
}

// clone returns a shallow copy sharing the (immutable) selections.
func (m *SelectionMap) clone() *SelectionMap {
	c := newSelectionMapSized(len(m.order))
	for _, k := range m.order {
		c.order = append(c.order, k)
		c.byKey[k] = m.byKey[k]
	}
	return c
}

// filterRecursiveDepthFirst applies predicate bottom-up: a selection's
// sub-selections are filtered before the predicate sees the selection
// itself. It returns the receiver unchanged (same pointer) when every
// selection survives untouched, so callers can test "did anything
// change" by identity. Fragment spreads are not supported; the filter
// operates on expanded selection sets only.
func (m *SelectionMap) filterRecursiveDepthFirst(predicate func(Selection) (bool, error)) (*SelectionMap, error) {
	var filtered *SelectionMap
	for i, key := range m.order {
		sel := m.byKey[key]
		updated, err := filterSelection(sel, predicate)
		if err != nil {
			return nil, err
		}
		if updated == sel && filtered == nil {
			continue
		}
		if filtered == nil {
			// First change: copy the untouched prefix.
			filtered = newSelectionMapSized(len(m.order))
			for _, prev := range m.order[:i] {
				filtered.Insert(m.byKey[prev])
			}
		}
		if updated != nil {
			filtered.Insert(updated)
		}
	}
	if filtered == nil {
		return m, nil
	}
	return filtered, nil
}

// filterSelection filters sel's sub-selections, then applies the
// predicate. It returns nil when the selection is dropped and sel itself
// (same value) when nothing changed.
func filterSelection(sel Selection, predicate func(Selection) (bool, error)) (Selection, error) {
	if _, ok := sel.(*FragmentSpreadSelection); ok {
		return nil, internalErrorf("unexpected fragment spread in recursive filter")
	}
	updated := sel
	if sub := sel.SelectionSet(); sub != nil {
		filteredSub, err := sub.selections.filterRecursiveDepthFirst(predicate)
		if err != nil {
			return nil, err
		}
		if filteredSub != sub.selections {
			updated = sel.withSelectionSet(sub.withSelections(filteredSub))
		}
	}
	keep, err := predicate(updated)
	if err != nil {
		return nil, err
	}
	if !keep {
		return nil, nil
	}
	return updated, nil
}
