package operation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testFieldSelection(t *testing.T, name string) *FieldSelection {
	t.Helper()
	sch := buildSchema(t, testSDL)
	field, err := NewField(sch, sch.Type("User"), name, "", nil, nil)
	if err != nil {
		t.Fatalf("failed to build field %q: %v", name, err)
	}
	return NewFieldSelection(field, nil)
}

func TestSelectionMapPreservesInsertionOrder(t *testing.T) {
	m := NewSelectionMap()
	for _, name := range []string{"name", "email", "id"} {
		m.Insert(testFieldSelection(t, name))
	}

	var got []string
	for _, sel := range m.Values() {
		got = append(got, sel.(*FieldSelection).Field().ResponseName())
	}
	want := []string{"name", "email", "id"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}

	// Re-inserting an existing key must not move it.
	m.Insert(testFieldSelection(t, "name"))
	if first, _ := m.First(); first.(*FieldSelection).Field().ResponseName() != "name" {
		t.Errorf("re-insert moved the first selection")
	}
	if m.Len() != 3 {
		t.Errorf("Len = %d, want 3", m.Len())
	}
}

func TestSelectionMapRemove(t *testing.T) {
	m := NewSelectionMap()
	name := testFieldSelection(t, "name")
	email := testFieldSelection(t, "email")
	m.Insert(name)
	m.Insert(email)

	removed, ok := m.Remove(name.Key())
	if !ok || removed != Selection(name) {
		t.Fatalf("Remove returned (%v, %v)", removed, ok)
	}
	if m.Contains(name.Key()) {
		t.Errorf("removed key still present")
	}
	if _, ok := m.Remove(name.Key()); ok {
		t.Errorf("second Remove of the same key succeeded")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestEntryInsertVacant(t *testing.T) {
	m := NewSelectionMap()
	name := testFieldSelection(t, "name")

	if err := m.Entry(name.Key()).InsertVacant(name); err != nil {
		t.Fatalf("InsertVacant into empty slot: %v", err)
	}

	err := m.Entry(name.Key()).InsertVacant(testFieldSelection(t, "name"))
	if !IsInternal(err) {
		t.Errorf("InsertVacant into occupied slot: got %v, want internal error", err)
	}

	email := testFieldSelection(t, "email")
	err = m.Entry(name.Key()).InsertVacant(email)
	if !IsInternal(err) {
		t.Errorf("InsertVacant with mismatched key: got %v, want internal error", err)
	}
}

func TestUpdateRejectsKeyChange(t *testing.T) {
	m := NewSelectionMap()
	name := testFieldSelection(t, "name")
	m.Insert(name)

	err := m.Update(name.Key(), func(Selection) (Selection, error) {
		return testFieldSelection(t, "email"), nil
	})
	if !IsInternal(err) {
		t.Errorf("Update that changed the key: got %v, want internal error", err)
	}

	if err := m.Update(name.Key(), func(sel Selection) (Selection, error) {
		return sel, nil
	}); err != nil {
		t.Errorf("identity Update: %v", err)
	}
}

func TestFilterReturnsSameMapWhenNothingChanges(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `{ me { name email } }`)

	filtered, err := ss.selections.filterRecursiveDepthFirst(func(Selection) (bool, error) {
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if filtered != ss.selections {
		t.Errorf("keep-everything filter returned a new map")
	}

	filtered, err = ss.selections.filterRecursiveDepthFirst(func(sel Selection) (bool, error) {
		fs, ok := sel.(*FieldSelection)
		return !ok || fs.Field().ResponseName() != "email", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if filtered == ss.selections {
		t.Fatalf("dropping filter returned the original map")
	}
	sub := filtered.Values()[0].SelectionSet()
	if got := responseNames(sub); len(got) != 1 || got[0] != "name" {
		t.Errorf("filtered sub-selections = %v, want [name]", got)
	}
}
