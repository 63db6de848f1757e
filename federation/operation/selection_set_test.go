package operation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildMergesSameResponseName(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `{
		me { name }
		me { email }
	}`)

	if ss.Len() != 1 {
		t.Fatalf("top level has %d selections, want 1", ss.Len())
	}
	me := fieldAt(t, ss, "me")
	if diff := cmp.Diff([]string{"name", "email"}, responseNames(me.SelectionSet())); diff != "" {
		t.Errorf("merged sub-selections (-want +got):\n%s", diff)
	}
}

func TestBuildKeepsDistinctAliasesApart(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `{
		me { name }
		other: me { name }
	}`)

	if diff := cmp.Diff([]string{"me", "other"}, responseNames(ss)); diff != "" {
		t.Errorf("top-level selections (-want +got):\n%s", diff)
	}
	if got := fieldAt(t, ss, "other").Field().Name(); got != "me" {
		t.Errorf("aliased field selects %q, want me", got)
	}
}

func TestBuildSkipsSchemaIntrospection(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `{
		__schema { queryType { name } }
		__type(name: "User") { name }
		me { id }
	}`)

	if diff := cmp.Diff([]string{"me"}, responseNames(ss)); diff != "" {
		t.Errorf("top-level selections (-want +got):\n%s", diff)
	}
}

func TestBuildHoistsRedundantInlineFragments(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `{
		me {
			... on User { name }
			... { email }
		}
	}`)

	me := fieldAt(t, ss, "me")
	for _, sel := range me.SelectionSet().Selections() {
		if _, ok := sel.(*InlineFragmentSelection); ok {
			t.Fatalf("redundant inline fragment survived: %s", me.SelectionSet())
		}
	}
	if diff := cmp.Diff([]string{"name", "email"}, responseNames(me.SelectionSet())); diff != "" {
		t.Errorf("hoisted selections (-want +got):\n%s", diff)
	}
}

func TestBuildKeepsConditionedAndDirectiveFragments(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `{
		me {
			pet {
				... on Dog { barks }
			}
			... on User @include(if: true) { name }
		}
	}`)

	me := fieldAt(t, ss, "me")
	var kept int
	for _, sel := range me.SelectionSet().Selections() {
		if _, ok := sel.(*InlineFragmentSelection); ok {
			kept++
		}
	}
	if kept != 1 {
		t.Errorf("kept %d inline fragments at the me level, want the @include one", kept)
	}

	pet := fieldAt(t, ss, "me", "pet")
	sel := pet.SelectionSet().Selections()[0]
	inf, ok := sel.(*InlineFragmentSelection)
	if !ok {
		t.Fatalf("pet selection is %T, want inline fragment", sel)
	}
	if inf.InlineFragment().TypeCondition().Name != "Dog" {
		t.Errorf("condition = %q, want Dog", inf.InlineFragment().TypeCondition().Name)
	}
}

func TestMergeInlineFragmentsWithSameCondition(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `{
		me {
			pet {
				... on Dog { name }
				... on Dog { barks }
				... on Cat { meows }
			}
		}
	}`)

	pet := fieldAt(t, ss, "me", "pet")
	if pet.SelectionSet().Len() != 2 {
		t.Fatalf("pet has %d selections, want 2 (Dog merged, Cat separate): %s",
			pet.SelectionSet().Len(), pet.SelectionSet())
	}
	dog := pet.SelectionSet().Selections()[0].(*InlineFragmentSelection)
	if diff := cmp.Diff([]string{"name", "barks"}, responseNames(dog.SelectionSet())); diff != "" {
		t.Errorf("merged Dog fragment (-want +got):\n%s", diff)
	}
}

func TestMergeKeepsDistinctDirectives(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `query ($a: Boolean!, $b: Boolean!) {
		me {
			name @include(if: $a)
			name @include(if: $b)
		}
	}`)

	me := fieldAt(t, ss, "me")
	if me.SelectionSet().Len() != 2 {
		t.Errorf("fields with different directive arguments merged: %s", me.SelectionSet())
	}

	same := buildSelectionSet(t, sch, `query ($a: Boolean!) {
		me {
			name @include(if: $a)
			name @include(if: $a)
		}
	}`)
	me = fieldAt(t, same, "me")
	if me.SelectionSet().Len() != 1 {
		t.Errorf("fields with identical directives did not merge: %s", me.SelectionSet())
	}
}

func TestWithoutEmptyBranches(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `{ me { pet { ... on Dog { barks } } } id: me { id } }`)

	// Drop the only leaf under the Dog fragment; the fragment, the pet
	// field and the me field above it must all unwind.
	filtered, err := ss.selections.filterRecursiveDepthFirst(func(sel Selection) (bool, error) {
		fs, ok := sel.(*FieldSelection)
		return !ok || fs.Field().ResponseName() != "barks", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	pruned, err := ss.withSelections(filtered).WithoutEmptyBranches()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"id"}, responseNames(pruned)); diff != "" {
		t.Errorf("pruned top level (-want +got):\n%s", diff)
	}

	unchanged, err := ss.WithoutEmptyBranches()
	if err != nil {
		t.Fatal(err)
	}
	if unchanged != ss {
		t.Errorf("pruning a set with no empty branches returned a new set")
	}
}

func TestCollectVariables(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `query ($cur: String, $flag: Boolean!, $id: ID!) {
		node(id: $id) { id }
		products { price(currency: $cur) @include(if: $flag) }
	}`)

	if diff := cmp.Diff([]string{"cur", "flag", "id"}, ss.CollectVariables()); diff != "" {
		t.Errorf("variables (-want +got):\n%s", diff)
	}
}

func TestFieldsInSetTracksFragmentPaths(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `{
		me {
			pet {
				name: __typename
				... on Dog { barks }
			}
		}
	}`)

	pet := fieldAt(t, ss, "me", "pet")
	fields, err := pet.SelectionSet().FieldsInSet()
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(fields))
	}
	if len(fields[0].Path) != 0 {
		t.Errorf("level field has path %v, want empty", fields[0].Path)
	}
	wantPath := []PathElement{TypenamePathElement("Dog")}
	if diff := cmp.Diff(wantPath, fields[1].Path); diff != "" {
		t.Errorf("fragment field path (-want +got):\n%s", diff)
	}
	if fields[1].Field.Field().ResponseName() != "barks" {
		t.Errorf("fragment field = %q, want barks", fields[1].Field.Field().ResponseName())
	}
}
