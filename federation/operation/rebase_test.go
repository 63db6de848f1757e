package operation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vektah/gqlparser/v2"

	"github.com/apollographql/router-sub000/federation/schema"
)

const subgraphSDL = `
type Query {
  me: User
}

type User {
  id: ID!
  name: String
}
`

// rawSelectionSet builds a set without expanding fragment spreads.
func rawSelectionSet(t *testing.T, sch *schema.Schema, query string) (*SelectionSet, *NamedFragments) {
	t.Helper()
	doc, errs := gqlparser.LoadQuery(sch.AST(), query)
	if len(errs) > 0 {
		t.Fatalf("failed to load query: %v", errs)
	}
	fragments, err := NewNamedFragments(sch, doc.Fragments)
	if err != nil {
		t.Fatal(err)
	}
	opDef := doc.Operations.ForName("")
	root := sch.RootType(opDef.Operation)
	ss, err := FromSelectionSet(sch, root, opDef.SelectionSet, fragments)
	if err != nil {
		t.Fatal(err)
	}
	return ss, fragments
}

func TestRebaseDropsOrRejectsMissingFields(t *testing.T) {
	super := buildSchema(t, testSDL)
	sub := buildSchema(t, subgraphSDL)
	ss := buildSelectionSet(t, super, `{ me { id name email } }`)
	meSub := fieldAt(t, ss, "me").SelectionSet()

	lenient, err := meSub.RebaseOn(sub.Type("User"), nil, sub, IgnoreError)
	if err != nil {
		t.Fatalf("lenient rebase: %v", err)
	}
	if diff := cmp.Diff([]string{"id", "name"}, responseNames(lenient)); diff != "" {
		t.Errorf("lenient rebase (-want +got):\n%s", diff)
	}
	if lenient.Schema() != sub {
		t.Errorf("rebased set still points at the source schema")
	}

	_, err = meSub.RebaseOn(sub.Type("User"), nil, sub, ThrowError)
	if !IsRebaseError(err) {
		t.Errorf("strict rebase: got %v, want rebase error", err)
	}
}

func TestRebaseOntoSameSchemaIsANoOp(t *testing.T) {
	sch := buildSchema(t, testSDL)
	ss := buildSelectionSet(t, sch, `{ me { id name } }`)
	meSub := fieldAt(t, ss, "me").SelectionSet()

	rebased, err := meSub.RebaseOn(sch.Type("User"), nil, sch, ThrowError)
	if err != nil {
		t.Fatal(err)
	}
	if rebased != meSub {
		t.Errorf("same-schema rebase returned a new set")
	}
}

func TestRebaseBlocksTypenameOnInterfaceObject(t *testing.T) {
	super := buildSchema(t, testSDL)
	sub := buildSchema(t, `
		type Query { user: Account }
		type Account { id: ID! name: String }
	`, schema.WithInterfaceObjects("Account"))

	// Built without normalization so the __typename is not lifted into
	// sibling metadata before the rebase sees it.
	ss, _ := rawSelectionSet(t, super, `{ me { __typename name } }`)
	meSub := fieldAt(t, ss, "me").SelectionSet()

	_, err := meSub.RebaseOn(sub.Type("Account"), nil, sub, ThrowError)
	if !IsRebaseError(err) {
		t.Errorf("strict rebase of __typename onto an interface object: got %v, want rebase error", err)
	}

	lenient, err := meSub.RebaseOn(sub.Type("Account"), nil, sub, IgnoreError)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"name"}, responseNames(lenient)); diff != "" {
		t.Errorf("lenient rebase (-want +got):\n%s", diff)
	}
}

func TestRebaseBlocksTypenameOverInterfaceObjectRuntimeType(t *testing.T) {
	super := buildSchema(t, testSDL)
	// Node itself is a plain interface, but its Account implementer is an
	// interface object stand-in, so a __typename selected on Node could
	// resolve to a runtime type the subgraph cannot name.
	sub := buildSchema(t, `
		type Query { node(id: ID!): Node }
		interface Node { id: ID! }
		type Account implements Node { id: ID! name: String }
	`, schema.WithInterfaceObjects("Account"))

	ss, _ := rawSelectionSet(t, super, `{ node(id: "1") { __typename id } }`)
	nodeSub := fieldAt(t, ss, "node").SelectionSet()

	_, err := nodeSub.RebaseOn(sub.Type("Node"), nil, sub, ThrowError)
	if !IsRebaseError(err) {
		t.Errorf("strict rebase of __typename onto an interface with an interface object implementer: got %v, want rebase error", err)
	}

	lenient, err := nodeSub.RebaseOn(sub.Type("Node"), nil, sub, IgnoreError)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"id"}, responseNames(lenient)); diff != "" {
		t.Errorf("lenient rebase (-want +got):\n%s", diff)
	}
}

func TestRebaseDropsNonIntersectingFragmentsSilently(t *testing.T) {
	super := buildSchema(t, testSDL)
	// Cat exists here but is no longer a Pet.
	sub := buildSchema(t, `
		type Query { me: User }
		type User { id: ID! pet: Pet }
		union Pet = Dog
		type Dog { name: String barks: Boolean }
		type Cat { name: String meows: Boolean }
	`)

	ss := buildSelectionSet(t, super, `{
		me { pet {
			... on Dog { barks }
			... on Cat { meows }
		} }
	}`)
	petSub := fieldAt(t, ss, "me", "pet").SelectionSet()

	// Non-intersecting conditions are dropped without error even in
	// strict mode; they can simply never match.
	rebased, err := petSub.RebaseOn(sub.Type("Pet"), nil, sub, ThrowError)
	if err != nil {
		t.Fatal(err)
	}
	if rebased.Len() != 1 {
		t.Fatalf("rebased set has %d selections, want just the Dog fragment: %s", rebased.Len(), rebased)
	}
	inf := rebased.Selections()[0].(*InlineFragmentSelection)
	if inf.InlineFragment().TypeCondition().Name != "Dog" {
		t.Errorf("surviving condition = %q, want Dog", inf.InlineFragment().TypeCondition().Name)
	}
}

func TestRebaseSpreadOntoFragmentlessSchemaFails(t *testing.T) {
	super := buildSchema(t, testSDL)
	sub := buildSchema(t, subgraphSDL)

	ss, _ := rawSelectionSet(t, super, `
		{ me { ...bits } }
		fragment bits on User { id name }
	`)
	meSub := fieldAt(t, ss, "me").SelectionSet()

	_, err := meSub.RebaseOn(sub.Type("User"), nil, sub, ThrowError)
	if !IsRebaseError(err) {
		t.Errorf("spread with no target fragments: got %v, want rebase error", err)
	}

	lenient, err := meSub.RebaseOn(sub.Type("User"), nil, sub, IgnoreError)
	if err != nil {
		t.Fatal(err)
	}
	if !lenient.IsEmpty() {
		t.Errorf("lenient rebase kept the unresolvable spread: %s", lenient)
	}
}

func TestRebaseSpreadRePointsAtRebasedFragment(t *testing.T) {
	super := buildSchema(t, testSDL)
	sub := buildSchema(t, subgraphSDL)

	ss, fragments := rawSelectionSet(t, super, `
		{ me { ...bits } }
		fragment bits on User { id name }
	`)
	subFragments, err := fragments.RebaseOn(sub)
	if err != nil {
		t.Fatal(err)
	}
	meSub := fieldAt(t, ss, "me").SelectionSet()

	rebased, err := meSub.RebaseOn(sub.Type("User"), subFragments, sub, ThrowError)
	if err != nil {
		t.Fatal(err)
	}
	spread, ok := rebased.Selections()[0].(*FragmentSpreadSelection)
	if !ok {
		t.Fatalf("rebased selection is %T, want fragment spread", rebased.Selections()[0])
	}
	if spread.Schema() != sub {
		t.Errorf("re-pointed spread is not on the target schema")
	}
}

func TestRebaseSpreadExpandsWhenConditionCannotMatch(t *testing.T) {
	super := buildSchema(t, `
		type Query { me: User }
		interface Node { id: ID! ref: String }
		type User implements Node { id: ID! ref: String name: String }
	`)
	// Node exists but User no longer implements it.
	sub := buildSchema(t, `
		type Query { me: User node: Node }
		interface Node { id: ID! ref: String }
		type User { id: ID! ref: String name: String }
		type Product implements Node { id: ID! ref: String }
	`)

	ss, fragments := rawSelectionSet(t, super, `
		{ me { ...nodeBits name } }
		fragment nodeBits on Node { id ref }
	`)
	subFragments, err := fragments.RebaseOn(sub)
	if err != nil {
		t.Fatal(err)
	}
	meSub := fieldAt(t, ss, "me").SelectionSet()

	rebased, err := meSub.RebaseOn(sub.Type("User"), subFragments, sub, IgnoreError)
	if err != nil {
		t.Fatal(err)
	}
	// The spread's body still applies to User, so it comes back as a
	// condition-less inline fragment around the rebased body.
	var foundWrapped bool
	for _, sel := range rebased.Selections() {
		inf, ok := sel.(*InlineFragmentSelection)
		if !ok {
			continue
		}
		if inf.InlineFragment().TypeCondition() != nil {
			t.Errorf("wrapper kept a condition: %s", rebased)
		}
		if diff := cmp.Diff([]string{"id", "ref"}, responseNames(inf.SelectionSet())); diff != "" {
			t.Errorf("wrapped body (-want +got):\n%s", diff)
		}
		foundWrapped = true
	}
	if !foundWrapped {
		t.Errorf("expanded spread wrapper missing: %s", rebased)
	}
}
