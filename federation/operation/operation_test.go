package operation

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vektah/gqlparser/v2"
)

func TestNormalizeExpandsFragments(t *testing.T) {
	sch := buildSchema(t, testSDL)
	op := buildOperation(t, sch, `
		query {
			me { ...userBits }
		}
		fragment userBits on User {
			name
			...contact
		}
		fragment contact on User { email }
	`)

	me := fieldAt(t, op.SelectionSet(), "me")
	if diff := cmp.Diff([]string{"name", "email"}, responseNames(me.SelectionSet())); diff != "" {
		t.Errorf("expanded selections (-want +got):\n%s", diff)
	}
	for _, sel := range me.SelectionSet().Selections() {
		if _, ok := sel.(*FragmentSpreadSelection); ok {
			t.Errorf("fragment spread survived normalization")
		}
	}
	if op.Fragments().Len() != 2 {
		t.Errorf("Fragments().Len() = %d, want 2", op.Fragments().Len())
	}
}

func TestNormalizeFlattensInterfaceFragmentCoveringParent(t *testing.T) {
	sch := buildSchema(t, testSDL)
	op := buildOperation(t, sch, `{
		me {
			... on Node { id }
		}
	}`)

	// Every runtime type of User is a Node, so the condition adds nothing.
	me := fieldAt(t, op.SelectionSet(), "me")
	if diff := cmp.Diff([]string{"id"}, responseNames(me.SelectionSet())); diff != "" {
		t.Errorf("flattened selections (-want +got):\n%s", diff)
	}
	if me.SelectionSet().Len() != 1 {
		t.Errorf("fragment survived flattening: %s", me.SelectionSet())
	}
}

func TestNormalizeDropsTopLevelTypename(t *testing.T) {
	sch := buildSchema(t, testSDL)
	op := buildOperation(t, sch, `{ __typename me { id } }`)
	if diff := cmp.Diff([]string{"me"}, responseNames(op.SelectionSet())); diff != "" {
		t.Errorf("top level (-want +got):\n%s", diff)
	}

	// A lone __typename is the whole answer; it must survive.
	sole := buildOperation(t, sch, `{ __typename }`)
	if diff := cmp.Diff([]string{"__typename"}, responseNames(sole.SelectionSet())); diff != "" {
		t.Errorf("sole __typename (-want +got):\n%s", diff)
	}

	// An aliased __typename is not the constant-valued introspection
	// request the strip targets; it is lifted onto its sibling instead.
	aliased := buildOperation(t, sch, `{ t: __typename me { id } }`)
	if diff := cmp.Diff([]string{"me"}, responseNames(aliased.SelectionSet())); diff != "" {
		t.Errorf("aliased top level (-want +got):\n%s", diff)
	}
	me := fieldAt(t, aliased.SelectionSet(), "me")
	if st := me.Field().SiblingTypename(); st == nil || st.Alias != "t" {
		t.Errorf("aliased __typename was not lifted onto me: %+v", st)
	}
}

func TestNormalizeLiftsSiblingTypename(t *testing.T) {
	sch := buildSchema(t, testSDL)
	op := buildOperation(t, sch, `{
		me {
			tn: __typename
			name
		}
	}`)

	me := fieldAt(t, op.SelectionSet(), "me")
	if diff := cmp.Diff([]string{"name"}, responseNames(me.SelectionSet())); diff != "" {
		t.Errorf("optimized selections (-want +got):\n%s", diff)
	}
	name := fieldAt(t, op.SelectionSet(), "me", "name")
	st := name.Field().SiblingTypename()
	if st == nil {
		t.Fatalf("sibling __typename was not recorded on the remaining field")
	}
	if st.Alias != "tn" {
		t.Errorf("recorded alias = %q, want tn", st.Alias)
	}

	// Rendering puts it back.
	rendered := op.Render()
	if !strings.Contains(rendered, "tn: __typename") {
		t.Errorf("render lost the lifted __typename:\n%s", rendered)
	}
}

func TestNormalizeKeepsLoneTypenameLevel(t *testing.T) {
	sch := buildSchema(t, testSDL)
	op := buildOperation(t, sch, `{ me { __typename } }`)

	me := fieldAt(t, op.SelectionSet(), "me")
	if diff := cmp.Diff([]string{"__typename"}, responseNames(me.SelectionSet())); diff != "" {
		t.Errorf("lone __typename level (-want +got):\n%s", diff)
	}
}

func TestRenderRoundTrips(t *testing.T) {
	sch := buildSchema(t, testSDL)
	query := `query Bits($id: ID!, $flag: Boolean!) {
		node(id: $id) {
			id
			... on Product { name price @include(if: $flag) }
		}
	}`
	op := buildOperation(t, sch, query)

	rendered := op.Render()
	doc, errs := gqlparser.LoadQuery(sch.AST(), rendered)
	if len(errs) > 0 {
		t.Fatalf("rendered operation does not parse: %v\n%s", errs, rendered)
	}
	again, err := FromQueryDocument(sch, doc, "")
	if err != nil {
		t.Fatal(err)
	}
	if again.Render() != rendered {
		t.Errorf("render is not a fixed point:\nfirst:\n%s\nsecond:\n%s", rendered, again.Render())
	}
	if again.Name() != "Bits" {
		t.Errorf("operation name = %q, want Bits", again.Name())
	}
}

func TestNormalizationIsIdempotent(t *testing.T) {
	sch := buildSchema(t, testSDL)
	op := buildOperation(t, sch, `{
		me { __typename name pet { ... on Dog { barks } } }
	}`)

	ss := op.SelectionSet()
	expanded, err := ss.ExpandAllFragments()
	if err != nil {
		t.Fatal(err)
	}
	if expanded != ss {
		t.Errorf("ExpandAllFragments on an expanded set returned a new set")
	}
	flattened, err := ss.flattenUnnecessaryFragments()
	if err != nil {
		t.Fatal(err)
	}
	if flattened != ss {
		t.Errorf("flattening an already-flat set returned a new set")
	}
	optimized, err := ss.optimizeSiblingTypenames()
	if err != nil {
		t.Fatal(err)
	}
	if optimized != ss {
		t.Errorf("re-optimizing sibling __typenames returned a new set")
	}
}
