package operation

import (
	"testing"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/apollographql/router-sub000/federation/schema"
)

const testSDL = `
type Query {
  me: User
  products: [Product!]
  node(id: ID!): Node
}

interface Node {
  id: ID!
}

type User implements Node {
  id: ID!
  name: String
  email: String
  pet: Pet
}

type Product implements Node {
  id: ID!
  name: String
  price(currency: String): Int
}

union Pet = Dog | Cat

type Dog {
  name: String
  barks: Boolean
}

type Cat {
  name: String
  meows: Boolean
}
`

func buildSchema(t *testing.T, sdl string, opts ...schema.Option) *schema.Schema {
	t.Helper()
	astSchema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: sdl})
	if err != nil {
		t.Fatalf("failed to load schema: %v", err)
	}
	return schema.New(astSchema, opts...)
}

func buildOperation(t *testing.T, sch *schema.Schema, query string) *Operation {
	t.Helper()
	doc, errs := gqlparser.LoadQuery(sch.AST(), query)
	if len(errs) > 0 {
		t.Fatalf("failed to load query: %v", errs)
	}
	op, err := FromQueryDocument(sch, doc, "")
	if err != nil {
		t.Fatalf("failed to normalize operation: %v", err)
	}
	return op
}

// buildOperationUnvalidated skips query validation, for directives the
// base schema does not declare, such as @defer.
func buildOperationUnvalidated(t *testing.T, sch *schema.Schema, query string) *Operation {
	t.Helper()
	doc, err := parser.ParseQuery(&ast.Source{Name: "query.graphql", Input: query})
	if err != nil {
		t.Fatalf("failed to parse query: %v", err)
	}
	op, normErr := FromQueryDocument(sch, doc, "")
	if normErr != nil {
		t.Fatalf("failed to normalize operation: %v", normErr)
	}
	return op
}

func buildSelectionSet(t *testing.T, sch *schema.Schema, query string) *SelectionSet {
	t.Helper()
	return buildOperation(t, sch, query).SelectionSet()
}

// buildSelectionSetUnvalidated skips query validation, for shapes a
// validator rejects, such as same response name with conflicting types
// across fragment branches.
func buildSelectionSetUnvalidated(t *testing.T, sch *schema.Schema, query string) *SelectionSet {
	t.Helper()
	return buildOperationUnvalidated(t, sch, query).SelectionSet()
}

func fieldAt(t *testing.T, ss *SelectionSet, responseNames ...string) *FieldSelection {
	t.Helper()
	current := ss
	var found *FieldSelection
	for i, name := range responseNames {
		found = nil
		for _, sel := range current.Selections() {
			if fs, ok := sel.(*FieldSelection); ok && fs.Field().ResponseName() == name {
				found = fs
				break
			}
		}
		if found == nil {
			t.Fatalf("no field %q at depth %d", name, i)
		}
		current = found.SelectionSet()
	}
	return found
}

func responseNames(ss *SelectionSet) []string {
	var names []string
	for _, sel := range ss.Selections() {
		if fs, ok := sel.(*FieldSelection); ok {
			names = append(names, fs.Field().ResponseName())
		}
	}
	return names
}
