package operation

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/apollographql/router-sub000/federation/schema"
)

// ToAST converts the set back to a parser selection set. A field
// carrying a lifted sibling __typename re-emits it, under its recorded
// alias, right before the field itself.
func (ss *SelectionSet) ToAST() ast.SelectionSet {
	out := make(ast.SelectionSet, 0, ss.selections.Len())
	for _, sel := range ss.selections.Values() {
		switch s := sel.(type) {
		case *FieldSelection:
			if st := s.field.siblingTypename; st != nil {
				out = append(out, &ast.Field{Alias: st.Alias, Name: schema.TypenameFieldName})
			}
			f := &ast.Field{
				Alias:      s.field.alias,
				Name:       s.field.Name(),
				Arguments:  s.field.arguments,
				Directives: s.field.directives,
			}
			if s.selectionSet != nil {
				f.SelectionSet = s.selectionSet.ToAST()
			}
			out = append(out, f)
		case *FragmentSpreadSelection:
			out = append(out, &ast.FragmentSpread{
				Name:       s.spread.fragmentName,
				Directives: s.spread.directives,
			})
		case *InlineFragmentSelection:
			inf := &ast.InlineFragment{
				Directives:   s.inlineFragment.directives,
				SelectionSet: s.selectionSet.ToAST(),
			}
			if s.inlineFragment.typeCondition != nil {
				inf.TypeCondition = s.inlineFragment.typeCondition.Name
			}
			out = append(out, inf)
		}
	}
	return out
}

// ToAST converts the fragment back to a parser fragment definition.
func (f *Fragment) ToAST() *ast.FragmentDefinition {
	return &ast.FragmentDefinition{
		Name:          f.Name,
		TypeCondition: f.TypeCondition.Name,
		Directives:    f.Directives,
		SelectionSet:  f.SelectionSet.ToAST(),
	}
}

// ToQueryDocument converts the operation to a parser document carrying
// the fragment definitions its selections actually spread, in dependency
// order.
func (op *Operation) ToQueryDocument() *ast.QueryDocument {
	doc := &ast.QueryDocument{
		Operations: ast.OperationList{{
			Operation:           op.kind,
			Name:                op.name,
			VariableDefinitions: op.variables,
			Directives:          op.directives,
			SelectionSet:        op.selectionSet.ToAST(),
		}},
	}
	used := op.selectionSet.CollectUsedFragmentNames()
	for len(used) > 0 {
		// Spreads inside fragment bodies pull in further fragments.
		more := false
		for _, f := range op.fragments.Values() {
			if _, ok := used[f.Name]; !ok {
				continue
			}
			for name, n := range f.SelectionSet.CollectUsedFragmentNames() {
				if _, ok := used[name]; !ok {
					used[name] = n
					more = true
				}
			}
		}
		if !more {
			break
		}
	}
	for _, f := range op.fragments.Values() {
		if _, ok := used[f.Name]; ok {
			doc.Fragments = append(doc.Fragments, f.ToAST())
		}
	}
	return doc
}

// Render formats the operation, and any fragments it spreads, as
// GraphQL text.
func (op *Operation) Render() string {
	var buf strings.Builder
	formatter.NewFormatter(&buf).FormatQueryDocument(op.ToQueryDocument())
	return strings.TrimSpace(buf.String())
}

// String renders the bare selection set as GraphQL text, braces
// included. Intended for logs and test output.
func (ss *SelectionSet) String() string {
	var buf strings.Builder
	formatter.NewFormatter(&buf).FormatQueryDocument(&ast.QueryDocument{
		Operations: ast.OperationList{{
			Operation:    ast.Query,
			SelectionSet: ss.ToAST(),
		}},
	})
	return strings.TrimSpace(buf.String())
}
