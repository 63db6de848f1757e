package planner

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/apollographql/router-sub000/federation/operation"
)

// buildRootQuery renders a root fetch: the client operation's kind and
// name with the subgraph's share of the selections.
func buildRootQuery(kind ast.Operation, name string, vars ast.VariableDefinitionList, ss *operation.SelectionSet, fragments []*operation.Fragment) string {
	doc := &ast.QueryDocument{
		Operations: ast.OperationList{{
			Operation:           kind,
			Name:                name,
			VariableDefinitions: vars,
			SelectionSet:        ss.ToAST(),
		}},
	}
	for _, f := range fragments {
		doc.Fragments = append(doc.Fragments, f.ToAST())
	}
	return renderDocument(doc)
}

// buildEntityQuery renders an entity fetch: a query taking
// $representations and selecting the entity's fields under
// _entities / ... on Type.
func buildEntityQuery(typeName string, vars ast.VariableDefinitionList, ss *operation.SelectionSet, fragments []*operation.Fragment) string {
	varDefs := ast.VariableDefinitionList{{
		Variable: "representations",
		Type:     ast.NonNullListType(ast.NonNullNamedType("_Any", nil), nil),
	}}
	varDefs = append(varDefs, vars...)

	doc := &ast.QueryDocument{
		Operations: ast.OperationList{{
			Operation:           ast.Query,
			VariableDefinitions: varDefs,
			SelectionSet: ast.SelectionSet{&ast.Field{
				Name: "_entities",
				Arguments: ast.ArgumentList{{
					Name:  "representations",
					Value: &ast.Value{Raw: "representations", Kind: ast.Variable},
				}},
				SelectionSet: ast.SelectionSet{&ast.InlineFragment{
					TypeCondition: typeName,
					SelectionSet:  ss.ToAST(),
				}},
			}},
		}},
	}
	for _, f := range fragments {
		doc.Fragments = append(doc.Fragments, f.ToAST())
	}
	return renderDocument(doc)
}

func renderDocument(doc *ast.QueryDocument) string {
	var buf strings.Builder
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return strings.TrimSpace(buf.String())
}

// usedFragments returns the fragments the set spreads, directly or
// through other fragments, in dependency order.
func usedFragments(ss *operation.SelectionSet, frags *operation.NamedFragments) []*operation.Fragment {
	used := make(map[string]bool)
	for name := range ss.CollectUsedFragmentNames() {
		used[name] = true
	}
	for {
		grew := false
		for _, f := range frags.Values() {
			if !used[f.Name] {
				continue
			}
			for name := range f.SelectionSet.CollectUsedFragmentNames() {
				if !used[name] {
					used[name] = true
					grew = true
				}
			}
		}
		if !grew {
			break
		}
	}
	var out []*operation.Fragment
	for _, f := range frags.Values() {
		if used[f.Name] {
			out = append(out, f)
		}
	}
	return out
}

// collectVariableNames gathers the variables referenced by the fetch's
// selections and fragments, sorted.
func collectVariableNames(ss *operation.SelectionSet, fragments []*operation.Fragment) []string {
	seen := make(map[string]bool)
	for _, name := range ss.CollectVariables() {
		seen[name] = true
	}
	for _, f := range fragments {
		for _, name := range f.SelectionSet.CollectVariables() {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// variableDefinitions filters the client operation's variable
// definitions down to the given names.
func variableDefinitions(op *operation.Operation, names []string) ast.VariableDefinitionList {
	var out ast.VariableDefinitionList
	for _, def := range op.Variables() {
		for _, name := range names {
			if def.Variable == name {
				out = append(out, def)
				break
			}
		}
	}
	return out
}
