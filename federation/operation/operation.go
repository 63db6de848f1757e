package operation

import (
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/apollographql/router-sub000/federation/schema"
)

// Operation is a normalized executable operation: fragment spreads
// expanded, redundant inline fragments flattened, same-key selections
// merged and sibling __typename selections lifted into field metadata.
// The fragments of the source document are kept so they can be rebased
// and reused when queries are rendered per subgraph.
type Operation struct {
	schema       *schema.Schema
	kind         ast.Operation
	name         string
	variables    ast.VariableDefinitionList
	directives   ast.DirectiveList
	selectionSet *SelectionSet
	fragments    *NamedFragments
}

// FromQueryDocument normalizes the operation named operationName in doc.
// An empty operationName selects the document's only operation and is an
// error when the document holds several.
func FromQueryDocument(sch *schema.Schema, doc *ast.QueryDocument, operationName string) (*Operation, error) {
	opDef := doc.Operations.ForName(operationName)
	if opDef == nil {
		if operationName == "" {
			return nil, internalErrorf("document defines %d operations, an operation name is required", len(doc.Operations))
		}
		return nil, internalErrorf("document defines no operation named %q", operationName)
	}
	return NormalizeOperation(sch, opDef, doc.Fragments)
}

// NormalizeOperation builds a normalized Operation from a parsed
// operation definition and the fragment definitions of its document.
func NormalizeOperation(sch *schema.Schema, opDef *ast.OperationDefinition, fragmentDefs ast.FragmentDefinitionList) (*Operation, error) {
	rootType := sch.RootType(opDef.Operation)
	if rootType == nil {
		return nil, internalErrorf("schema defines no root type for %s operations", opDef.Operation)
	}
	fragments, err := NewNamedFragments(sch, fragmentDefs)
	if err != nil {
		return nil, err
	}
	ss, err := FromSelectionSet(sch, rootType, opDef.SelectionSet, fragments)
	if err != nil {
		return nil, err
	}
	ss, err = ss.ExpandAllFragments()
	if err != nil {
		return nil, err
	}
	ss, err = ss.flattenUnnecessaryFragments()
	if err != nil {
		return nil, err
	}
	ss = withoutTopLevelTypename(ss)
	ss, err = ss.optimizeSiblingTypenames()
	if err != nil {
		return nil, err
	}
	return &Operation{
		schema:       sch,
		kind:         opDef.Operation,
		name:         opDef.Name,
		variables:    opDef.VariableDefinitions,
		directives:   opDef.Directives,
		selectionSet: ss,
		fragments:    fragments,
	}, nil
}

// withoutTopLevelTypename drops a plain __typename at the root of the
// operation, whose value is the constant root type name, unless it is
// the only thing selected.
func withoutTopLevelTypename(ss *SelectionSet) *SelectionSet {
	if ss.Len() <= 1 {
		return ss
	}
	key := fieldKey(schema.TypenameFieldName, nil)
	if !ss.selections.Contains(key) {
		return ss
	}
	trimmed := ss.shallowClone()
	trimmed.selections.Remove(key)
	return trimmed
}

// Schema returns the schema the operation was normalized against.
func (op *Operation) Schema() *schema.Schema { return op.schema }

// Kind returns the operation kind (query, mutation or subscription).
func (op *Operation) Kind() ast.Operation { return op.kind }

// Name returns the operation name, or an empty string for an anonymous
// operation.
func (op *Operation) Name() string { return op.name }

// Variables returns the operation's variable definitions.
func (op *Operation) Variables() ast.VariableDefinitionList { return op.variables }

// Directives returns the directives on the operation itself.
func (op *Operation) Directives() ast.DirectiveList { return op.directives }

// SelectionSet returns the normalized selection set.
func (op *Operation) SelectionSet() *SelectionSet { return op.selectionSet }

// Fragments returns the document's fragments, normalized but not
// expanded, for per-subgraph reuse.
func (op *Operation) Fragments() *NamedFragments { return op.fragments }

// HasDefer reports whether the operation, or any fragment it could
// spread, uses @defer.
func (op *Operation) HasDefer() bool {
	if op.selectionSet.HasDefer() {
		return true
	}
	for _, f := range op.fragments.Values() {
		if hasDeferDirective(f.Directives) || f.SelectionSet.HasDefer() {
			return true
		}
	}
	return false
}
