package operation

import (
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/apollographql/router-sub000/federation/schema"
)

// RebaseErrorHandling selects what happens when a selection cannot be
// expressed in the target schema during a rebase.
type RebaseErrorHandling int

const (
	// IgnoreError drops selections that cannot be rebased.
	IgnoreError RebaseErrorHandling = iota
	// ThrowError fails the whole rebase on the first such selection.
	ThrowError
)

// RebaseOn re-expresses the selection set against parentType in toSchema.
// fragments are the named fragments valid in toSchema; spreads are
// re-pointed at them when possible and expanded inline otherwise.
// Selections that cannot be expressed in toSchema are dropped or turn
// into an error depending on errorHandling. Inline fragments whose type
// condition exists in toSchema but shares no runtime type with
// parentType are dropped silently in both modes. The result may be
// empty; callers treat an empty result as no selection at all.
func (ss *SelectionSet) RebaseOn(parentType *ast.Definition, fragments *NamedFragments, toSchema *schema.Schema, errorHandling RebaseErrorHandling) (*SelectionSet, error) {
	if ss.schema == toSchema && ss.typePosition.Name == parentType.Name {
		return ss, nil
	}
	rebased := make([]Selection, 0, ss.selections.Len())
	for _, sel := range ss.selections.Values() {
		out, err := rebaseSelection(sel, parentType, fragments, toSchema, errorHandling)
		if err != nil {
			if errorHandling == IgnoreError && IsRebaseError(err) {
				continue
			}
			return nil, err
		}
		if out != nil {
			rebased = append(rebased, out)
		}
	}
	return NewSelectionSet(toSchema, parentType, rebased...)
}

func rebaseSelection(sel Selection, parentType *ast.Definition, fragments *NamedFragments, toSchema *schema.Schema, errorHandling RebaseErrorHandling) (Selection, error) {
	switch s := sel.(type) {
	case *FieldSelection:
		return s.rebaseOn(parentType, fragments, toSchema, errorHandling)
	case *InlineFragmentSelection:
		return s.rebaseOn(parentType, fragments, toSchema, errorHandling)
	case *FragmentSpreadSelection:
		return s.rebaseOn(parentType, fragments, toSchema, errorHandling)
	default:
		return nil, internalErrorf("unknown selection kind %T", sel)
	}
}

// rebaseOn moves the field position to parentType in toSchema. The
// __typename meta field rebases onto any composite type unless one of
// its possible runtime types is an interface object, whose runtime type
// name would not survive the trip through the subgraph.
func (f *Field) rebaseOn(parentType *ast.Definition, toSchema *schema.Schema) (*Field, error) {
	if f.schema == toSchema && f.parentType.Name == parentType.Name {
		return f, nil
	}
	if f.IsTypename() {
		if toSchema.HasInterfaceObjectRuntime(parentType) {
			return nil, rebaseErrorf("cannot rebase __typename on interface object type %q", parentType.Name)
		}
		return f.withUpdatedPosition(toSchema, parentType, toSchema.FieldDefinition(parentType, schema.TypenameFieldName)), nil
	}
	def := toSchema.FieldDefinition(parentType, f.Name())
	if def == nil {
		return nil, rebaseErrorf("cannot rebase field %q: type %q has no such field", f.Name(), parentType.Name)
	}
	return f.withUpdatedPosition(toSchema, parentType, def), nil
}

func (s *FieldSelection) rebaseOn(parentType *ast.Definition, fragments *NamedFragments, toSchema *schema.Schema, errorHandling RebaseErrorHandling) (Selection, error) {
	field, err := s.field.rebaseOn(parentType, toSchema)
	if err != nil {
		return nil, err
	}
	if s.selectionSet == nil {
		return NewFieldSelection(field, nil), nil
	}
	baseType := toSchema.Type(field.BaseTypeName())
	if baseType == nil || !baseType.IsCompositeType() {
		return nil, rebaseErrorf("cannot rebase field %q: type %q is not composite in the target schema", field.Name(), field.BaseTypeName())
	}
	sub, err := s.selectionSet.RebaseOn(baseType, fragments, toSchema, errorHandling)
	if err != nil {
		return nil, err
	}
	if sub.IsEmpty() {
		return nil, nil
	}
	return NewFieldSelection(field, sub), nil
}

// rebaseOn moves the fragment position under parentType in toSchema,
// preserving the fragment's selection id. It reports ok=false when the
// condition exists in toSchema but shares no runtime type with
// parentType; such fragments can never match and are dropped without
// error.
func (inf *InlineFragment) rebaseOn(parentType *ast.Definition, toSchema *schema.Schema) (_ *InlineFragment, ok bool, _ error) {
	if inf.schema == toSchema && inf.parentType.Name == parentType.Name {
		return inf, true, nil
	}
	var condition *ast.Definition
	if inf.typeCondition != nil {
		var err error
		condition, err = toSchema.CompositeType(inf.typeCondition.Name)
		if err != nil {
			return nil, false, rebaseErrorf("cannot rebase fragment on %q: %v", inf.typeCondition.Name, err)
		}
		if !toSchema.RuntimeTypesIntersect(condition, parentType) {
			return nil, false, nil
		}
	}
	c := *inf
	c.schema = toSchema
	c.parentType = parentType
	c.typeCondition = condition
	if !hasDeferDirective(c.directives) {
		name := ""
		if condition != nil {
			name = condition.Name
		}
		c.key = inlineFragmentKey(name, c.directives)
	}
	return &c, true, nil
}

func (s *InlineFragmentSelection) rebaseOn(parentType *ast.Definition, fragments *NamedFragments, toSchema *schema.Schema, errorHandling RebaseErrorHandling) (Selection, error) {
	inf, ok, err := s.inlineFragment.rebaseOn(parentType, toSchema)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	sub, err := s.selectionSet.RebaseOn(inf.CastedType(), fragments, toSchema, errorHandling)
	if err != nil {
		return nil, err
	}
	if sub.IsEmpty() {
		return nil, nil
	}
	return NewInlineFragmentSelection(inf, sub), nil
}

func (s *FragmentSpreadSelection) rebaseOn(parentType *ast.Definition, fragments *NamedFragments, toSchema *schema.Schema, errorHandling RebaseErrorHandling) (Selection, error) {
	var fragment *Fragment
	if fragments != nil {
		fragment, _ = fragments.Get(s.spread.fragmentName)
	}
	if fragment == nil {
		return nil, rebaseErrorf("cannot rebase spread: fragment %q is not defined in the target schema", s.spread.fragmentName)
	}
	if toSchema.RuntimeTypesIntersect(fragment.TypeCondition, parentType) {
		return NewFragmentSpreadSelection(fragment, s.spread.directives), nil
	}
	// The named fragment survived rebasing but does not apply at this
	// position. Its body may still partially apply, so expand the spread
	// and keep whatever rebases, preserving the spread's directives on a
	// condition-less wrapper.
	expanded, err := s.selectionSet.ExpandAllFragments()
	if err != nil {
		return nil, err
	}
	sub, err := expanded.RebaseOn(parentType, fragments, toSchema, errorHandling)
	if err != nil {
		return nil, err
	}
	if sub.IsEmpty() {
		return nil, nil
	}
	inf := NewInlineFragment(toSchema, parentType, nil, s.spread.directives)
	return NewInlineFragmentSelection(inf, sub), nil
}
