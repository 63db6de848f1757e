package operation

import (
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/apollographql/router-sub000/federation/schema"
)

// Selection is the closed sum over the three selection kinds of a
// normalized selection set: *FieldSelection, *FragmentSpreadSelection and
// *InlineFragmentSelection. All three are immutable once built; "mutation"
// produces a new value.
type Selection interface {
	// Key returns the merge key deciding whether two selections combine.
	Key() Key
	// Schema returns the schema the selection was built against.
	Schema() *schema.Schema
	// SelectionSet returns the sub-selection set, or nil. For fragment
	// spreads this is the inlined copy of the fragment's body.
	SelectionSet() *SelectionSet
	// HasDefer reports whether the selection or any sub-selection carries
	// a @defer directive.
	HasDefer() bool

	withSelectionSet(sub *SelectionSet) Selection
	collectVariables(into map[string]struct{})
	collectUsedFragmentNames(into map[string]int)
}

var (
	_ Selection = (*FieldSelection)(nil)
	_ Selection = (*FragmentSpreadSelection)(nil)
	_ Selection = (*InlineFragmentSelection)(nil)
)

// SiblingTypename records a __typename selection that the sibling
// optimizer removed and attached to this field, so the planner can
// re-emit it (under its original alias, if any) once plan choices are
// made.
type SiblingTypename struct {
	// Alias is the alias the removed __typename selection carried, or
	// empty if it was unaliased.
	Alias string
}

// Field is the element data of a field selection: its position (schema,
// parent type, definition), alias, arguments and directives.
type Field struct {
	schema          *schema.Schema
	parentType      *ast.Definition
	definition      *ast.FieldDefinition
	alias           string
	arguments       ast.ArgumentList
	directives      ast.DirectiveList
	siblingTypename *SiblingTypename
	key             Key
}

// NewField resolves name on parent and returns the field element. The
// __typename meta field resolves on every composite type.
func NewField(sch *schema.Schema, parent *ast.Definition, name, alias string, arguments ast.ArgumentList, directives ast.DirectiveList) (*Field, error) {
	def := sch.FieldDefinition(parent, name)
	if def == nil {
		return nil, internalErrorf("field %q is not defined on type %q", name, parent.Name)
	}
	f := &Field{
		schema:     sch,
		parentType: parent,
		definition: def,
		alias:      alias,
		arguments:  arguments,
		directives: directives,
	}
	f.key = fieldKey(f.ResponseName(), directives)
	return f, nil
}

// Name returns the field's schema name.
func (f *Field) Name() string { return f.definition.Name }

// Alias returns the alias, or an empty string.
func (f *Field) Alias() string { return f.alias }

// ResponseName returns the key the field will have in the response.
func (f *Field) ResponseName() string {
	if f.alias != "" {
		return f.alias
	}
	return f.definition.Name
}

// IsTypename reports whether this is the __typename meta field.
func (f *Field) IsTypename() bool { return f.definition.Name == schema.TypenameFieldName }

// Schema returns the schema the field position belongs to.
func (f *Field) Schema() *schema.Schema { return f.schema }

// ParentType returns the composite type the field was resolved on.
func (f *Field) ParentType() *ast.Definition { return f.parentType }

// Definition returns the field definition at the field's position.
func (f *Field) Definition() *ast.FieldDefinition { return f.definition }

// Arguments returns the field arguments.
func (f *Field) Arguments() ast.ArgumentList { return f.arguments }

// Directives returns the directives applied to the field.
func (f *Field) Directives() ast.DirectiveList { return f.directives }

// SiblingTypename returns the attached sibling __typename record, or nil.
func (f *Field) SiblingTypename() *SiblingTypename { return f.siblingTypename }

// Key returns the field's merge key.
func (f *Field) Key() Key { return f.key }

// BaseTypeName returns the named type underlying the field's declared
// type, with list and non-null wrappers stripped.
func (f *Field) BaseTypeName() string { return f.definition.Type.Name() }

// withSiblingTypename returns a copy carrying the attachment. The merge
// key is unaffected; the attachment is metadata, not identity.
func (f *Field) withSiblingTypename(st *SiblingTypename) *Field {
	c := *f
	c.siblingTypename = st
	return &c
}

// withAlias returns a copy responding under the given alias. The merge
// key changes accordingly.
func (f *Field) withAlias(alias string) *Field {
	c := *f
	c.alias = alias
	c.key = fieldKey(c.ResponseName(), c.directives)
	return &c
}

// withUpdatedPosition returns a copy moved to a new schema position.
func (f *Field) withUpdatedPosition(sch *schema.Schema, parent *ast.Definition, def *ast.FieldDefinition) *Field {
	c := *f
	c.schema = sch
	c.parentType = parent
	c.definition = def
	return &c
}

// FieldSelection is a field element plus its sub-selection set, which is
// present iff the field's declared type is composite.
type FieldSelection struct {
	field        *Field
	selectionSet *SelectionSet
}

// NewFieldSelection pairs a field element with its sub-selection set
// (nil for leaf fields).
func NewFieldSelection(field *Field, sub *SelectionSet) *FieldSelection {
	return &FieldSelection{field: field, selectionSet: sub}
}

// Field returns the field element.
func (s *FieldSelection) Field() *Field { return s.field }

// Key returns the field's merge key.
func (s *FieldSelection) Key() Key { return s.field.key }

// Schema returns the schema the selection was built against.
func (s *FieldSelection) Schema() *schema.Schema { return s.field.schema }

// SelectionSet returns the sub-selection set, or nil for leaf fields.
func (s *FieldSelection) SelectionSet() *SelectionSet { return s.selectionSet }

// HasDefer reports whether the field or any sub-selection is deferred.
func (s *FieldSelection) HasDefer() bool {
	if hasDeferDirective(s.field.directives) {
		return true
	}
	return s.selectionSet != nil && s.selectionSet.HasDefer()
}

func (s *FieldSelection) withSelectionSet(sub *SelectionSet) Selection {
	return &FieldSelection{field: s.field, selectionSet: sub}
}

func (s *FieldSelection) collectVariables(into map[string]struct{}) {
	collectVariablesFromArguments(s.field.arguments, into)
	collectVariablesFromDirectives(s.field.directives, into)
	if s.selectionSet != nil {
		s.selectionSet.collectVariables(into)
	}
}

func (s *FieldSelection) collectUsedFragmentNames(into map[string]int) {
	if s.selectionSet != nil {
		s.selectionSet.collectUsedFragmentNames(into)
	}
}

// FragmentSpread is the element data of a named fragment spread: the
// fragment's name and condition plus the directives applied at the
// spread site.
type FragmentSpread struct {
	schema        *schema.Schema
	fragmentName  string
	typeCondition *ast.Definition
	directives    ast.DirectiveList
	id            SelectionID
	key           Key
}

func newFragmentSpread(sch *schema.Schema, name string, condition *ast.Definition, directives ast.DirectiveList) *FragmentSpread {
	fs := &FragmentSpread{
		schema:        sch,
		fragmentName:  name,
		typeCondition: condition,
		directives:    directives,
		id:            nextSelectionID(),
	}
	if hasDeferDirective(directives) {
		fs.key = deferKey(fs.id)
	} else {
		fs.key = fragmentSpreadKey(name, directives)
	}
	return fs
}

// FragmentName returns the referenced fragment's name.
func (fs *FragmentSpread) FragmentName() string { return fs.fragmentName }

// TypeCondition returns the fragment's condition type.
func (fs *FragmentSpread) TypeCondition() *ast.Definition { return fs.typeCondition }

// Directives returns the directives applied at the spread site.
func (fs *FragmentSpread) Directives() ast.DirectiveList { return fs.directives }

// Schema returns the schema the spread was built against.
func (fs *FragmentSpread) Schema() *schema.Schema { return fs.schema }

// FragmentSpreadSelection is a spread element plus an inlined copy of the
// referenced fragment's normalized selection set, kept for cheap access.
type FragmentSpreadSelection struct {
	spread       *FragmentSpread
	selectionSet *SelectionSet
}

// NewFragmentSpreadSelection records a spread of fragment with the given
// spread-site directives. The fragment must already be normalized.
func NewFragmentSpreadSelection(fragment *Fragment, directives ast.DirectiveList) *FragmentSpreadSelection {
	return &FragmentSpreadSelection{
		spread:       newFragmentSpread(fragment.Schema, fragment.Name, fragment.TypeCondition, directives),
		selectionSet: fragment.SelectionSet,
	}
}

// Spread returns the spread element.
func (s *FragmentSpreadSelection) Spread() *FragmentSpread { return s.spread }

// Key returns the spread's merge key.
func (s *FragmentSpreadSelection) Key() Key { return s.spread.key }

// Schema returns the schema the selection was built against.
func (s *FragmentSpreadSelection) Schema() *schema.Schema { return s.spread.schema }

// SelectionSet returns the inlined copy of the fragment's selection set.
func (s *FragmentSpreadSelection) SelectionSet() *SelectionSet { return s.selectionSet }

// HasDefer reports whether the spread or the fragment body is deferred.
func (s *FragmentSpreadSelection) HasDefer() bool {
	return hasDeferDirective(s.spread.directives) || s.selectionSet.HasDefer()
}

func (s *FragmentSpreadSelection) withSelectionSet(sub *SelectionSet) Selection {
	return &FragmentSpreadSelection{spread: s.spread, selectionSet: sub}
}

func (s *FragmentSpreadSelection) collectVariables(into map[string]struct{}) {
	collectVariablesFromDirectives(s.spread.directives, into)
	s.selectionSet.collectVariables(into)
}

func (s *FragmentSpreadSelection) collectUsedFragmentNames(into map[string]int) {
	into[s.spread.fragmentName]++
}

// InlineFragment is the element data of an inline fragment: the parent
// type it appears under, its optional type condition and its directives.
type InlineFragment struct {
	schema        *schema.Schema
	parentType    *ast.Definition
	typeCondition *ast.Definition
	directives    ast.DirectiveList
	id            SelectionID
	key           Key
}

// NewInlineFragment builds an inline fragment element with a fresh
// selection id. typeCondition may be nil.
func NewInlineFragment(sch *schema.Schema, parent, typeCondition *ast.Definition, directives ast.DirectiveList) *InlineFragment {
	inf := &InlineFragment{
		schema:        sch,
		parentType:    parent,
		typeCondition: typeCondition,
		directives:    directives,
		id:            nextSelectionID(),
	}
	if hasDeferDirective(directives) {
		inf.key = deferKey(inf.id)
	} else {
		condition := ""
		if typeCondition != nil {
			condition = typeCondition.Name
		}
		inf.key = inlineFragmentKey(condition, directives)
	}
	return inf
}

// Schema returns the schema the fragment was built against.
func (inf *InlineFragment) Schema() *schema.Schema { return inf.schema }

// ParentType returns the type the fragment appears under.
func (inf *InlineFragment) ParentType() *ast.Definition { return inf.parentType }

// TypeCondition returns the condition type, or nil.
func (inf *InlineFragment) TypeCondition() *ast.Definition { return inf.typeCondition }

// Directives returns the directives applied to the fragment.
func (inf *InlineFragment) Directives() ast.DirectiveList { return inf.directives }

// CastedType returns the type the fragment's contents select against:
// the condition if present, the parent type otherwise.
func (inf *InlineFragment) CastedType() *ast.Definition {
	if inf.typeCondition != nil {
		return inf.typeCondition
	}
	return inf.parentType
}

// InlineFragmentSelection is an inline fragment element plus its
// sub-selection set, which is always present.
type InlineFragmentSelection struct {
	inlineFragment *InlineFragment
	selectionSet   *SelectionSet
}

// NewInlineFragmentSelection pairs an inline fragment element with its
// sub-selection set.
func NewInlineFragmentSelection(inf *InlineFragment, sub *SelectionSet) *InlineFragmentSelection {
	return &InlineFragmentSelection{inlineFragment: inf, selectionSet: sub}
}

// InlineFragment returns the fragment element.
func (s *InlineFragmentSelection) InlineFragment() *InlineFragment { return s.inlineFragment }

// Key returns the fragment's merge key.
func (s *InlineFragmentSelection) Key() Key { return s.inlineFragment.key }

// Schema returns the schema the selection was built against.
func (s *InlineFragmentSelection) Schema() *schema.Schema { return s.inlineFragment.schema }

// SelectionSet returns the fragment's sub-selection set.
func (s *InlineFragmentSelection) SelectionSet() *SelectionSet { return s.selectionSet }

// HasDefer reports whether the fragment or any sub-selection is deferred.
func (s *InlineFragmentSelection) HasDefer() bool {
	return hasDeferDirective(s.inlineFragment.directives) || s.selectionSet.HasDefer()
}

func (s *InlineFragmentSelection) withSelectionSet(sub *SelectionSet) Selection {
	return &InlineFragmentSelection{inlineFragment: s.inlineFragment, selectionSet: sub}
}

func (s *InlineFragmentSelection) collectVariables(into map[string]struct{}) {
	collectVariablesFromDirectives(s.inlineFragment.directives, into)
	s.selectionSet.collectVariables(into)
}

func (s *InlineFragmentSelection) collectUsedFragmentNames(into map[string]int) {
	s.selectionSet.collectUsedFragmentNames(into)
}

func collectVariablesFromArguments(args ast.ArgumentList, into map[string]struct{}) {
	for _, arg := range args {
		collectVariablesFromValue(arg.Value, into)
	}
}

func collectVariablesFromDirectives(directives ast.DirectiveList, into map[string]struct{}) {
	for _, d := range directives {
		collectVariablesFromArguments(d.Arguments, into)
	}
}

func collectVariablesFromValue(v *ast.Value, into map[string]struct{}) {
	if v == nil {
		return
	}
	if v.Kind == ast.Variable {
		into[v.Raw] = struct{}{}
		return
	}
	for _, child := range v.Children {
		collectVariablesFromValue(child.Value, into)
	}
}
