package operation

import (
	"sort"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/apollographql/router-sub000/federation/schema"
)

// SelectionSet is a normalized set of selections on a composite type.
// Selections are kept in a SelectionMap, so two selections with the same
// merge key have already been combined and insertion order is preserved.
type SelectionSet struct {
	schema       *schema.Schema
	typePosition *ast.Definition
	selections   *SelectionMap
}

func newSelectionSet(sch *schema.Schema, typePosition *ast.Definition) *SelectionSet {
	return &SelectionSet{schema: sch, typePosition: typePosition, selections: NewSelectionMap()}
}

// NewSelectionSet builds a set on the given type from already-normalized
// selections, merging any that share a key.
func NewSelectionSet(sch *schema.Schema, typePosition *ast.Definition, selections ...Selection) (*SelectionSet, error) {
	ss := newSelectionSet(sch, typePosition)
	if err := ss.mergeSelectionsInto(selections); err != nil {
		return nil, err
	}
	return ss, nil
}

// FromSelectionSet normalizes a parsed selection set against sch, rooted
// at typePosition. Introspection fields (__schema, __type) are dropped,
// inline fragments with no directives and a redundant type condition are
// hoisted into their parent, and selections sharing a merge key are
// combined. Fragment spreads are resolved through fragments; a spread of
// an unknown fragment is an internal error.
func FromSelectionSet(sch *schema.Schema, typePosition *ast.Definition, astSet ast.SelectionSet, fragments *NamedFragments) (*SelectionSet, error) {
	pending, err := selectionsFromAST(sch, typePosition, astSet, fragments)
	if err != nil {
		return nil, err
	}
	return NewSelectionSet(sch, typePosition, pending...)
}

func selectionsFromAST(sch *schema.Schema, parent *ast.Definition, astSet ast.SelectionSet, fragments *NamedFragments) ([]Selection, error) {
	pending := make([]Selection, 0, len(astSet))
	for _, sel := range astSet {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name == "__schema" || s.Name == "__type" {
				continue
			}
			fieldSel, err := fieldSelectionFromAST(sch, parent, s, fragments)
			if err != nil {
				return nil, err
			}
			pending = append(pending, fieldSel)
		case *ast.FragmentSpread:
			if fragments == nil {
				return nil, internalErrorf("spread of fragment %q with no named fragments in scope", s.Name)
			}
			fragment, ok := fragments.Get(s.Name)
			if !ok {
				return nil, internalErrorf("spread of unknown fragment %q", s.Name)
			}
			pending = append(pending, NewFragmentSpreadSelection(fragment, s.Directives))
		case *ast.InlineFragment:
			redundant := s.TypeCondition == "" || s.TypeCondition == parent.Name
			if redundant && len(s.Directives) == 0 {
				hoisted, err := selectionsFromAST(sch, parent, s.SelectionSet, fragments)
				if err != nil {
					return nil, err
				}
				pending = append(pending, hoisted...)
				continue
			}
			var condition *ast.Definition
			castedType := parent
			if s.TypeCondition != "" {
				cond, err := sch.CompositeType(s.TypeCondition)
				if err != nil {
					return nil, err
				}
				condition = cond
				castedType = cond
			}
			sub, err := FromSelectionSet(sch, castedType, s.SelectionSet, fragments)
			if err != nil {
				return nil, err
			}
			pending = append(pending, NewInlineFragmentSelection(
				NewInlineFragment(sch, parent, condition, s.Directives), sub))
		default:
			return nil, internalErrorf("unknown selection kind %T", sel)
		}
	}
	return pending, nil
}

func fieldSelectionFromAST(sch *schema.Schema, parent *ast.Definition, f *ast.Field, fragments *NamedFragments) (*FieldSelection, error) {
	alias := f.Alias
	if alias == f.Name {
		alias = ""
	}
	field, err := NewField(sch, parent, f.Name, alias, f.Arguments, f.Directives)
	if err != nil {
		return nil, err
	}
	var sub *SelectionSet
	if baseType := sch.Type(field.BaseTypeName()); baseType != nil && baseType.IsCompositeType() {
		sub, err = FromSelectionSet(sch, baseType, f.SelectionSet, fragments)
		if err != nil {
			return nil, err
		}
	}
	return NewFieldSelection(field, sub), nil
}

// Schema returns the schema the set was built against.
func (ss *SelectionSet) Schema() *schema.Schema { return ss.schema }

// TypePosition returns the composite type the set selects on.
func (ss *SelectionSet) TypePosition() *ast.Definition { return ss.typePosition }

// Selections returns the set's selections in insertion order.
func (ss *SelectionSet) Selections() []Selection { return ss.selections.Values() }

// Len returns the number of top-level selections.
func (ss *SelectionSet) Len() int { return ss.selections.Len() }

// IsEmpty reports whether the set has no selections.
func (ss *SelectionSet) IsEmpty() bool { return ss.selections.IsEmpty() }

// Get returns the selection stored under key, if any.
func (ss *SelectionSet) Get(key Key) (Selection, bool) { return ss.selections.Get(key) }

// HasDefer reports whether any selection in the set, at any depth,
// carries a @defer directive.
func (ss *SelectionSet) HasDefer() bool {
	for _, sel := range ss.selections.Values() {
		if sel.HasDefer() {
			return true
		}
	}
	return false
}

func (ss *SelectionSet) shallowClone() *SelectionSet {
	return &SelectionSet{schema: ss.schema, typePosition: ss.typePosition, selections: ss.selections.clone()}
}

func (ss *SelectionSet) withSelections(m *SelectionMap) *SelectionSet {
	if m == ss.selections {
		return ss
	}
	return &SelectionSet{schema: ss.schema, typePosition: ss.typePosition, selections: m}
}

// mergeSelectionsInto merges the given selections into the set, combining
// each with an existing selection of the same key when present.
func (ss *SelectionSet) mergeSelectionsInto(selections []Selection) error {
	for _, incoming := range selections {
		entry := ss.selections.Entry(incoming.Key())
		existing, ok := entry.Get()
		if !ok {
			if err := entry.InsertVacant(incoming); err != nil {
				return err
			}
			continue
		}
		merged, err := mergeSelectionPair(existing, incoming)
		if err != nil {
			return err
		}
		if merged == existing {
			continue
		}
		if err := ss.selections.Update(incoming.Key(), func(Selection) (Selection, error) {
			return merged, nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func mergeSelectionPair(existing, incoming Selection) (Selection, error) {
	switch e := existing.(type) {
	case *FieldSelection:
		in, ok := incoming.(*FieldSelection)
		if !ok {
			return nil, internalErrorf("cannot merge %T into field %q", incoming, e.field.ResponseName())
		}
		return mergeFieldSelections(e, in)
	case *InlineFragmentSelection:
		in, ok := incoming.(*InlineFragmentSelection)
		if !ok {
			return nil, internalErrorf("cannot merge %T into inline fragment", incoming)
		}
		return mergeInlineFragmentSelections(e, in)
	case *FragmentSpreadSelection:
		// Spreads sharing a key reference the same fragment with the
		// same directives; the bodies are identical.
		if _, ok := incoming.(*FragmentSpreadSelection); !ok {
			return nil, internalErrorf("cannot merge %T into fragment spread %q", incoming, e.spread.fragmentName)
		}
		return existing, nil
	default:
		return nil, internalErrorf("unknown selection kind %T", existing)
	}
}

func mergeFieldSelections(existing, incoming *FieldSelection) (Selection, error) {
	if existing.field.schema != incoming.field.schema {
		return nil, internalErrorf("cannot merge field %q: selections built on different schemas", existing.field.ResponseName())
	}
	if existing.field.parentType.Name != incoming.field.parentType.Name ||
		existing.field.Name() != incoming.field.Name() {
		return nil, internalErrorf(
			"cannot merge field %q selecting %s.%s with one selecting %s.%s",
			existing.field.ResponseName(),
			existing.field.parentType.Name, existing.field.Name(),
			incoming.field.parentType.Name, incoming.field.Name(),
		)
	}
	if (existing.selectionSet == nil) != (incoming.selectionSet == nil) {
		return nil, internalErrorf("cannot merge field %q: one selection is a leaf, the other is not", existing.field.ResponseName())
	}
	if existing.selectionSet == nil {
		return existing, nil
	}
	sub := existing.selectionSet.shallowClone()
	if err := sub.mergeSelectionsInto(incoming.selectionSet.Selections()); err != nil {
		return nil, err
	}
	return existing.withSelectionSet(sub), nil
}

func mergeInlineFragmentSelections(existing, incoming *InlineFragmentSelection) (Selection, error) {
	if existing.inlineFragment.schema != incoming.inlineFragment.schema {
		return nil, internalErrorf("cannot merge inline fragments built on different schemas")
	}
	if existing.inlineFragment.CastedType().Name != incoming.inlineFragment.CastedType().Name {
		return nil, internalErrorf(
			"cannot merge inline fragment on %q with one on %q",
			existing.inlineFragment.CastedType().Name, incoming.inlineFragment.CastedType().Name,
		)
	}
	sub := existing.selectionSet.shallowClone()
	if err := sub.mergeSelectionsInto(incoming.selectionSet.Selections()); err != nil {
		return nil, err
	}
	return existing.withSelectionSet(sub), nil
}

// ExpandAllFragments replaces every fragment spread, at any depth, with
// its contents. A spread whose condition matches the surrounding type and
// that carries no directives is hoisted directly; any other spread
// becomes an inline fragment preserving its condition and directives.
func (ss *SelectionSet) ExpandAllFragments() (*SelectionSet, error) {
	expanded := make([]Selection, 0, ss.selections.Len())
	changed := false
	for _, sel := range ss.selections.Values() {
		switch s := sel.(type) {
		case *FieldSelection:
			if s.selectionSet == nil {
				expanded = append(expanded, s)
				continue
			}
			sub, err := s.selectionSet.ExpandAllFragments()
			if err != nil {
				return nil, err
			}
			if sub != s.selectionSet {
				changed = true
				expanded = append(expanded, s.withSelectionSet(sub))
			} else {
				expanded = append(expanded, s)
			}
		case *InlineFragmentSelection:
			sub, err := s.selectionSet.ExpandAllFragments()
			if err != nil {
				return nil, err
			}
			if sub != s.selectionSet {
				changed = true
				expanded = append(expanded, s.withSelectionSet(sub))
			} else {
				expanded = append(expanded, s)
			}
		case *FragmentSpreadSelection:
			changed = true
			body, err := s.selectionSet.ExpandAllFragments()
			if err != nil {
				return nil, err
			}
			hoistable := len(s.spread.directives) == 0 &&
				s.spread.typeCondition.Name == ss.typePosition.Name
			if hoistable {
				expanded = append(expanded, body.Selections()...)
				continue
			}
			inf := NewInlineFragment(ss.schema, ss.typePosition, s.spread.typeCondition, s.spread.directives)
			expanded = append(expanded, NewInlineFragmentSelection(inf, body))
		default:
			return nil, internalErrorf("unknown selection kind %T", sel)
		}
	}
	if !changed {
		return ss, nil
	}
	return NewSelectionSet(ss.schema, ss.typePosition, expanded...)
}

// flattenUnnecessaryFragments hoists inline fragments whose condition
// adds nothing under their parent type: fragments with no directives and
// either no condition, a condition equal to the parent, or an abstract
// condition covering every runtime type of the parent.
func (ss *SelectionSet) flattenUnnecessaryFragments() (*SelectionSet, error) {
	flattened := make([]Selection, 0, ss.selections.Len())
	changed := false
	for _, sel := range ss.selections.Values() {
		switch s := sel.(type) {
		case *FieldSelection:
			if s.selectionSet == nil {
				flattened = append(flattened, s)
				continue
			}
			sub, err := s.selectionSet.flattenUnnecessaryFragments()
			if err != nil {
				return nil, err
			}
			if sub != s.selectionSet {
				changed = true
				flattened = append(flattened, s.withSelectionSet(sub))
			} else {
				flattened = append(flattened, s)
			}
		case *InlineFragmentSelection:
			sub, err := s.selectionSet.flattenUnnecessaryFragments()
			if err != nil {
				return nil, err
			}
			if isUnnecessaryFragment(s.inlineFragment, ss.typePosition) {
				changed = true
				flattened = append(flattened, sub.Selections()...)
				continue
			}
			if sub != s.selectionSet {
				changed = true
				flattened = append(flattened, s.withSelectionSet(sub))
			} else {
				flattened = append(flattened, s)
			}
		case *FragmentSpreadSelection:
			flattened = append(flattened, s)
		default:
			return nil, internalErrorf("unknown selection kind %T", sel)
		}
	}
	if !changed {
		return ss, nil
	}
	return NewSelectionSet(ss.schema, ss.typePosition, flattened...)
}

func isUnnecessaryFragment(inf *InlineFragment, parent *ast.Definition) bool {
	if len(inf.directives) > 0 {
		return false
	}
	cond := inf.typeCondition
	if cond == nil || cond.Name == parent.Name {
		return true
	}
	if cond.Kind == ast.Object {
		return false
	}
	condRuntime := make(map[string]struct{})
	for _, t := range inf.schema.PossibleRuntimeTypes(cond) {
		condRuntime[t.Name] = struct{}{}
	}
	for _, t := range inf.schema.PossibleRuntimeTypes(parent) {
		if _, ok := condRuntime[t.Name]; !ok {
			return false
		}
	}
	return true
}

// WithoutEmptyBranches removes selections whose sub-selection set became
// empty, bottom-up. The returned set may itself be empty.
func (ss *SelectionSet) WithoutEmptyBranches() (*SelectionSet, error) {
	filtered, err := ss.selections.filterRecursiveDepthFirst(func(sel Selection) (bool, error) {
		sub := sel.SelectionSet()
		return sub == nil || !sub.IsEmpty(), nil
	})
	if err != nil {
		return nil, err
	}
	return ss.withSelections(filtered), nil
}

// ContainsTopLevelField reports whether the set selects the given field
// at its top level.
func (ss *SelectionSet) ContainsTopLevelField(field *Field) bool {
	sel, ok := ss.selections.Get(field.Key())
	if !ok {
		return false
	}
	fs, ok := sel.(*FieldSelection)
	return ok && fs.field.Name() == field.Name()
}

// FieldInPath is a field selection together with the fragment conditions
// crossed to reach it from the top of its set. Field sub-selections are
// not descended into.
type FieldInPath struct {
	Path  []PathElement
	Field *FieldSelection
}

// FieldsInSet returns the fields selected at the level of the set,
// looking through inline fragments, whose type conditions become path
// elements. The set must be fragment-spread-free.
func (ss *SelectionSet) FieldsInSet() ([]FieldInPath, error) {
	var out []FieldInPath
	for _, sel := range ss.selections.Values() {
		switch s := sel.(type) {
		case *FieldSelection:
			out = append(out, FieldInPath{Field: s})
		case *InlineFragmentSelection:
			var header []PathElement
			if cond := s.inlineFragment.typeCondition; cond != nil {
				header = []PathElement{TypenamePathElement(cond.Name)}
			}
			nested, err := s.selectionSet.FieldsInSet()
			if err != nil {
				return nil, err
			}
			for _, fip := range nested {
				out = append(out, FieldInPath{
					Path:  appendPath(header, fip.Path...),
					Field: fip.Field,
				})
			}
		case *FragmentSpreadSelection:
			return nil, internalErrorf("unexpected fragment spread %q in expanded selection set", s.spread.fragmentName)
		}
	}
	return out, nil
}

// CollectVariables returns the names of all variables referenced by
// arguments and directives in the set, sorted.
func (ss *SelectionSet) CollectVariables() []string {
	seen := make(map[string]struct{})
	ss.collectVariables(seen)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ss *SelectionSet) collectVariables(into map[string]struct{}) {
	for _, sel := range ss.selections.Values() {
		sel.collectVariables(into)
	}
}

// CollectUsedFragmentNames counts, per fragment name, how many spreads
// of it appear in the set at any depth.
func (ss *SelectionSet) CollectUsedFragmentNames() map[string]int {
	counts := make(map[string]int)
	ss.collectUsedFragmentNames(counts)
	return counts
}

func (ss *SelectionSet) collectUsedFragmentNames(into map[string]int) {
	for _, sel := range ss.selections.Values() {
		sel.collectUsedFragmentNames(into)
	}
}
