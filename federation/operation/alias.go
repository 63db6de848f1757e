package operation

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/apollographql/router-sub000/federation/schema"
)

// PathElementKind distinguishes the two kinds of response-path segments.
type PathElementKind int

const (
	// PathKey addresses a response key (a field's response name).
	PathKey PathElementKind = iota
	// PathTypenameEquals restricts the path to objects of a given
	// runtime type, written "... on Type".
	PathTypenameEquals
)

// PathElement is one segment of a response path.
type PathElement struct {
	Kind PathElementKind
	Name string
}

// KeyPathElement addresses the response key name.
func KeyPathElement(name string) PathElement {
	return PathElement{Kind: PathKey, Name: name}
}

// TypenamePathElement restricts the path to runtime type name.
func TypenamePathElement(name string) PathElement {
	return PathElement{Kind: PathTypenameEquals, Name: name}
}

func (e PathElement) String() string {
	if e.Kind == PathTypenameEquals {
		return "... on " + e.Name
	}
	return e.Name
}

func appendPath(prefix []PathElement, elems ...PathElement) []PathElement {
	out := make([]PathElement, 0, len(prefix)+len(elems))
	out = append(out, prefix...)
	return append(out, elems...)
}

// FieldToAlias records that the field responding as ResponseName at Path
// was renamed to Alias in the fetch, and the response value must be
// renamed back before merging.
type FieldToAlias struct {
	Path         []PathElement
	ResponseName string
	Alias        string
}

// AddAliasesForNonMergingFields renames fields that share a response
// name but cannot merge into a single response value, which happens when
// diverging fragment branches select different things under one name.
// It returns the rewritten set together with the renames applied, in the
// order they were decided. The set must be fragment-spread-free.
func (ss *SelectionSet) AddAliasesForNonMergingFields() (*SelectionSet, []FieldToAlias, error) {
	var aliases []FieldToAlias
	err := computeAliasesForNonMergingFields(
		[]selectionSetAtPath{{set: ss}}, &aliases, ss.schema)
	if err != nil {
		return nil, nil, err
	}
	if len(aliases) == 0 {
		return ss, nil, nil
	}
	updated, err := ss.withFieldAliased(aliases)
	if err != nil {
		return nil, nil, err
	}
	return updated, aliases, nil
}

type selectionSetAtPath struct {
	path []PathElement
	set  *SelectionSet
}

type seenResponseName struct {
	fieldName  string
	fieldType  *ast.Type
	selections []selectionSetAtPath
	composite  bool
}

func computeAliasesForNonMergingFields(levels []selectionSetAtPath, collector *[]FieldToAlias, sch *schema.Schema) error {
	seen := make(map[string]*seenResponseName)
	var seenOrder []string

	for _, level := range levels {
		if level.set == nil {
			continue
		}
		fields, err := level.set.FieldsInSet()
		if err != nil {
			return err
		}
		for _, fip := range fields {
			path := appendPath(level.path, fip.Path...)
			field := fip.Field.field
			responseName := field.ResponseName()
			fieldType := field.definition.Type

			previous, ok := seen[responseName]
			if !ok {
				entry := &seenResponseName{
					fieldName: field.Name(),
					fieldType: fieldType,
					composite: fip.Field.selectionSet != nil,
				}
				if fip.Field.selectionSet != nil {
					entry.selections = []selectionSetAtPath{{
						path: appendPath(path, KeyPathElement(responseName)),
						set:  fip.Field.selectionSet,
					}}
				}
				seen[responseName] = entry
				seenOrder = append(seenOrder, responseName)
				continue
			}

			if previous.fieldName == field.Name() && typesCanBeMerged(previous.fieldType, fieldType, sch) {
				if fip.Field.selectionSet == nil {
					continue
				}
				if !previous.composite {
					return internalErrorf("field %q was recorded as a leaf but selects sub-fields", responseName)
				}
				previous.selections = append(previous.selections, selectionSetAtPath{
					path: appendPath(path, KeyPathElement(responseName)),
					set:  fip.Field.selectionSet,
				})
				continue
			}

			// The new occurrence cannot merge with what the response
			// name already holds. Rename it, and track the alias as a
			// seen name so a later occurrence cannot collide with it.
			alias := genAliasName(responseName, seen)
			entry := &seenResponseName{
				fieldName: field.Name(),
				fieldType: fieldType,
				composite: fip.Field.selectionSet != nil,
			}
			if fip.Field.selectionSet != nil {
				entry.selections = []selectionSetAtPath{{
					path: appendPath(path, KeyPathElement(alias)),
					set:  fip.Field.selectionSet,
				}}
			}
			seen[alias] = entry
			seenOrder = append(seenOrder, alias)
			*collector = append(*collector, FieldToAlias{
				Path:         path,
				ResponseName: responseName,
				Alias:        alias,
			})
		}
	}

	for _, name := range seenOrder {
		if entry := seen[name]; entry.selections != nil {
			if err := computeAliasesForNonMergingFields(entry.selections, collector, sch); err != nil {
				return err
			}
		}
	}
	return nil
}

func genAliasName(baseName string, unavailable map[string]*seenResponseName) string {
	for counter := 0; ; counter++ {
		candidate := fmt.Sprintf("%s__alias_%d", baseName, counter)
		if _, taken := unavailable[candidate]; !taken {
			return candidate
		}
	}
}

// typesCanBeMerged reports whether two field types produce the same
// response shape: matching list and non-null wrappers, and either the
// same named type or two composite types whose sub-selections will be
// checked on their own.
func typesCanBeMerged(a, b *ast.Type, sch *schema.Schema) bool {
	if a.NonNull != b.NonNull {
		return false
	}
	if (a.Elem != nil) != (b.Elem != nil) {
		return false
	}
	if a.Elem != nil {
		return typesCanBeMerged(a.Elem, b.Elem, sch)
	}
	defA, defB := sch.Type(a.NamedType), sch.Type(b.NamedType)
	if defA != nil && defB != nil && defA.IsCompositeType() && defB.IsCompositeType() {
		return true
	}
	return a.NamedType == b.NamedType
}

func (ss *SelectionSet) withFieldAliased(aliases []FieldToAlias) (*SelectionSet, error) {
	if len(aliases) == 0 {
		return ss, nil
	}
	atCurrentLevel := make(map[string]FieldToAlias)
	var remaining []FieldToAlias
	for _, a := range aliases {
		if len(a.Path) == 0 {
			atCurrentLevel[a.ResponseName] = a
		} else {
			remaining = append(remaining, a)
		}
	}

	out := make([]Selection, 0, ss.selections.Len())
	for _, sel := range ss.selections.Values() {
		var pathElement *PathElement
		switch s := sel.(type) {
		case *FieldSelection:
			e := KeyPathElement(s.field.ResponseName())
			pathElement = &e
		case *InlineFragmentSelection:
			if cond := s.inlineFragment.typeCondition; cond != nil {
				e := TypenamePathElement(cond.Name)
				pathElement = &e
			}
		case *FragmentSpreadSelection:
			return nil, internalErrorf("unexpected fragment spread %q in expanded selection set", s.spread.fragmentName)
		}

		var subAliases []FieldToAlias
		for _, a := range remaining {
			if pathElement != nil && a.Path[0] == *pathElement {
				subAliases = append(subAliases, FieldToAlias{
					Path:         a.Path[1:],
					ResponseName: a.ResponseName,
					Alias:        a.Alias,
				})
			}
		}

		sub := sel.SelectionSet()
		updatedSub := sub
		if sub != nil {
			var err error
			updatedSub, err = sub.withFieldAliased(subAliases)
			if err != nil {
				return nil, err
			}
		}

		if fs, ok := sel.(*FieldSelection); ok {
			if a, renamed := atCurrentLevel[fs.field.ResponseName()]; renamed {
				out = append(out, NewFieldSelection(fs.field.withAlias(a.Alias), updatedSub))
				continue
			}
		}
		if updatedSub != sub {
			out = append(out, sel.withSelectionSet(updatedSub))
			continue
		}
		out = append(out, sel)
	}
	return NewSelectionSet(ss.schema, ss.typePosition, out...)
}
