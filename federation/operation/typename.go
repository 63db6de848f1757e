package operation

// optimizeSiblingTypenames removes plain __typename selections that sit
// next to other fields and records them on the first sibling field, so
// later per-subgraph fetches do not each re-query a value the caller can
// reconstruct. A __typename that is the sole selection of its set stays,
// as does one carrying directives, and sets on an interface object type
// are left alone entirely since their runtime type name differs by
// subgraph. The walk expects fragment spreads to be expanded already.
func (ss *SelectionSet) optimizeSiblingTypenames() (*SelectionSet, error) {
	selections := ss.selections.Values()
	out := make([]Selection, 0, len(selections))
	changed := false

	skipLevel := ss.schema.IsInterfaceObject(ss.typePosition.Name) || len(selections) == 1
	var removedAlias *string
	for _, sel := range selections {
		if removedAlias == nil && !skipLevel {
			if fs, ok := sel.(*FieldSelection); ok &&
				fs.field.IsTypename() && len(fs.field.directives) == 0 && hasOtherFieldSibling(selections, fs) {
				alias := fs.field.alias
				removedAlias = &alias
				changed = true
				continue
			}
		}
		out = append(out, sel)
	}

	for i, sel := range out {
		switch s := sel.(type) {
		case *FieldSelection:
			if s.selectionSet == nil {
				continue
			}
			sub, err := s.selectionSet.optimizeSiblingTypenames()
			if err != nil {
				return nil, err
			}
			if sub != s.selectionSet {
				changed = true
				out[i] = s.withSelectionSet(sub)
			}
		case *InlineFragmentSelection:
			sub, err := s.selectionSet.optimizeSiblingTypenames()
			if err != nil {
				return nil, err
			}
			if sub != s.selectionSet {
				changed = true
				out[i] = s.withSelectionSet(sub)
			}
		case *FragmentSpreadSelection:
			return nil, internalErrorf("sibling __typename optimization requires fragment spreads to be expanded first")
		}
	}

	if removedAlias != nil {
		attached := false
		for i, sel := range out {
			fs, ok := sel.(*FieldSelection)
			if !ok {
				continue
			}
			out[i] = NewFieldSelection(
				fs.field.withSiblingTypename(&SiblingTypename{Alias: *removedAlias}), fs.selectionSet)
			attached = true
			break
		}
		if !attached {
			return nil, internalErrorf("removed a __typename selection with no sibling field to record it on")
		}
	}

	if !changed {
		return ss, nil
	}
	return NewSelectionSet(ss.schema, ss.typePosition, out...)
}

func hasOtherFieldSibling(selections []Selection, self *FieldSelection) bool {
	for _, sel := range selections {
		if fs, ok := sel.(*FieldSelection); ok && fs != self {
			return true
		}
	}
	return false
}
