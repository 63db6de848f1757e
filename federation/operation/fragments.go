package operation

import (
	"sync"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/apollographql/router-sub000/federation/schema"
)

// Fragment is a normalized named fragment definition.
type Fragment struct {
	Schema        *schema.Schema
	Name          string
	TypeCondition *ast.Definition
	Directives    ast.DirectiveList
	SelectionSet  *SelectionSet
}

// NamedFragments holds the fragments of a document, keyed by name and
// ordered so that every fragment appears after the fragments it spreads.
type NamedFragments struct {
	order  []string
	byName map[string]*Fragment
}

func newNamedFragments() *NamedFragments {
	return &NamedFragments{byName: make(map[string]*Fragment)}
}

// NewNamedFragments normalizes the given fragment definitions against
// sch. Definitions are processed in dependency order regardless of their
// document order. A definition whose condition or body does not exist in
// sch, or that spreads a fragment that never becomes available
// (undefined, cyclic, or itself dropped), is skipped rather than failing
// the whole document.
func NewNamedFragments(sch *schema.Schema, defs ast.FragmentDefinitionList) (*NamedFragments, error) {
	nf := newNamedFragments()
	remaining := make([]*ast.FragmentDefinition, len(defs))
	copy(remaining, defs)
	for len(remaining) > 0 {
		progressed := false
		next := remaining[:0]
		for _, def := range remaining {
			if !spreadsSatisfied(def.SelectionSet, nf) {
				next = append(next, def)
				continue
			}
			condition, err := sch.CompositeType(def.TypeCondition)
			if err != nil {
				// Known dead. Definitions spreading it stall and drop
				// when the loop stops progressing.
				continue
			}
			body, err := FromSelectionSet(sch, condition, def.SelectionSet, nf)
			if err != nil {
				continue
			}
			nf.insert(&Fragment{
				Schema:        sch,
				Name:          def.Name,
				TypeCondition: condition,
				Directives:    def.Directives,
				SelectionSet:  body,
			})
			progressed = true
		}
		if !progressed {
			break
		}
		remaining = next
	}
	return nf, nil
}

func spreadsSatisfied(astSet ast.SelectionSet, nf *NamedFragments) bool {
	for _, sel := range astSet {
		switch s := sel.(type) {
		case *ast.Field:
			if !spreadsSatisfied(s.SelectionSet, nf) {
				return false
			}
		case *ast.InlineFragment:
			if !spreadsSatisfied(s.SelectionSet, nf) {
				return false
			}
		case *ast.FragmentSpread:
			if _, ok := nf.byName[s.Name]; !ok {
				return false
			}
		}
	}
	return true
}

func (nf *NamedFragments) insert(f *Fragment) {
	if _, ok := nf.byName[f.Name]; !ok {
		nf.order = append(nf.order, f.Name)
	}
	nf.byName[f.Name] = f
}

// Len returns the number of fragments.
func (nf *NamedFragments) Len() int {
	if nf == nil {
		return 0
	}
	return len(nf.order)
}

// IsEmpty reports whether no fragments are held.
func (nf *NamedFragments) IsEmpty() bool { return nf.Len() == 0 }

// Get returns the fragment with the given name.
func (nf *NamedFragments) Get(name string) (*Fragment, bool) {
	if nf == nil {
		return nil, false
	}
	f, ok := nf.byName[name]
	return f, ok
}

// Values returns the fragments in dependency order.
func (nf *NamedFragments) Values() []*Fragment {
	if nf == nil {
		return nil
	}
	out := make([]*Fragment, 0, len(nf.order))
	for _, name := range nf.order {
		out = append(out, nf.byName[name])
	}
	return out
}

// RebaseOn re-expresses every fragment against toSchema, dropping those
// that do not survive the trip. A fragment is dropped when its condition
// type is absent from toSchema, when nothing in its body rebases, or
// when the rebased body is a single leaf field and spreading it would
// save nothing. Because fragments are processed in dependency order,
// spreads inside later fragments resolve against already-rebased ones;
// spreads of dropped fragments are dropped with the selections around
// them kept.
func (nf *NamedFragments) RebaseOn(toSchema *schema.Schema) (*NamedFragments, error) {
	rebased := newNamedFragments()
	for _, f := range nf.Values() {
		condition, err := toSchema.CompositeType(f.TypeCondition.Name)
		if err != nil {
			continue
		}
		body, err := f.SelectionSet.RebaseOn(condition, rebased, toSchema, IgnoreError)
		if err != nil {
			return nil, err
		}
		body, err = body.WithoutEmptyBranches()
		if err != nil {
			return nil, err
		}
		if !isSelectionSetWorthUsing(body) {
			continue
		}
		rebased.insert(&Fragment{
			Schema:        toSchema,
			Name:          f.Name,
			TypeCondition: condition,
			Directives:    f.Directives,
			SelectionSet:  body,
		})
	}
	return rebased, nil
}

// isSelectionSetWorthUsing rejects bodies that make a fragment pointless:
// an empty body, or a single leaf field that is no shorter spread than
// written out.
func isSelectionSetWorthUsing(ss *SelectionSet) bool {
	if ss.IsEmpty() {
		return false
	}
	if ss.Len() > 1 {
		return true
	}
	first, _ := ss.selections.First()
	fs, ok := first.(*FieldSelection)
	return !ok || fs.selectionSet != nil
}

// RebasedFragments lazily caches per-subgraph rebasings of a document's
// fragments. Safe for concurrent use.
type RebasedFragments struct {
	Original *NamedFragments

	mu         sync.Mutex
	bySubgraph map[string]*NamedFragments
}

// NewRebasedFragments wraps the fragments of the original document.
func NewRebasedFragments(original *NamedFragments) *RebasedFragments {
	return &RebasedFragments{Original: original, bySubgraph: make(map[string]*NamedFragments)}
}

// ForSubgraph returns the original fragments rebased on the named
// subgraph's schema, computing and caching the rebase on first use.
func (rf *RebasedFragments) ForSubgraph(name string, sch *schema.Schema) (*NamedFragments, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if cached, ok := rf.bySubgraph[name]; ok {
		return cached, nil
	}
	rebased, err := rf.Original.RebaseOn(sch)
	if err != nil {
		return nil, err
	}
	rf.bySubgraph[name] = rebased
	return rebased, nil
}
