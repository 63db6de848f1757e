package operation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// A Key (unrelated to the federation @key directive) identifies the merge
// equivalence class of a selection. Two selections may be combined into
// one iff their keys are equal:
//   - they reference the same response name / fragment name / type condition,
//   - they specify the same directives, applied in the same order,
//   - directive argument order does not matter (arguments are sorted by
//     name before comparison),
//   - neither selection carries @defer.
//
// A deferred selection gets a key derived from its unique SelectionID, so
// it never merges with anything, including an identically shaped deferred
// selection: deferred boundaries are distinct fetch units.
type Key struct {
	hash uint64
	id   string
}

// String returns the canonical identity string, for diagnostics.
func (k Key) String() string { return k.id }

// IsTypenameField reports whether the key belongs to a plain __typename
// field selection without directives.
func (k Key) IsTypenameField() bool {
	return k.id == "f/"+schemaTypenameField+"/"
}

const schemaTypenameField = "__typename"

func newKey(id string) Key {
	return Key{hash: xxhash.Sum64String(id), id: id}
}

func fieldKey(responseName string, directives ast.DirectiveList) Key {
	return newKey("f/" + responseName + "/" + directivesIdentity(directives))
}

func fragmentSpreadKey(fragmentName string, directives ast.DirectiveList) Key {
	return newKey("s/" + fragmentName + "/" + directivesIdentity(directives))
}

func inlineFragmentKey(typeCondition string, directives ast.DirectiveList) Key {
	return newKey("i/" + typeCondition + "/" + directivesIdentity(directives))
}

func deferKey(id SelectionID) Key {
	return newKey("d/" + strconv.FormatUint(uint64(id), 10))
}

// directivesIdentity renders a directive list in its identity form:
// list order is preserved (it is significant), argument order is not.
func directivesIdentity(directives ast.DirectiveList) string {
	if len(directives) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, d := range directives {
		sb.WriteByte('@')
		sb.WriteString(d.Name)
		if len(d.Arguments) > 0 {
			args := make([]*ast.Argument, len(d.Arguments))
			copy(args, d.Arguments)
			sort.Slice(args, func(i, j int) bool { return args[i].Name < args[j].Name })
			sb.WriteByte('(')
			for i, a := range args {
				if i > 0 {
					sb.WriteByte(',')
				}
				fmt.Fprintf(&sb, "%s:%s", a.Name, a.Value.String())
			}
			sb.WriteByte(')')
		}
	}
	return sb.String()
}

func hasDeferDirective(directives ast.DirectiveList) bool {
	return directives.ForName("defer") != nil
}
