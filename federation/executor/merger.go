package executor

import (
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/apollographql/router-sub000/federation/operation"
)

// applyRewrites undoes the field aliases a step introduced to keep its
// query valid, renaming each aliased key back to the response name the
// client asked for. Prefix locates the step's data inside the response
// body, "_entities" for entity fetches.
func applyRewrites(data []byte, rewrites []operation.FieldToAlias, prefix []operation.PathElement) ([]byte, error) {
	for _, rw := range rewrites {
		path := append(append([]operation.PathElement{}, prefix...), rw.Path...)
		for _, loc := range resolvePaths(gjson.ParseBytes(data), "", path) {
			from := joinPath(loc, rw.Alias)
			value := gjson.GetBytes(data, from)
			if !value.Exists() {
				continue
			}
			var err error
			data, err = sjson.SetRawBytes(data, joinPath(loc, rw.ResponseName), []byte(value.Raw))
			if err != nil {
				return nil, err
			}
			data, err = sjson.DeleteBytes(data, from)
			if err != nil {
				return nil, err
			}
		}
	}
	return data, nil
}

// resolvePaths expands a path over the JSON value into concrete gjson
// paths, fanning out over arrays and filtering objects by __typename at
// type-condition segments.
func resolvePaths(value gjson.Result, prefix string, path []operation.PathElement) []string {
	if value.IsArray() {
		var out []string
		i := 0
		value.ForEach(func(_, item gjson.Result) bool {
			out = append(out, resolvePaths(item, joinPath(prefix, strconv.Itoa(i)), path)...)
			i++
			return true
		})
		return out
	}
	if !value.IsObject() {
		return nil
	}
	if len(path) == 0 {
		return []string{prefix}
	}
	head, rest := path[0], path[1:]
	if head.Kind == operation.PathTypenameEquals {
		if tn := value.Get("__typename"); tn.Exists() && tn.String() != head.Name {
			return nil
		}
		return resolvePaths(value, prefix, rest)
	}
	child := value.Get(head.Name)
	if !child.Exists() {
		return nil
	}
	return resolvePaths(child, joinPath(prefix, head.Name), rest)
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// pruneToOperation strips the merged data down to the keys the client's
// operation selects, dropping key fields and __typename values that were
// only fetched to drive entity lookups.
func pruneToOperation(value interface{}, ss *operation.SelectionSet) interface{} {
	switch v := value.(type) {
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = pruneToOperation(item, ss)
		}
		return out
	case map[string]interface{}:
		if ss == nil {
			return v
		}
		out := make(map[string]interface{}, len(v))
		pruneObject(v, ss, out)
		return out
	default:
		return v
	}
}

// pruneObject copies the selected keys of one object. Inline fragments
// apply only when the object's __typename can be the casted type, and
// fragment conditions share the flat object, so the output accumulates
// across selections.
func pruneObject(obj map[string]interface{}, ss *operation.SelectionSet, out map[string]interface{}) {
	for _, sel := range ss.Selections() {
		switch s := sel.(type) {
		case *operation.FieldSelection:
			field := s.Field()
			if st := field.SiblingTypename(); st != nil {
				key := st.Alias
				if key == "" {
					key = "__typename"
				}
				if tn, ok := obj["__typename"]; ok {
					out[key] = tn
				}
			}
			name := field.ResponseName()
			child, ok := obj[name]
			if !ok {
				continue
			}
			out[name] = pruneToOperation(child, s.SelectionSet())
		case *operation.InlineFragmentSelection:
			if casted := s.InlineFragment().CastedType(); casted != nil {
				if tn, ok := obj["__typename"].(string); ok && !typeMatches(s, tn, casted.Name) {
					continue
				}
			}
			pruneObject(obj, s.SelectionSet(), out)
		case *operation.FragmentSpreadSelection:
			pruneObject(obj, s.SelectionSet(), out)
		}
	}
}

// typeMatches reports whether an object of runtime type typeName can
// satisfy the fragment's condition.
func typeMatches(s *operation.InlineFragmentSelection, typeName, conditionName string) bool {
	if typeName == conditionName {
		return true
	}
	condition, err := s.Schema().CompositeType(conditionName)
	if err != nil {
		return false
	}
	for _, runtime := range s.Schema().PossibleRuntimeTypes(condition) {
		if runtime.Name == typeName {
			return true
		}
	}
	return false
}
