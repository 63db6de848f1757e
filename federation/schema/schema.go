// Package schema wraps a validated gqlparser schema with the lookups the
// planner and the operation normalizer need: composite type and field
// position resolution, possible runtime types, runtime-type intersection
// and the interface-object predicate.
package schema

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
)

// TypenameFieldName is the meta field available on every composite type.
const TypenameFieldName = "__typename"

// typenameDefinition is the shared definition handed out for __typename
// lookups. Every composite type exposes it with the same String! type.
var typenameDefinition = &ast.FieldDefinition{
	Name: TypenameFieldName,
	Type: ast.NonNullNamedType("String", nil),
}

// Schema is a named, validated schema. Two positions belong to the same
// schema iff their *Schema pointers are identical, which is what the
// copy-on-write fast paths in the operation package rely on.
type Schema struct {
	name             string
	ast              *ast.Schema
	interfaceObjects map[string]struct{}
}

// Option configures a Schema on construction.
type Option func(*Schema)

// WithName sets the subgraph (or supergraph) name the schema belongs to.
func WithName(name string) Option {
	return func(s *Schema) { s.name = name }
}

// WithInterfaceObjects records the interface types that are represented as
// an object (`@interfaceObject`) in at least one subgraph. Selecting
// __typename on such a type in a subgraph would return the object type
// name instead of the runtime type name, so rebasing treats it specially.
func WithInterfaceObjects(names ...string) Option {
	return func(s *Schema) {
		for _, n := range names {
			s.interfaceObjects[n] = struct{}{}
		}
	}
}

// New wraps an already validated gqlparser schema.
func New(astSchema *ast.Schema, opts ...Option) *Schema {
	s := &Schema{
		ast:              astSchema,
		interfaceObjects: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the schema's subgraph name, or an empty string for the
// supergraph API schema.
func (s *Schema) Name() string { return s.name }

// AST returns the underlying gqlparser schema.
func (s *Schema) AST() *ast.Schema { return s.ast }

// Type resolves a type definition by name, or nil.
func (s *Schema) Type(name string) *ast.Definition {
	return s.ast.Types[name]
}

// CompositeType resolves a type by name and requires it to be an object,
// interface or union.
func (s *Schema) CompositeType(name string) (*ast.Definition, error) {
	def := s.ast.Types[name]
	if def == nil {
		return nil, fmt.Errorf("type %q is not defined in schema %q", name, s.name)
	}
	if !def.IsCompositeType() {
		return nil, fmt.Errorf("type %q in schema %q is %s, not a composite type", name, s.name, def.Kind)
	}
	return def, nil
}

// FieldDefinition resolves a field by name on the given composite type.
// The __typename meta field resolves on every composite type.
func (s *Schema) FieldDefinition(parent *ast.Definition, name string) *ast.FieldDefinition {
	if name == TypenameFieldName {
		return typenameDefinition
	}
	return parent.Fields.ForName(name)
}

// RootType returns the root operation type for the given operation kind,
// or nil if the schema does not support it.
func (s *Schema) RootType(op ast.Operation) *ast.Definition {
	switch op {
	case ast.Query:
		return s.ast.Query
	case ast.Mutation:
		return s.ast.Mutation
	case ast.Subscription:
		return s.ast.Subscription
	}
	return nil
}

// PossibleRuntimeTypes returns the object types a composite type can
// resolve to at runtime: the type itself for objects, the implementers
// for interfaces and the members for unions.
func (s *Schema) PossibleRuntimeTypes(def *ast.Definition) []*ast.Definition {
	if def.Kind == ast.Object {
		return []*ast.Definition{def}
	}
	return s.ast.PossibleTypes[def.Name]
}

// RuntimeTypesIntersect reports whether two composite types can ever
// describe the same concrete object at execution time.
func (s *Schema) RuntimeTypesIntersect(a, b *ast.Definition) bool {
	if a.Name == b.Name {
		return true
	}
	if a.Kind == ast.Object && b.Kind == ast.Object {
		return false
	}
	// At least one side is abstract; intersect the runtime sets. Objects
	// have a single runtime type so the common cases stay cheap.
	if a.Kind == ast.Object {
		a, b = b, a
	}
	if b.Kind == ast.Object {
		for _, t := range s.PossibleRuntimeTypes(a) {
			if t.Name == b.Name {
				return true
			}
		}
		return false
	}
	seen := make(map[string]struct{})
	for _, t := range s.PossibleRuntimeTypes(a) {
		seen[t.Name] = struct{}{}
	}
	for _, t := range s.PossibleRuntimeTypes(b) {
		if _, ok := seen[t.Name]; ok {
			return true
		}
	}
	return false
}

// IsInterfaceObject reports whether the named type is an interface that
// at least one subgraph represents as an object type.
func (s *Schema) IsInterfaceObject(typeName string) bool {
	_, ok := s.interfaceObjects[typeName]
	return ok
}

// HasInterfaceObjectRuntime reports whether any possible runtime type of
// the given composite type is an interface-object representation. A
// __typename selection cannot be rebased onto such a position.
func (s *Schema) HasInterfaceObjectRuntime(def *ast.Definition) bool {
	if s.IsInterfaceObject(def.Name) {
		return true
	}
	for _, t := range s.PossibleRuntimeTypes(def) {
		if s.IsInterfaceObject(t.Name) {
			return true
		}
	}
	return false
}

// InterfaceObjects returns the recorded interface-object type names.
func (s *Schema) InterfaceObjects() []string {
	names := make([]string, 0, len(s.interfaceObjects))
	for n := range s.interfaceObjects {
		names = append(names, n)
	}
	return names
}
