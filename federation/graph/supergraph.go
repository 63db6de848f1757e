package graph

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/apollographql/router-sub000/federation/schema"
)

// Supergraph is the composed graph: the merged schema clients query
// against, plus, per field, the subgraphs able to resolve it.
type Supergraph struct {
	Subgraphs []*Subgraph

	schema *schema.Schema
	// ownership maps "Type.field" to the subgraphs that can resolve the
	// field, honoring @external and @override.
	ownership map[string][]*Subgraph
}

// NewSupergraph composes the given subgraphs.
func NewSupergraph(subgraphs ...*Subgraph) (*Supergraph, error) {
	if len(subgraphs) == 0 {
		return nil, fmt.Errorf("no subgraphs to compose")
	}
	sg := &Supergraph{
		Subgraphs: subgraphs,
		ownership: make(map[string][]*Subgraph),
	}
	if err := sg.composeSchema(); err != nil {
		return nil, err
	}
	sg.buildOwnership()
	return sg, nil
}

// composeSchema merges every subgraph's type definitions into one schema
// and validates the result.
func (sg *Supergraph) composeSchema() error {
	doc, err := parser.ParseSchemas(validator.Prelude, federationPrelude)
	if err != nil {
		return err
	}
	merged := make(map[string]*ast.Definition)
	for _, def := range doc.Definitions {
		merged[def.Name] = def
	}

	var interfaceObjects []string
	for _, sub := range sg.Subgraphs {
		for _, name := range sub.Schema().InterfaceObjects() {
			interfaceObjects = append(interfaceObjects, name)
		}
		for name, def := range sub.Schema().AST().Types {
			if def.BuiltIn {
				continue
			}
			existing, ok := merged[name]
			if !ok {
				copied := copyDefinition(def)
				merged[name] = copied
				doc.Definitions = append(doc.Definitions, copied)
				continue
			}
			if err := mergeDefinition(existing, def); err != nil {
				return fmt.Errorf("composing type %s: %w", name, err)
			}
		}
	}

	// An @interfaceObject declaration is an object stand-in for an
	// interface owned elsewhere. The composed type keeps the interface
	// kind; the stand-in's fields were merged above.
	for _, name := range interfaceObjects {
		if def, ok := merged[name]; ok && def.Kind == ast.Object {
			def.Kind = ast.Interface
		}
	}

	// Fields a stand-in contributed exist on the interface but not on
	// implementers declared in other subgraphs. Propagate them so the
	// merged schema validates and the fields are selectable on every
	// runtime type.
	for _, def := range merged {
		if def.Kind != ast.Object {
			continue
		}
		for _, ifaceName := range def.Interfaces {
			iface, ok := merged[ifaceName]
			if !ok {
				continue
			}
			for _, field := range iface.Fields {
				if def.Fields.ForName(field.Name) == nil {
					def.Fields = append(def.Fields, field)
				}
			}
		}
	}

	astSchema, err := validator.ValidateSchemaDocument(doc)
	if err != nil {
		return fmt.Errorf("composed schema is invalid: %w", err)
	}
	sg.schema = schema.New(astSchema,
		schema.WithName("supergraph"),
		schema.WithInterfaceObjects(interfaceObjects...))
	return nil
}

func copyDefinition(def *ast.Definition) *ast.Definition {
	copied := *def
	// Validated subgraph schemas carry the __schema and __type meta
	// fields on their Query type; those must not re-enter the document.
	copied.Fields = nil
	for _, field := range def.Fields {
		if strings.HasPrefix(field.Name, "__") {
			continue
		}
		copied.Fields = append(copied.Fields, field)
	}
	copied.EnumValues = append(ast.EnumValueList(nil), def.EnumValues...)
	copied.Types = append([]string(nil), def.Types...)
	copied.Interfaces = append([]string(nil), def.Interfaces...)
	return &copied
}

func mergeDefinition(existing, incoming *ast.Definition) error {
	if existing.Kind != incoming.Kind &&
		!(existing.Kind == ast.Interface && incoming.Kind == ast.Object) &&
		!(existing.Kind == ast.Object && incoming.Kind == ast.Interface) {
		return fmt.Errorf("kind mismatch: %s vs %s", existing.Kind, incoming.Kind)
	}
	// One side may be an @interfaceObject stand-in; the interface kind
	// wins.
	if incoming.Kind == ast.Interface {
		existing.Kind = ast.Interface
	}

	switch {
	case len(incoming.Fields) > 0:
		for _, field := range incoming.Fields {
			if strings.HasPrefix(field.Name, "__") {
				continue
			}
			if existing.Fields.ForName(field.Name) == nil {
				existing.Fields = append(existing.Fields, field)
			}
		}
	case len(incoming.EnumValues) > 0:
		for _, v := range incoming.EnumValues {
			if existing.EnumValues.ForName(v.Name) == nil {
				existing.EnumValues = append(existing.EnumValues, v)
			}
		}
	case len(incoming.Types) > 0:
		for _, member := range incoming.Types {
			found := false
			for _, t := range existing.Types {
				if t == member {
					found = true
					break
				}
			}
			if !found {
				existing.Types = append(existing.Types, member)
			}
		}
	}
	for _, iface := range incoming.Interfaces {
		found := false
		for _, t := range existing.Interfaces {
			if t == iface {
				found = true
				break
			}
		}
		if !found {
			existing.Interfaces = append(existing.Interfaces, iface)
		}
	}
	return nil
}

// buildOwnership records, per composed field, which subgraphs resolve
// it. A field overridden with @override(from: X) is removed from X's
// ownership even while X still serves it during migration.
func (sg *Supergraph) buildOwnership() {
	for typeName, def := range sg.schema.AST().Types {
		if def.BuiltIn || (def.Kind != ast.Object && def.Kind != ast.Interface) {
			continue
		}
		for _, field := range def.Fields {
			if strings.HasPrefix(field.Name, "__") {
				continue
			}
			key := typeName + "." + field.Name

			var overrideFrom string
			var overriding *Subgraph
			for _, sub := range sg.Subgraphs {
				if from := sub.FieldOverrideFrom(typeName, field.Name); from != "" {
					overrideFrom = from
					overriding = sub
					break
				}
			}

			for _, sub := range sg.Subgraphs {
				if overrideFrom != "" && sub.Name == overrideFrom {
					continue
				}
				if sub.CanResolveField(typeName, field.Name) {
					sg.ownership[key] = append(sg.ownership[key], sub)
				}
			}
			if overriding != nil {
				found := false
				for _, owner := range sg.ownership[key] {
					if owner.Name == overriding.Name {
						found = true
						break
					}
				}
				if !found {
					sg.ownership[key] = append(sg.ownership[key], overriding)
				}
			}
		}
	}
}

// Schema returns the composed schema clients query against.
func (sg *Supergraph) Schema() *schema.Schema { return sg.schema }

// Subgraph returns the subgraph with the given name.
func (sg *Supergraph) Subgraph(name string) *Subgraph {
	for _, sub := range sg.Subgraphs {
		if sub.Name == name {
			return sub
		}
	}
	return nil
}

// FieldOwners returns the subgraphs able to resolve Type.field.
func (sg *Supergraph) FieldOwners(typeName, fieldName string) []*Subgraph {
	return sg.ownership[typeName+"."+fieldName]
}

// FieldOwner returns the preferred subgraph for Type.field: the first
// owner, or nil when no subgraph resolves it.
func (sg *Supergraph) FieldOwner(typeName, fieldName string) *Subgraph {
	owners := sg.ownership[typeName+"."+fieldName]
	if len(owners) == 0 {
		return nil
	}
	return owners[0]
}

// EntityOwner returns the subgraph that defines the entity, preferring
// non-extension declarations with a resolvable key. Nil when the type is
// not a resolvable entity anywhere.
func (sg *Supergraph) EntityOwner(typeName string) *Subgraph {
	for _, sub := range sg.Subgraphs {
		if e, ok := sub.Entity(typeName); ok && !e.IsExtension() && e.IsResolvable() {
			return sub
		}
	}
	for _, sub := range sg.Subgraphs {
		if e, ok := sub.Entity(typeName); ok && e.IsResolvable() {
			return sub
		}
	}
	return nil
}

// IsEntityType reports whether any subgraph can resolve the type through
// the entities mechanism.
func (sg *Supergraph) IsEntityType(typeName string) bool {
	return sg.EntityOwner(typeName) != nil
}

// EntityKeyFields returns the field names of the entity's primary key,
// as declared by its owner.
func (sg *Supergraph) EntityKeyFields(typeName string) []string {
	owner := sg.EntityOwner(typeName)
	if owner == nil {
		return nil
	}
	e, _ := owner.Entity(typeName)
	return e.PrimaryKey().Fields()
}

// FieldIsInaccessible reports whether any subgraph marks the field
// @inaccessible, which removes it from the API contract.
func (sg *Supergraph) FieldIsInaccessible(typeName, fieldName string) bool {
	for _, sub := range sg.Subgraphs {
		if sub.FieldIsInaccessible(typeName, fieldName) {
			return true
		}
	}
	return false
}
