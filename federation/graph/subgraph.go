package graph

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/apollographql/router-sub000/federation/schema"
)

// federationPrelude defines the federation directives subgraph schemas
// use, so they validate without each subgraph re-declaring them.
var federationPrelude = &ast.Source{
	Name: "federation-prelude.graphql",
	Input: `
scalar _FieldSet
scalar _Any

directive @key(fields: _FieldSet!, resolvable: Boolean = true) repeatable on OBJECT | INTERFACE
directive @external on OBJECT | FIELD_DEFINITION
directive @requires(fields: _FieldSet!) on FIELD_DEFINITION
directive @provides(fields: _FieldSet!) on FIELD_DEFINITION
directive @shareable repeatable on OBJECT | FIELD_DEFINITION
directive @override(from: String!) on FIELD_DEFINITION
directive @inaccessible on FIELD_DEFINITION | OBJECT | INTERFACE | UNION | ARGUMENT_DEFINITION | SCALAR | ENUM | ENUM_VALUE | INPUT_OBJECT | INPUT_FIELD_DEFINITION
directive @interfaceObject on OBJECT
directive @extends on OBJECT | INTERFACE
directive @tag(name: String!) repeatable on FIELD_DEFINITION | OBJECT | INTERFACE | UNION | ARGUMENT_DEFINITION | SCALAR | ENUM | ENUM_VALUE | INPUT_OBJECT | INPUT_FIELD_DEFINITION
directive @composeDirective(name: String!) repeatable on SCHEMA
`,
}

// EntityKey is one @key of an entity type.
type EntityKey struct {
	// FieldSet is the raw fields argument, e.g. "id" or "number date".
	FieldSet string
	// Resolvable is false for key stubs that reference the entity but
	// cannot resolve it.
	Resolvable bool
}

// Fields returns the individual field names of the key set.
func (k EntityKey) Fields() []string { return strings.Fields(k.FieldSet) }

// Entity describes a type the subgraph declares with @key.
type Entity struct {
	Name string
	Keys []EntityKey

	isExtension       bool
	isInterfaceObject bool
}

// IsExtension reports whether the subgraph extends the entity rather
// than defining it.
func (e *Entity) IsExtension() bool { return e.isExtension }

// IsInterfaceObject reports whether the entity carries @interfaceObject.
func (e *Entity) IsInterfaceObject() bool { return e.isInterfaceObject }

// IsResolvable reports whether at least one key is resolvable. A type
// whose every key says resolvable: false is a stub.
func (e *Entity) IsResolvable() bool {
	for _, key := range e.Keys {
		if key.Resolvable {
			return true
		}
	}
	return false
}

// PrimaryKey returns the first resolvable key, or the first key when
// none is resolvable.
func (e *Entity) PrimaryKey() EntityKey {
	for _, key := range e.Keys {
		if key.Resolvable {
			return key
		}
	}
	return e.Keys[0]
}

// Subgraph is one federated service: its endpoint and its validated
// schema, with entity metadata extracted from the federation directives.
type Subgraph struct {
	Name string
	URL  string

	schema   *schema.Schema
	entities map[string]*Entity
}

// NewSubgraph parses and validates a subgraph SDL. Type extensions
// without a local base definition are promoted to definitions, which is
// how pre-v2 subgraphs declare entities owned elsewhere.
func NewSubgraph(name, url string, sdl string) (*Subgraph, error) {
	doc, err := parser.ParseSchemas(validator.Prelude, federationPrelude, &ast.Source{
		Name:  name + ".graphqls",
		Input: sdl,
	})
	if err != nil {
		return nil, fmt.Errorf("subgraph %s: %w", name, err)
	}

	extensions := make(map[string]bool)
	defined := make(map[string]bool)
	for _, def := range doc.Definitions {
		defined[def.Name] = true
		if def.Directives.ForName("extends") != nil {
			extensions[def.Name] = true
		}
	}
	var keep ast.DefinitionList
	for _, ext := range doc.Extensions {
		extensions[ext.Name] = true
		if defined[ext.Name] {
			keep = append(keep, ext)
			continue
		}
		doc.Definitions = append(doc.Definitions, ext)
		defined[ext.Name] = true
	}
	doc.Extensions = keep

	astSchema, err := validator.ValidateSchemaDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("subgraph %s: %w", name, err)
	}

	sg := &Subgraph{
		Name:     name,
		URL:      url,
		entities: make(map[string]*Entity),
	}
	var interfaceObjects []string
	for typeName, def := range astSchema.Types {
		isInterfaceObject := def.Directives.ForName("interfaceObject") != nil
		if isInterfaceObject {
			interfaceObjects = append(interfaceObjects, typeName)
		}
		keys := entityKeys(def.Directives)
		if len(keys) == 0 {
			continue
		}
		sg.entities[typeName] = &Entity{
			Name:              typeName,
			Keys:              keys,
			isExtension:       extensions[typeName],
			isInterfaceObject: isInterfaceObject,
		}
	}
	sg.schema = schema.New(astSchema,
		schema.WithName(name),
		schema.WithInterfaceObjects(interfaceObjects...))
	return sg, nil
}

func entityKeys(directives ast.DirectiveList) []EntityKey {
	var keys []EntityKey
	for _, d := range directives {
		if d.Name != "key" {
			continue
		}
		key := EntityKey{Resolvable: true}
		if arg := d.Arguments.ForName("fields"); arg != nil {
			key.FieldSet = arg.Value.Raw
		}
		if arg := d.Arguments.ForName("resolvable"); arg != nil && arg.Value.Raw == "false" {
			key.Resolvable = false
		}
		keys = append(keys, key)
	}
	return keys
}

// Schema returns the subgraph's validated schema.
func (sg *Subgraph) Schema() *schema.Schema { return sg.schema }

// Entities returns the subgraph's entity metadata by type name.
func (sg *Subgraph) Entities() map[string]*Entity { return sg.entities }

// Entity returns the entity metadata for a type name, if the subgraph
// declares it with @key.
func (sg *Subgraph) Entity(name string) (*Entity, bool) {
	e, ok := sg.entities[name]
	return e, ok
}

// CanResolveField reports whether the subgraph defines the field and can
// resolve it itself, which excludes fields marked @external.
func (sg *Subgraph) CanResolveField(typeName, fieldName string) bool {
	def := sg.schema.Type(typeName)
	if def == nil {
		return false
	}
	if fieldName == schema.TypenameFieldName {
		return true
	}
	field := def.Fields.ForName(fieldName)
	if field == nil {
		return false
	}
	return field.Directives.ForName("external") == nil
}

// FieldOverrideFrom returns the from argument of @override on the given
// field, or an empty string.
func (sg *Subgraph) FieldOverrideFrom(typeName, fieldName string) string {
	def := sg.schema.Type(typeName)
	if def == nil {
		return ""
	}
	field := def.Fields.ForName(fieldName)
	if field == nil {
		return ""
	}
	d := field.Directives.ForName("override")
	if d == nil {
		return ""
	}
	if arg := d.Arguments.ForName("from"); arg != nil {
		return arg.Value.Raw
	}
	return ""
}

// FieldIsInaccessible reports whether the field carries @inaccessible in
// this subgraph.
func (sg *Subgraph) FieldIsInaccessible(typeName, fieldName string) bool {
	def := sg.schema.Type(typeName)
	if def == nil {
		return false
	}
	field := def.Fields.ForName(fieldName)
	return field != nil && field.Directives.ForName("inaccessible") != nil
}
