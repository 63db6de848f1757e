package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vektah/gqlparser/v2/ast"
)

func mustSupergraph(t *testing.T, subgraphs ...*Subgraph) *Supergraph {
	t.Helper()
	sg, err := NewSupergraph(subgraphs...)
	if err != nil {
		t.Fatalf("NewSupergraph: %v", err)
	}
	return sg
}

func ownerNames(owners []*Subgraph) []string {
	names := make([]string, 0, len(owners))
	for _, o := range owners {
		names = append(names, o.Name)
	}
	return names
}

func TestComposeMergesEntityFields(t *testing.T) {
	accounts := mustSubgraph(t, "accounts", accountsSDL)
	reviews := mustSubgraph(t, "reviews", reviewsSDL)
	sg := mustSupergraph(t, accounts, reviews)

	user := sg.Schema().Type("User")
	if user == nil {
		t.Fatalf("composed schema lost the User type")
	}
	for _, field := range []string{"id", "name", "username", "reviews"} {
		if user.Fields.ForName(field) == nil {
			t.Errorf("User.%s missing from the composed schema", field)
		}
	}
	if sg.Schema().Type("Review") == nil {
		t.Errorf("reviews-only type missing from the composed schema")
	}
}

func TestComposeMergesQueryFromEveryDefiner(t *testing.T) {
	// Validated subgraph schemas carry the injected __schema and __type
	// meta fields on Query; composition must not copy those into the
	// merged document or its validation rejects the reserved names.
	alpha := mustSubgraph(t, "alpha", `type Query { version: String }`)
	beta := mustSubgraph(t, "beta", `type Query { uptime: Int }`)
	sg := mustSupergraph(t, alpha, beta)

	q := sg.Schema().Type("Query")
	for _, field := range []string{"version", "uptime"} {
		if q.Fields.ForName(field) == nil {
			t.Errorf("Query.%s missing from the composed schema", field)
		}
	}
	seen := 0
	for _, field := range q.Fields {
		if field.Name == "__schema" {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("composed Query carries %d __schema fields, want exactly 1", seen)
	}
}

func TestComposeOwnershipHonorsExternal(t *testing.T) {
	accounts := mustSubgraph(t, "accounts", accountsSDL)
	reviews := mustSubgraph(t, "reviews", reviewsSDL)
	sg := mustSupergraph(t, accounts, reviews)

	// id is @external in reviews, so accounts is the only owner.
	if diff := cmp.Diff([]string{"accounts"}, ownerNames(sg.FieldOwners("User", "id"))); diff != "" {
		t.Errorf("User.id owners (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"reviews"}, ownerNames(sg.FieldOwners("User", "reviews"))); diff != "" {
		t.Errorf("User.reviews owners (-want +got):\n%s", diff)
	}
	if owner := sg.FieldOwner("Query", "me"); owner == nil || owner.Name != "accounts" {
		t.Errorf("Query.me owner = %v, want accounts", owner)
	}
	if owner := sg.FieldOwner("User", "nope"); owner != nil {
		t.Errorf("unknown field got an owner: %s", owner.Name)
	}
}

func TestComposeOverrideMovesOwnership(t *testing.T) {
	products := mustSubgraph(t, "products", `
		type Query {
			topProducts: [Product!]
		}

		type Product @key(fields: "sku") {
			sku: ID!
			name: String
			price: Int
		}
	`)
	inventory := mustSubgraph(t, "inventory", `
		type Product @key(fields: "sku") {
			sku: ID! @external
			inStock: Boolean
			price: Int @override(from: "products")
		}
	`)
	sg := mustSupergraph(t, products, inventory)

	// products still serves price during migration but is no longer an
	// owner; inventory is.
	if diff := cmp.Diff([]string{"inventory"}, ownerNames(sg.FieldOwners("Product", "price"))); diff != "" {
		t.Errorf("Product.price owners (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"products"}, ownerNames(sg.FieldOwners("Product", "name"))); diff != "" {
		t.Errorf("Product.name owners (-want +got):\n%s", diff)
	}
}

func TestEntityOwnerPrefersResolvableDefinition(t *testing.T) {
	// reviews declares User first but only as an extension; shipping only
	// holds an unresolvable stub. accounts must win.
	reviews := mustSubgraph(t, "reviews", reviewsSDL)
	shipping := mustSubgraph(t, "shipping", `
		type Shipment @key(fields: "id") {
			id: ID!
			recipient: User
		}

		type User @key(fields: "id", resolvable: false) {
			id: ID!
		}
	`)
	accounts := mustSubgraph(t, "accounts", accountsSDL)
	sg := mustSupergraph(t, reviews, shipping, accounts)

	owner := sg.EntityOwner("User")
	if owner == nil || owner.Name != "accounts" {
		t.Fatalf("EntityOwner(User) = %v, want accounts", owner)
	}
	if !sg.IsEntityType("User") {
		t.Errorf("User not recognized as an entity type")
	}
	if sg.IsEntityType("Query") {
		t.Errorf("Query recognized as an entity type")
	}
	if diff := cmp.Diff([]string{"id"}, sg.EntityKeyFields("User")); diff != "" {
		t.Errorf("EntityKeyFields(User) (-want +got):\n%s", diff)
	}

	// Fall back to the extension when no definition is resolvable.
	sgExtOnly := mustSupergraph(t, reviews, shipping)
	owner = sgExtOnly.EntityOwner("User")
	if owner == nil || owner.Name != "reviews" {
		t.Errorf("EntityOwner(User) without a definition = %v, want reviews", owner)
	}
}

func TestComposeInterfaceObject(t *testing.T) {
	catalog := mustSubgraph(t, "catalog", `
		type Query {
			media(id: ID!): Media
		}

		interface Media @key(fields: "id") {
			id: ID!
			title: String
		}

		type Book implements Media @key(fields: "id") {
			id: ID!
			title: String
			pages: Int
		}
	`)
	ratings := mustSubgraph(t, "ratings", `
		type Media @key(fields: "id") @interfaceObject {
			id: ID!
			reviewCount: Int
		}
	`)
	sg := mustSupergraph(t, catalog, ratings)

	media := sg.Schema().Type("Media")
	if media == nil || media.Kind != ast.Interface {
		t.Fatalf("composed Media kind = %v, want interface", media)
	}
	if media.Fields.ForName("reviewCount") == nil {
		t.Errorf("stand-in field reviewCount missing from the interface")
	}
	// The stand-in's fields must be selectable on every runtime type.
	book := sg.Schema().Type("Book")
	if book.Fields.ForName("reviewCount") == nil {
		t.Errorf("reviewCount not propagated to Book")
	}
	if !sg.Schema().IsInterfaceObject("Media") {
		t.Errorf("composed schema lost the interface-object marker")
	}
}

func TestComposeInaccessibleSpansSubgraphs(t *testing.T) {
	accounts := mustSubgraph(t, "accounts", accountsSDL)
	reviews := mustSubgraph(t, "reviews", reviewsSDL)
	sg := mustSupergraph(t, accounts, reviews)

	if !sg.FieldIsInaccessible("User", "username") {
		t.Errorf("@inaccessible not visible through the supergraph")
	}
	if sg.FieldIsInaccessible("User", "reviews") {
		t.Errorf("plain field reported inaccessible")
	}
}

func TestComposeRejectsKindMismatch(t *testing.T) {
	a := mustSubgraph(t, "a", `
		type Query { thing: Thing }
		type Thing { id: ID! }
	`)
	b := mustSubgraph(t, "b", `
		type Query { other: String }
		enum Thing { ONE TWO }
	`)
	if _, err := NewSupergraph(a, b); err == nil {
		t.Errorf("object vs enum composed without error")
	}
}

func TestComposeRequiresSubgraphs(t *testing.T) {
	if _, err := NewSupergraph(); err == nil {
		t.Errorf("empty composition succeeded")
	}
}

func TestSupergraphLookupByName(t *testing.T) {
	accounts := mustSubgraph(t, "accounts", accountsSDL)
	sg := mustSupergraph(t, accounts)
	if sg.Subgraph("accounts") != accounts {
		t.Errorf("Subgraph(accounts) did not return the registered subgraph")
	}
	if sg.Subgraph("ghost") != nil {
		t.Errorf("unknown subgraph lookup returned non-nil")
	}
}
