package planner

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"go.uber.org/zap"

	"github.com/apollographql/router-sub000/federation/graph"
	"github.com/apollographql/router-sub000/federation/operation"
)

// StepType distinguishes root fetches from entity fetches.
type StepType int

const (
	// StepTypeRoot fetches root fields directly from a subgraph.
	StepTypeRoot StepType = iota
	// StepTypeEntity fetches entity fields through _entities, fed with
	// representations extracted from an earlier step's data.
	StepTypeEntity
)

// Step is one subgraph fetch of a plan.
type Step struct {
	ID       int
	Subgraph *graph.Subgraph
	Type     StepType

	// ParentType is the entity type being resolved; set for entity steps.
	ParentType string
	// KeyFields are the entity's key field names, read from parent data
	// to build representations.
	KeyFields []string
	// DependsOn lists steps whose data must be merged before this one
	// runs.
	DependsOn []int
	// InsertionPath locates, from the response root, the objects this
	// step's data merges into.
	InsertionPath []operation.PathElement

	// Query is the document sent to the subgraph.
	Query string
	// VariableNames are the request variables the query uses.
	VariableNames []string
	// OutputRewrites rename response keys the planner aliased to avoid
	// conflicts back to the names the client asked for.
	OutputRewrites []operation.FieldToAlias
	// ResponseKeys are the top-level response names the fetch produces,
	// used for error paths and null filling.
	ResponseKeys []string
}

// Plan is an ordered set of subgraph fetches answering one operation.
// Steps are listed in dependency order.
type Plan struct {
	Steps     []*Step
	RootSteps []int
	// Operation is the normalized client operation, used to shape the
	// final response.
	Operation *operation.Operation
	HasDefer  bool
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the planner's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Planner) { p.logger = logger }
}

// WithCacheSize sets how many plans are kept, keyed by query text and
// operation name. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(p *Planner) { p.cacheSize = n }
}

// Planner turns client operations into per-subgraph fetch plans.
type Planner struct {
	supergraph *graph.Supergraph
	logger     *zap.Logger
	cacheSize  int
	cache      *lru.Cache
}

// New builds a Planner for the composed graph.
func New(supergraph *graph.Supergraph, opts ...Option) (*Planner, error) {
	p := &Planner{
		supergraph: supergraph,
		logger:     zap.NewNop(),
		cacheSize:  256,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cacheSize > 0 {
		cache, err := lru.New(p.cacheSize)
		if err != nil {
			return nil, err
		}
		p.cache = cache
	}
	return p, nil
}

func planCacheKey(query, operationName string) uint64 {
	d := xxhash.New()
	d.WriteString(query)
	d.Write([]byte{0})
	d.WriteString(operationName)
	return d.Sum64()
}

// Plan validates the query against the composed schema, normalizes it
// and splits it into subgraph fetches.
func (p *Planner) Plan(query, operationName string) (*Plan, error) {
	key := planCacheKey(query, operationName)
	if p.cache != nil {
		if cached, ok := p.cache.Get(key); ok {
			return cached.(*Plan), nil
		}
	}

	doc, errs := gqlparser.LoadQuery(p.supergraph.Schema().AST(), query)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid query: %w", errs)
	}
	op, err := operation.FromQueryDocument(p.supergraph.Schema(), doc, operationName)
	if err != nil {
		return nil, err
	}

	plan, err := p.planOperation(op)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("planned operation",
		zap.String("operation", op.Name()),
		zap.Int("steps", len(plan.Steps)))
	if p.cache != nil {
		p.cache.Add(key, plan)
	}
	return plan, nil
}

type rootGroup struct {
	subgraph   *graph.Subgraph
	selections []operation.Selection
}

func (p *Planner) planOperation(op *operation.Operation) (*Plan, error) {
	rootType := op.SelectionSet().TypePosition()
	rebased := operation.NewRebasedFragments(op.Fragments())

	groups, err := p.groupRootFields(op, rootType)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Operation: op, HasDefer: op.HasDefer()}
	for _, group := range groups {
		groupSet, err := operation.NewSelectionSet(p.supergraph.Schema(), rootType, group.selections...)
		if err != nil {
			return nil, err
		}
		kept, boundaries, err := p.splitForSubgraph(group.subgraph, groupSet, nil)
		if err != nil {
			return nil, err
		}

		subRoot := group.subgraph.Schema().RootType(op.Kind())
		if subRoot == nil {
			return nil, fmt.Errorf("subgraph %s defines no %s root type", group.subgraph.Name, op.Kind())
		}
		step, err := p.buildStep(op, rebased, group.subgraph, kept, func(ss *operation.SelectionSet, vars ast.VariableDefinitionList, frags []*operation.Fragment) string {
			return buildRootQuery(op.Kind(), op.Name(), vars, ss, frags)
		}, subRoot.Name)
		if err != nil {
			return nil, err
		}
		step.ID = len(plan.Steps)
		step.Type = StepTypeRoot
		plan.Steps = append(plan.Steps, step)
		plan.RootSteps = append(plan.RootSteps, step.ID)

		if err := p.buildEntitySteps(plan, op, rebased, boundaries, step.ID); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// groupRootFields partitions the operation's top level by owning
// subgraph, preserving field order. A root __typename joins the first
// group.
func (p *Planner) groupRootFields(op *operation.Operation, rootType *ast.Definition) ([]*rootGroup, error) {
	var groups []*rootGroup
	byName := make(map[string]*rootGroup)
	var typenames []operation.Selection

	for _, sel := range op.SelectionSet().Selections() {
		fs, ok := sel.(*operation.FieldSelection)
		if !ok {
			return nil, fmt.Errorf("fragments on the %s root are not supported", op.Kind())
		}
		if fs.Field().IsTypename() {
			typenames = append(typenames, sel)
			continue
		}
		owner := p.supergraph.FieldOwner(rootType.Name, fs.Field().Name())
		if owner == nil {
			return nil, fmt.Errorf("no subgraph resolves %s.%s", rootType.Name, fs.Field().Name())
		}
		group, ok := byName[owner.Name]
		if !ok {
			group = &rootGroup{subgraph: owner}
			byName[owner.Name] = group
			groups = append(groups, group)
		}
		group.selections = append(group.selections, sel)
	}

	if len(typenames) > 0 {
		if len(groups) == 0 {
			for _, sub := range p.supergraph.Subgraphs {
				if sub.Schema().RootType(op.Kind()) != nil {
					groups = append(groups, &rootGroup{subgraph: sub})
					break
				}
			}
			if len(groups) == 0 {
				return nil, fmt.Errorf("no subgraph serves %s operations", op.Kind())
			}
		}
		groups[0].selections = append(typenames, groups[0].selections...)
	}
	return groups, nil
}

// boundary is a group of selections that the current subgraph cannot
// resolve and another subgraph must, via an entity fetch at path.
type boundary struct {
	owner      *graph.Subgraph
	typeName   string
	path       []operation.PathElement
	selections []operation.Selection
}

// splitForSubgraph walks the selection tree keeping what sub can resolve
// and collecting the rest into boundaries grouped by owning subgraph and
// position. Levels that spawn a boundary get the entity's key fields and
// __typename injected so representations can be built from the fetched
// data.
func (p *Planner) splitForSubgraph(sub *graph.Subgraph, ss *operation.SelectionSet, path []operation.PathElement) (*operation.SelectionSet, []*boundary, error) {
	typeName := ss.TypePosition().Name
	var kept []operation.Selection
	var boundaries []*boundary
	needsKey := false

	for _, sel := range ss.Selections() {
		switch s := sel.(type) {
		case *operation.FieldSelection:
			field := s.Field()
			if field.IsTypename() {
				kept = append(kept, s)
				continue
			}
			if !sub.CanResolveField(typeName, field.Name()) {
				owner := p.supergraph.FieldOwner(typeName, field.Name())
				if owner == nil {
					return nil, nil, fmt.Errorf("no subgraph resolves %s.%s", typeName, field.Name())
				}
				if !p.supergraph.IsEntityType(typeName) {
					return nil, nil, fmt.Errorf("field %s.%s lives in subgraph %s but %s is not an entity",
						typeName, field.Name(), owner.Name, typeName)
				}
				boundaries = addToBoundary(boundaries, owner, typeName, path, s)
				needsKey = true
				continue
			}
			if s.SelectionSet() == nil {
				kept = append(kept, s)
				continue
			}
			subPath := extendPath(path, operation.KeyPathElement(field.ResponseName()))
			subKept, subBoundaries, err := p.splitForSubgraph(sub, s.SelectionSet(), subPath)
			if err != nil {
				return nil, nil, err
			}
			boundaries = append(boundaries, subBoundaries...)
			if !subKept.IsEmpty() {
				kept = append(kept, operation.NewFieldSelection(field, subKept))
			}
		case *operation.InlineFragmentSelection:
			subPath := path
			if cond := s.InlineFragment().TypeCondition(); cond != nil {
				subPath = extendPath(path, operation.TypenamePathElement(cond.Name))
			}
			subKept, subBoundaries, err := p.splitForSubgraph(sub, s.SelectionSet(), subPath)
			if err != nil {
				return nil, nil, err
			}
			boundaries = append(boundaries, subBoundaries...)
			if !subKept.IsEmpty() {
				kept = append(kept, operation.NewInlineFragmentSelection(s.InlineFragment(), subKept))
			}
		case *operation.FragmentSpreadSelection:
			return nil, nil, fmt.Errorf("unexpected fragment spread in normalized operation")
		}
	}

	if needsKey {
		injected, err := p.keySelections(ss.TypePosition())
		if err != nil {
			return nil, nil, err
		}
		kept = append(kept, injected...)
	}
	keptSet, err := operation.NewSelectionSet(p.supergraph.Schema(), ss.TypePosition(), kept...)
	if err != nil {
		return nil, nil, err
	}
	return keptSet, boundaries, nil
}

// keySelections returns __typename plus the entity's key fields, built
// on the composed schema, for injection into a parent fetch.
func (p *Planner) keySelections(parent *ast.Definition) ([]operation.Selection, error) {
	sch := p.supergraph.Schema()
	names := append([]string{"__typename"}, p.supergraph.EntityKeyFields(parent.Name)...)
	out := make([]operation.Selection, 0, len(names))
	for _, name := range names {
		field, err := operation.NewField(sch, parent, name, "", nil, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, operation.NewFieldSelection(field, nil))
	}
	return out, nil
}

func addToBoundary(boundaries []*boundary, owner *graph.Subgraph, typeName string, path []operation.PathElement, sel operation.Selection) []*boundary {
	for _, b := range boundaries {
		if b.owner == owner && b.typeName == typeName && samePath(b.path, path) {
			b.selections = append(b.selections, sel)
			return boundaries
		}
	}
	return append(boundaries, &boundary{
		owner:      owner,
		typeName:   typeName,
		path:       path,
		selections: []operation.Selection{sel},
	})
}

func samePath(a, b []operation.PathElement) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func extendPath(path []operation.PathElement, elem operation.PathElement) []operation.PathElement {
	out := make([]operation.PathElement, 0, len(path)+1)
	out = append(out, path...)
	return append(out, elem)
}

// buildEntitySteps creates one entity fetch per boundary and recurses
// for fields those fetches cannot themselves resolve.
func (p *Planner) buildEntitySteps(plan *Plan, op *operation.Operation, rebased *operation.RebasedFragments, boundaries []*boundary, dependsOn int) error {
	for _, b := range boundaries {
		entityDef, err := p.supergraph.Schema().CompositeType(b.typeName)
		if err != nil {
			return err
		}
		entitySet, err := operation.NewSelectionSet(p.supergraph.Schema(), entityDef, b.selections...)
		if err != nil {
			return err
		}
		kept, nested, err := p.splitForSubgraph(b.owner, entitySet, b.path)
		if err != nil {
			return err
		}
		ownerDef := b.owner.Schema().Type(b.typeName)
		if ownerDef == nil {
			return fmt.Errorf("subgraph %s does not define entity type %s", b.owner.Name, b.typeName)
		}
		typeName := b.typeName
		step, err := p.buildStep(op, rebased, b.owner, kept, func(ss *operation.SelectionSet, vars ast.VariableDefinitionList, frags []*operation.Fragment) string {
			return buildEntityQuery(typeName, vars, ss, frags)
		}, b.typeName)
		if err != nil {
			return err
		}
		step.ID = len(plan.Steps)
		step.Type = StepTypeEntity
		step.ParentType = b.typeName
		step.KeyFields = p.supergraph.EntityKeyFields(b.typeName)
		step.DependsOn = []int{dependsOn}
		step.InsertionPath = b.path
		plan.Steps = append(plan.Steps, step)

		if err := p.buildEntitySteps(plan, op, rebased, nested, step.ID); err != nil {
			return err
		}
	}
	return nil
}

// buildStep rebases the kept selections onto the target subgraph,
// resolves response-name conflicts with aliases and renders the fetch
// document.
func (p *Planner) buildStep(
	op *operation.Operation,
	rebased *operation.RebasedFragments,
	sub *graph.Subgraph,
	kept *operation.SelectionSet,
	render func(*operation.SelectionSet, ast.VariableDefinitionList, []*operation.Fragment) string,
	targetTypeName string,
) (*Step, error) {
	frags, err := rebased.ForSubgraph(sub.Name, sub.Schema())
	if err != nil {
		return nil, err
	}
	target, err := sub.Schema().CompositeType(targetTypeName)
	if err != nil {
		return nil, fmt.Errorf("subgraph %s: %w", sub.Name, err)
	}
	rb, err := kept.RebaseOn(target, frags, sub.Schema(), operation.IgnoreError)
	if err != nil {
		return nil, err
	}
	if rb.IsEmpty() {
		return nil, fmt.Errorf("subgraph %s cannot serve any of the selections on %s", sub.Name, targetTypeName)
	}
	aliased, rewrites, err := rb.AddAliasesForNonMergingFields()
	if err != nil {
		return nil, err
	}

	fragments := usedFragments(aliased, frags)
	names := collectVariableNames(aliased, fragments)
	step := &Step{
		Subgraph:       sub,
		Query:          render(aliased, variableDefinitions(op, names), fragments),
		VariableNames:  names,
		OutputRewrites: rewrites,
		ResponseKeys:   topLevelResponseKeys(aliased),
	}
	return step, nil
}

func topLevelResponseKeys(ss *operation.SelectionSet) []string {
	var keys []string
	for _, sel := range ss.Selections() {
		if fs, ok := sel.(*operation.FieldSelection); ok {
			keys = append(keys, fs.Field().ResponseName())
		}
	}
	return keys
}
